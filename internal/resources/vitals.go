package resources

import (
	"time"

	"owl-care/internal/domain"
)

// vitalsDescriptor 生命体征：每位在住住户每天上午、下午各一条
func vitalsDescriptor() *Descriptor {
	return &Descriptor{
		Name:          Vitals,
		OwnerField:    "residentId",
		DateField:     "date",
		SlotField:     "timing",
		Slots:         timingOrder,
		OwnerResource: Residents,
		Fields: map[string]FieldSpec{
			"residentId":      {Kind: KindString, Rule: "required"},
			"date":            {Kind: KindString, Rule: "required,datetime=2006-01-02"},
			"timing":          {Kind: KindString, Rule: "oneof=morning afternoon adhoc previous_day"},
			"temperature":     {Kind: KindString, Rule: "omitempty,numeric"},
			"systolicBp":      {Kind: KindNumber, Rule: "gte=40,lte=300"},
			"diastolicBp":     {Kind: KindNumber, Rule: "gte=20,lte=200"},
			"pulseRate":       {Kind: KindNumber, Rule: "gte=20,lte=250"},
			"respirationRate": {Kind: KindNumber, Rule: "gte=4,lte=80"},
			"spo2":            {Kind: KindNumber, Rule: "gte=50,lte=100"},
			"weight":          {Kind: KindNumber, Rule: "gte=0,lte=300"},
			"staffName":       {Kind: KindString, Rule: "max=100"},
			"notes":           {Kind: KindString, Rule: "max=1000"},
		},
		Defaults: func(owner string, dim domain.Dimension) domain.Fields {
			return domain.Fields{
				"temperature":     nil,
				"systolicBp":      nil,
				"diastolicBp":     nil,
				"pulseRate":       nil,
				"respirationRate": nil,
				"spo2":            nil,
				"weight":          nil,
				"staffName":       nil,
				"notes":           nil,
			}
		},
		Expect: func(owner domain.Owner, _ time.Time) []string {
			if !owner.Active {
				return nil
			}
			return []string{TimingMorning, TimingAfternoon}
		},
	}
}
