package resources

import (
	"time"

	"owl-care/internal/domain"
)

// bathingDescriptor 洗浴记录：按住户的洗浴星期排班；临时加浴用空白行
// 除 residentId 外的字段都需要先指定住户
func bathingDescriptor() *Descriptor {
	return &Descriptor{
		Name:          Bathing,
		OwnerField:    "residentId",
		DateField:     "date",
		SlotField:     "timing",
		Slots:         timingOrder,
		OwnerResource: Residents,
		Fields: map[string]FieldSpec{
			"residentId":  {Kind: KindString, Rule: "required"},
			"date":        {Kind: KindString, Rule: "required,datetime=2006-01-02", OwnerRequired: true},
			"timing":      {Kind: KindString, Rule: "oneof=morning afternoon adhoc previous_day", OwnerRequired: true},
			"bathingType": {Kind: KindString, Rule: "omitempty,oneof=full shower partial wipe skipped", OwnerRequired: true},
			"staffName":   {Kind: KindString, Rule: "max=100", OwnerRequired: true},
			"completed":   {Kind: KindBool, OwnerRequired: true},
			"notes":       {Kind: KindString, Rule: "max=1000", OwnerRequired: true},
		},
		Defaults: func(owner string, dim domain.Dimension) domain.Fields {
			return domain.Fields{
				"bathingType": nil,
				"staffName":   nil,
				"completed":   false,
				"notes":       nil,
			}
		},
		Expect: func(owner domain.Owner, date time.Time) []string {
			if !owner.Active || !owner.BathesOn(date.Weekday()) {
				return nil
			}
			if owner.BathSlot == TimingAfternoon {
				return []string{TimingAfternoon}
			}
			return []string{TimingMorning}
		},
	}
}
