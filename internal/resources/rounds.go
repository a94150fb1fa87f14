package resources

import (
	"time"

	"owl-care/internal/domain"
)

// roundsDescriptor 巡房（巡视 / 体位变换）：每位住户每个巡房时刻一条，时段为小时
func roundsDescriptor(hours []string) *Descriptor {
	slots := make([]string, 0, 24)
	for h := 0; h < 24; h++ {
		slots = append(slots, twoDigits(h))
	}
	expected := append([]string(nil), hours...)
	return &Descriptor{
		Name:          Rounds,
		OwnerField:    "residentId",
		DateField:     "date",
		SlotField:     "hour",
		Slots:         slots,
		OwnerResource: Residents,
		Fields: map[string]FieldSpec{
			"residentId": {Kind: KindString, Rule: "required"},
			"date":       {Kind: KindString, Rule: "required,datetime=2006-01-02", OwnerRequired: true},
			"hour":       {Kind: KindString, Rule: "len=2,numeric", OwnerRequired: true},
			"roundType":  {Kind: KindString, Rule: "omitempty,oneof=patrol position_change", OwnerRequired: true},
			"position":   {Kind: KindString, Rule: "omitempty,oneof=left right supine sitting", OwnerRequired: true},
			"bedStatus":  {Kind: KindString, Rule: "omitempty,oneof=in_bed out_of_bed unknown", OwnerRequired: true},
			"staffName":  {Kind: KindString, Rule: "max=100", OwnerRequired: true},
			"notes":      {Kind: KindString, Rule: "max=1000", OwnerRequired: true},
		},
		Defaults: func(owner string, dim domain.Dimension) domain.Fields {
			return domain.Fields{
				"roundType": "patrol",
				"position":  nil,
				"bedStatus": nil,
				"staffName": nil,
				"notes":     nil,
			}
		},
		Expect: func(owner domain.Owner, _ time.Time) []string {
			if !owner.Active {
				return nil
			}
			return expected
		},
	}
}

func twoDigits(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}
