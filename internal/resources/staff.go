package resources

import "owl-care/internal/domain"

// staffDescriptor 员工主数据：无 owner、无维度，不合成占位行
func staffDescriptor() *Descriptor {
	return &Descriptor{
		Name:       Staff,
		SortField:  "sortOrder",
		FloorField: "floor",
		Fields: map[string]FieldSpec{
			"name":      {Kind: KindString, Rule: "required,max=50"},
			"floor":     {Kind: KindString, Rule: "max=20"},
			"role":      {Kind: KindString, Rule: "omitempty,oneof=nurse caregiver manager other"},
			"sortOrder": {Kind: KindNumber, Rule: "gte=0"},
			"active":    {Kind: KindBool},
		},
		Defaults: func(string, domain.Dimension) domain.Fields {
			return domain.Fields{
				"name":      nil,
				"floor":     nil,
				"role":      nil,
				"sortOrder": nil,
				"active":    true,
			}
		},
	}
}
