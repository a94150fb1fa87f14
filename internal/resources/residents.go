package resources

import (
	"math"
	"strconv"
	"strings"
	"time"

	"owl-care/internal/domain"
)

// residentsDescriptor 住户主数据；同时作为其它页面的 owner 目录
func residentsDescriptor() *Descriptor {
	return &Descriptor{
		Name:       Residents,
		SortField:  "roomNumber",
		FloorField: "floor",
		Fields: map[string]FieldSpec{
			"name":       {Kind: KindString, Rule: "required,max=50"},
			"floor":      {Kind: KindString, Rule: "max=20"},
			"roomNumber": {Kind: KindString, Rule: "max=20"},
			"sortOrder":  {Kind: KindNumber, Rule: "gte=0"},
			"bathDays":   {Kind: KindString, Rule: "max=40"},
			"bathSlot":   {Kind: KindString, Rule: "omitempty,oneof=morning afternoon"},
			"active":     {Kind: KindBool},
		},
		Defaults: func(string, domain.Dimension) domain.Fields {
			return domain.Fields{"active": true}
		},
	}
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekdays 解析 "mon,thu" 或 "1,4"（0=周日）
func ParseWeekdays(s string) []time.Weekday {
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if len(part) > 3 {
			part = part[:3]
		}
		if d, ok := weekdayNames[part]; ok {
			days = append(days, d)
			continue
		}
		if n, err := strconv.Atoi(part); err == nil && n >= 0 && n <= 6 {
			days = append(days, time.Weekday(n))
		}
	}
	return days
}

// OwnersFromResidents 把住户记录转换为 owner 目录
// 占位（未持久化）的住户不会成为 owner
func OwnersFromResidents(records []domain.Record) []domain.Owner {
	owners := make([]domain.Owner, 0, len(records))
	for _, r := range records {
		if r.Pending() {
			continue
		}
		owners = append(owners, domain.Owner{
			ID:        r.ID,
			Name:      stringField(r, "name"),
			Floor:     stringField(r, "floor"),
			Room:      stringField(r, "roomNumber"),
			SortOrder: intField(r, "sortOrder"),
			BathDays:  ParseWeekdays(stringField(r, "bathDays")),
			BathSlot:  stringField(r, "bathSlot"),
			Active:    boolField(r, "active", true),
		})
	}
	return owners
}

func stringField(r domain.Record, name string) string {
	v, _ := r.Value(name)
	return asString(v)
}

func intField(r domain.Record, name string) int {
	switch v, _ := r.Value(name); t := v.(type) {
	case float64:
		return int(math.Round(t))
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	}
	return 0
}

func boolField(r domain.Record, name string, def bool) bool {
	v, ok := r.Value(name)
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return def
		}
		return b
	}
	return def
}
