// Package projection 从完整的集合推导出页面可见的行：
// 按条件过滤、为应有但缺失的记录合成占位行、按槽位去重并稳定排序。
package projection

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"owl-care/internal/domain"
	"owl-care/internal/placeholder"
	"owl-care/internal/resources"
)

const dateLayout = "2006-01-02"

// maxSpanDays 合成占位行时允许的最大日期跨度
const maxSpanDays = 62

// Filters 页面选择的过滤条件
type Filters struct {
	Floor   string
	OwnerID string
	Slot    string
	From    string // YYYY-MM-DD
	To      string // YYYY-MM-DD
}

// Projector 投影器
type Projector struct {
	gen *placeholder.Generator
}

// NewProjector 创建投影器
func NewProjector(gen *placeholder.Generator) *Projector {
	return &Projector{gen: gen}
}

// Project 计算可见行
// owners 为 nil 表示 owner 目录尚未加载：需要 owner 的资源直接返回空集合，
// 避免先闪现一份不完整的列表
func (p *Projector) Project(desc *resources.Descriptor, records []domain.Record, f Filters, owners []domain.Owner) []domain.Record {
	if desc.OwnerResource != "" && owners == nil {
		return []domain.Record{}
	}

	byID := make(map[string]domain.Owner, len(owners))
	for _, o := range owners {
		byID[o.ID] = o
	}

	// 1. 过滤
	visible := make([]domain.Record, 0, len(records))
	slotIndex := make(map[string]int, len(records))
	for _, r := range records {
		if !matches(desc, r, f, byID) {
			continue
		}
		// 3. 同一槽位只保留一条：服务端记录优先于占位记录
		key := r.SlotKey()
		if key == "" {
			visible = append(visible, r)
			continue
		}
		if i, ok := slotIndex[key]; ok {
			if visible[i].Pending() && !r.Pending() {
				visible[i] = r
			}
			continue
		}
		slotIndex[key] = len(visible)
		visible = append(visible, r)
	}

	// 2. 合成缺失的占位行
	if desc.Expect != nil {
		pass := p.gen.Pass()
		for _, date := range dates(f.From, f.To) {
			day := date.Format(dateLayout)
			for _, o := range owners {
				if !ownerMatches(o, f) {
					continue
				}
				for _, slot := range desc.Expect(o, date) {
					if f.Slot != "" && slot != f.Slot {
						continue
					}
					dim := domain.Dimension{Date: day, Slot: slot}
					key := domain.SlotKey(o.ID, dim)
					if _, ok := slotIndex[key]; ok {
						continue
					}
					slotIndex[key] = len(visible)
					visible = append(visible, desc.NewRecord(pass.ID(o.ID, dim), o.ID, dim))
				}
			}
		}
	}

	// 4. 排序
	sortRecords(desc, visible, byID)
	return visible
}

func matches(desc *resources.Descriptor, r domain.Record, f Filters, owners map[string]domain.Owner) bool {
	if desc.DateField != "" && r.Dimension.Date != "" {
		if f.From != "" && r.Dimension.Date < f.From {
			return false
		}
		if f.To != "" && r.Dimension.Date > f.To {
			return false
		}
	}
	if f.Slot != "" && desc.SlotField != "" && r.Dimension.Slot != f.Slot {
		return false
	}
	if f.OwnerID != "" {
		// 未指定 owner 的空白行不属于任何住户
		if desc.OwnerField != "" {
			return r.Owner == f.OwnerID
		}
		return r.ID == f.OwnerID
	}
	if f.Floor != "" {
		return floorOf(desc, r, owners) == f.Floor || (desc.OwnerField != "" && r.Owner == "")
	}
	return true
}

func ownerMatches(o domain.Owner, f Filters) bool {
	if f.OwnerID != "" && o.ID != f.OwnerID {
		return false
	}
	if f.Floor != "" && o.Floor != f.Floor {
		return false
	}
	return true
}

func floorOf(desc *resources.Descriptor, r domain.Record, owners map[string]domain.Owner) string {
	if desc.OwnerField != "" {
		return owners[r.Owner].Floor
	}
	if desc.FloorField != "" {
		v, _ := r.Value(desc.FloorField)
		s, _ := v.(string)
		return s
	}
	return ""
}

// dates 枚举 [from, to] 内的日期；任一端缺失或跨度过大时不合成
func dates(from, to string) []time.Time {
	if from == "" || to == "" {
		return nil
	}
	start, err1 := time.Parse(dateLayout, from)
	end, err2 := time.Parse(dateLayout, to)
	if err1 != nil || err2 != nil || end.Before(start) {
		return nil
	}
	if end.Sub(start) > maxSpanDays*24*time.Hour {
		return nil
	}
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func sortRecords(desc *resources.Descriptor, rows []domain.Record, owners map[string]domain.Owner) {
	slices.SortStableFunc(rows, func(a, b domain.Record) int {
		if c := strings.Compare(a.Dimension.Date, b.Dimension.Date); c != 0 {
			return c
		}
		if c := compareOwners(desc, a, b, owners); c != 0 {
			return c
		}
		if c := desc.SlotRank(a.Dimension.Slot) - desc.SlotRank(b.Dimension.Slot); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func compareOwners(desc *resources.Descriptor, a, b domain.Record, owners map[string]domain.Owner) int {
	if desc.OwnerField == "" {
		return compareDisplay(displayField(desc, a), displayField(desc, b))
	}
	// 没有 owner 的空白行排在已指定 owner 的行之后
	switch {
	case a.Owner == "" && b.Owner == "":
		return 0
	case a.Owner == "":
		return 1
	case b.Owner == "":
		return -1
	}
	oa, okA := owners[a.Owner]
	ob, okB := owners[b.Owner]
	switch {
	case !okA && !okB:
		return strings.Compare(a.Owner, b.Owner)
	case !okA:
		return 1
	case !okB:
		return -1
	}
	if c := compareDisplay(oa.Room, ob.Room); c != 0 {
		return c
	}
	if c := oa.SortOrder - ob.SortOrder; c != 0 {
		return c
	}
	if c := strings.Compare(oa.Name, ob.Name); c != 0 {
		return c
	}
	return strings.Compare(oa.ID, ob.ID)
}

func displayField(desc *resources.Descriptor, r domain.Record) string {
	if desc.SortField == "" {
		return ""
	}
	switch v := r.Fields[desc.SortField].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// compareDisplay 两者都是数字时按数值比较，否则按字典序；空值排最后
func compareDisplay(a, b string) int {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	}
	return strings.Compare(a, b)
}
