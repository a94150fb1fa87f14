package domain

import (
	"encoding/json"
	"strings"
)

// PlaceholderPrefix 客户端临时 ID 前缀；服务端只会签发 UUID/数字 ID，不会使用该前缀
const PlaceholderPrefix = "tmp~"

// IsPlaceholderID 判断 ID 是否为尚未持久化的占位 ID
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// Fields 记录字段集合，值类型为 string / float64 / bool / nil
type Fields map[string]any

// Clone 浅拷贝字段集合（字段值均为不可变标量）
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Dimension 记录的第二维度（日期 + 时段/小时）
type Dimension struct {
	Date string `json:"date,omitempty"` // YYYY-MM-DD
	Slot string `json:"slot,omitempty"` // morning/afternoon/... 或 "00".."23"
}

// Key 维度键：date|slot；无维度时为空
func (d Dimension) Key() string {
	if d.Date == "" && d.Slot == "" {
		return ""
	}
	return d.Date + "|" + d.Slot
}

// IsZero 是否无维度（如员工主数据）
func (d Dimension) IsZero() bool {
	return d.Date == "" && d.Slot == ""
}

// Record 护理记录（生命体征 / 洗浴 / 巡房 / 员工等）
// Record 按值传递；所有修改方法返回副本，不修改原 Fields
type Record struct {
	ID        string
	Owner     string // 住户ID或员工ID，未指定时为空
	Dimension Dimension
	Fields    Fields
}

// Pending ID 为占位 ID 时表示尚未持久化
func (r Record) Pending() bool {
	return IsPlaceholderID(r.ID)
}

// SlotKey 唯一定位一个记录槽位：owner#date|slot
// 未指定 owner 的记录（空白行）没有槽位键，不参与去重
func (r Record) SlotKey() string {
	if r.Owner == "" {
		return ""
	}
	return SlotKey(r.Owner, r.Dimension)
}

// SlotKey 由 owner 与维度组成槽位键
func SlotKey(owner string, dim Dimension) string {
	return owner + "#" + dim.Key()
}

// ParseSlotKey 解析 SlotKey，格式不符时返回 false
func ParseSlotKey(key string) (string, Dimension, bool) {
	owner, rest, ok := strings.Cut(key, "#")
	if !ok || owner == "" {
		return "", Dimension{}, false
	}
	if rest == "" {
		return owner, Dimension{}, true
	}
	date, slot, ok := strings.Cut(rest, "|")
	if !ok {
		return "", Dimension{}, false
	}
	return owner, Dimension{Date: date, Slot: slot}, true
}

// Clone 深拷贝 Fields
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

// Value 读取字段值
func (r Record) Value(field string) (any, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// With 返回设置了字段值的新记录
func (r Record) With(field string, value any) Record {
	out := r.Clone()
	out.Fields[field] = value
	return out
}

// Without 返回删除了字段的新记录
func (r Record) Without(field string) Record {
	out := r.Clone()
	delete(out.Fields, field)
	return out
}

type recordJSON struct {
	ID      string `json:"id"`
	Owner   string `json:"owner,omitempty"`
	Date    string `json:"date,omitempty"`
	Slot    string `json:"slot,omitempty"`
	Pending bool   `json:"pending"`
	Fields  Fields `json:"fields"`
}

// MarshalJSON 输出带 pending 标记的扁平结构
func (r Record) MarshalJSON() ([]byte, error) {
	fields := r.Fields
	if fields == nil {
		fields = Fields{}
	}
	return json.Marshal(recordJSON{
		ID:      r.ID,
		Owner:   r.Owner,
		Date:    r.Dimension.Date,
		Slot:    r.Dimension.Slot,
		Pending: r.Pending(),
		Fields:  fields,
	})
}

// UnmarshalJSON pending 由 ID 推导，输入中的值被忽略
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ID = raw.ID
	r.Owner = raw.Owner
	r.Dimension = Dimension{Date: raw.Date, Slot: raw.Slot}
	r.Fields = raw.Fields
	if r.Fields == nil {
		r.Fields = Fields{}
	}
	return nil
}
