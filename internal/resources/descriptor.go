// Package resources 描述每个护理页面（生命体征、洗浴、巡房、员工、住户）的字段与默认值。
// 同步核心对页面一无所知，页面只是一份 Descriptor 配置。
package resources

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"owl-care/internal/domain"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// FieldKind 字段值类型
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindBool
)

func (k FieldKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "string"
	}
}

// FieldSpec 单个可编辑字段
type FieldSpec struct {
	Kind FieldKind
	// Rule validator 标签，作用于规范化后的值；nil 只检查 required
	Rule string
	// OwnerRequired 必须先指定 owner 才能编辑
	OwnerRequired bool
}

// Descriptor 页面配置
type Descriptor struct {
	Name string

	// 线上字段名；为空表示该资源没有对应维度
	OwnerField string
	DateField  string
	SlotField  string

	// Slots 时段排序（靠前者排在前面）
	Slots []string

	// SortField 无 owner 的资源（员工）用于显示排序的字段
	SortField string
	// FloorField 无 owner 的资源按该字段做楼层过滤
	FloorField string

	// OwnerResource 提供 owner 目录的资源名（如 "residents"）；为空表示不需要
	OwnerResource string

	Fields map[string]FieldSpec

	// Defaults 新建占位记录的默认字段
	Defaults func(owner string, dim domain.Dimension) domain.Fields
	// Expect 某 owner 在某日应有的时段；nil 表示不合成占位行
	Expect func(owner domain.Owner, date time.Time) []string
}

// FieldError 字段级校验错误
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// FieldNames 可编辑字段（排序后）
func (d *Descriptor) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsOwnerField 字段是否为 owner 字段
func (d *Descriptor) IsOwnerField(field string) bool {
	return d.OwnerField != "" && field == d.OwnerField
}

// SlotRank 时段排序位置，未知时段排在最后
func (d *Descriptor) SlotRank(slot string) int {
	for i, s := range d.Slots {
		if s == slot {
			return i
		}
	}
	return len(d.Slots)
}

// Normalize 把输入值规范为字段类型并按规则校验
func (d *Descriptor) Normalize(field string, value any) (any, error) {
	spec, ok := d.Fields[field]
	if !ok {
		return nil, &FieldError{Field: field, Message: "unknown field"}
	}
	v, err := coerce(spec.Kind, value)
	if err != nil {
		return nil, &FieldError{Field: field, Message: err.Error()}
	}
	if v == nil {
		if hasRule(spec.Rule, "required") {
			return nil, &FieldError{Field: field, Message: "is required"}
		}
		return nil, nil
	}
	if spec.Rule == "" {
		return v, nil
	}
	if err := validate.Var(v, spec.Rule); err != nil {
		return nil, &FieldError{Field: field, Message: ruleMessage(err)}
	}
	return v, nil
}

// CheckOwner owner 前置条件
func (d *Descriptor) CheckOwner(rec domain.Record, field string) error {
	spec, ok := d.Fields[field]
	if !ok || !spec.OwnerRequired {
		return nil
	}
	if rec.Owner == "" {
		return &FieldError{Field: field, Message: fmt.Sprintf("%s must be assigned first", d.OwnerField)}
	}
	return nil
}

// Get 读取字段（owner/日期/时段映射到 Record 的结构字段）
func (d *Descriptor) Get(rec domain.Record, field string) (any, bool) {
	switch {
	case d.OwnerField != "" && field == d.OwnerField:
		return nullable(rec.Owner), true
	case d.DateField != "" && field == d.DateField:
		return nullable(rec.Dimension.Date), true
	case d.SlotField != "" && field == d.SlotField:
		return nullable(rec.Dimension.Slot), true
	}
	return rec.Value(field)
}

// Set 返回设置了字段的新记录
func (d *Descriptor) Set(rec domain.Record, field string, value any) domain.Record {
	out := rec.Clone()
	switch {
	case d.OwnerField != "" && field == d.OwnerField:
		out.Owner = asString(value)
	case d.DateField != "" && field == d.DateField:
		out.Dimension.Date = normalizeDate(asString(value))
	case d.SlotField != "" && field == d.SlotField:
		out.Dimension.Slot = asString(value)
	default:
		if out.Fields == nil {
			out.Fields = domain.Fields{}
		}
		out.Fields[field] = value
	}
	return out
}

// Unset 删除普通字段；owner/日期/时段置空
func (d *Descriptor) Unset(rec domain.Record, field string) domain.Record {
	switch field {
	case d.OwnerField, d.DateField, d.SlotField:
		if field != "" {
			return d.Set(rec, field, nil)
		}
	}
	return rec.Without(field)
}

// Keys 记录中出现的全部线上字段名
func (d *Descriptor) Keys(rec domain.Record) []string {
	keys := make([]string, 0, len(rec.Fields)+3)
	for _, f := range []string{d.OwnerField, d.DateField, d.SlotField} {
		if f != "" {
			keys = append(keys, f)
		}
	}
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromWire 解析服务端返回的扁平 JSON 对象
func (d *Descriptor) FromWire(m map[string]any) (domain.Record, error) {
	id := idString(m["id"])
	if id == "" {
		return domain.Record{}, fmt.Errorf("%s record without id", d.Name)
	}
	if domain.IsPlaceholderID(id) {
		return domain.Record{}, fmt.Errorf("%s record carries placeholder id %q", d.Name, id)
	}
	rec := domain.Record{ID: id, Fields: domain.Fields{}}
	for k, v := range m {
		switch {
		case k == "id":
		case d.OwnerField != "" && k == d.OwnerField:
			rec.Owner = idString(v)
		case d.DateField != "" && k == d.DateField:
			rec.Dimension.Date = normalizeDate(asString(v))
		case d.SlotField != "" && k == d.SlotField:
			rec.Dimension.Slot = slotString(v)
		default:
			rec.Fields[k] = scalar(v)
		}
	}
	return rec, nil
}

// ToWire 生成请求体（不含 id）
func (d *Descriptor) ToWire(rec domain.Record) map[string]any {
	out := make(map[string]any, len(rec.Fields)+3)
	for k, v := range rec.Fields {
		out[k] = v
	}
	if d.OwnerField != "" {
		out[d.OwnerField] = nullable(rec.Owner)
	}
	if d.DateField != "" {
		out[d.DateField] = nullable(rec.Dimension.Date)
	}
	if d.SlotField != "" {
		out[d.SlotField] = nullable(rec.Dimension.Slot)
	}
	return out
}

// NewRecord 用默认值构造占位记录
func (d *Descriptor) NewRecord(id, owner string, dim domain.Dimension) domain.Record {
	fields := domain.Fields{}
	if d.Defaults != nil {
		fields = d.Defaults(owner, dim)
	}
	return domain.Record{ID: id, Owner: owner, Dimension: dim, Fields: fields}
}

func coerce(kind FieldKind, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch kind {
	case KindNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case json.Number:
			return v.Float64()
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				return nil, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("must be a number")
			}
			return f, nil
		}
		return nil, fmt.Errorf("must be a number")
	case KindBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("must be a boolean")
			}
			return b, nil
		}
		return nil, fmt.Errorf("must be a boolean")
	default:
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v), nil
		case float64, int, int64, json.Number:
			return fmt.Sprint(v), nil
		}
		return nil, fmt.Errorf("must be a string")
	}
}

func hasRule(rule, tag string) bool {
	for _, r := range strings.Split(rule, ",") {
		if r == tag {
			return true
		}
	}
	return false
}

func ruleMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	e := verrs[0]
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "numeric":
		return "must be numeric"
	default:
		return "is invalid"
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func idString(v any) string {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
	}
	return asString(v)
}

func slotString(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && f >= 0 && f < 24 {
		return fmt.Sprintf("%02d", int(f))
	}
	return asString(v)
}

// normalizeDate 服务端可能返回 RFC3339，统一截为 YYYY-MM-DD
func normalizeDate(s string) string {
	if len(s) > 10 {
		if _, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return s[:10]
		}
	}
	return s
}

// scalar 非标量值（数组/对象）以 JSON 字符串保存
func scalar(v any) any {
	switch v.(type) {
	case nil, string, float64, bool:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
