package domain

import "fmt"

// Scope 一次拉取的查询范围（资源类型 + 日期区间）
type Scope struct {
	Resource string
	From     string // YYYY-MM-DD，可为空
	To       string // YYYY-MM-DD，可为空
}

// Key 作为 Store 中的集合键
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%s:%s", s.Resource, s.From, s.To)
}

// Params 转为后端查询参数
func (s Scope) Params() map[string]string {
	params := map[string]string{}
	if s.From != "" {
		params["from"] = s.From
	}
	if s.To != "" {
		params["to"] = s.To
	}
	return params
}
