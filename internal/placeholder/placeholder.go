// Package placeholder 生成尚未持久化记录的临时 ID。
//
// 格式：tmp~<owner>~<date>~<slot>~<unix毫秒>[~<nonce>]
// 每段先做路径转义，再把 "~" 转义为 %7E，保证分隔符不会出现在段内。
// 同一次生成批次（Pass）内，相同 (owner, 维度) 得到相同 ID。
package placeholder

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"owl-care/internal/domain"

	"github.com/google/uuid"
)

// Prefix 占位 ID 前缀
const Prefix = domain.PlaceholderPrefix

const sep = "~"

// Info 从占位 ID 还原出的上下文
type Info struct {
	Owner     string
	Dimension domain.Dimension
	CreatedAt time.Time
	Blank     bool // 未指定 owner 的空白行
}

// Generator 占位 ID 生成器
type Generator struct {
	now func() time.Time
}

// NewGenerator now 为 nil 时使用 time.Now
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// Pass 开始一次生成批次，批次内时间戳固定
func (g *Generator) Pass() Pass {
	return Pass{at: g.now()}
}

// Blank 为未指定 owner 的新行生成唯一 ID
func (g *Generator) Blank(dim domain.Dimension) string {
	return build("", dim, g.now(), uuid.NewString())
}

// Pass 单次生成批次
type Pass struct {
	at time.Time
}

// ID 批次内对相同 (owner, dim) 幂等
func (p Pass) ID(owner string, dim domain.Dimension) string {
	return build(owner, dim, p.at, "")
}

// At 批次时间戳
func (p Pass) At() time.Time {
	return p.at
}

func build(owner string, dim domain.Dimension, at time.Time, nonce string) string {
	parts := []string{
		escape(owner),
		escape(dim.Date),
		escape(dim.Slot),
		strconv.FormatInt(at.UnixMilli(), 10),
	}
	if nonce != "" {
		parts = append(parts, escape(nonce))
	}
	return Prefix + strings.Join(parts, sep)
}

// IsPlaceholder 是否为占位 ID
func IsPlaceholder(id string) bool {
	return domain.IsPlaceholderID(id)
}

// Parse 从占位 ID 还原 owner / 维度 / 创建时间
func Parse(id string) (Info, bool) {
	if !IsPlaceholder(id) {
		return Info{}, false
	}
	parts := strings.Split(strings.TrimPrefix(id, Prefix), sep)
	if len(parts) != 4 && len(parts) != 5 {
		return Info{}, false
	}
	owner, err1 := url.PathUnescape(parts[0])
	date, err2 := url.PathUnescape(parts[1])
	slot, err3 := url.PathUnescape(parts[2])
	ms, err4 := strconv.ParseInt(parts[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return Info{}, false
	}
	return Info{
		Owner:     owner,
		Dimension: domain.Dimension{Date: date, Slot: slot},
		CreatedAt: time.UnixMilli(ms),
		Blank:     owner == "",
	}, true
}

func escape(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), sep, "%7E")
}
