package store

import (
	"time"

	"owl-care/internal/domain"
)

// Collection 某个 Scope 下的记录集合快照
// Collection 创建后不再修改；Store 的所有写操作都返回新的 Collection，
// 因此回滚只需把旧指针放回去
type Collection struct {
	scope     domain.Scope
	records   []domain.Record
	index     map[string]int
	version   uint64
	fetchedAt time.Time
	stale     bool
}

func newCollection(scope domain.Scope, records []domain.Record, version uint64, fetchedAt time.Time) *Collection {
	c := &Collection{
		scope:     scope,
		records:   records,
		index:     make(map[string]int, len(records)),
		version:   version,
		fetchedAt: fetchedAt,
	}
	for i, r := range records {
		c.index[r.ID] = i
	}
	return c
}

// Scope 集合所属范围
func (c *Collection) Scope() domain.Scope { return c.scope }

// Version 版本号：每次写入递增，回滚后随快照一起恢复
func (c *Collection) Version() uint64 { return c.version }

// FetchedAt 最近一次从服务端拉取的时间
func (c *Collection) FetchedAt() time.Time { return c.fetchedAt }

// Stale 是否已被标记为需要重新拉取
func (c *Collection) Stale() bool { return c.stale }

// Len 记录数
func (c *Collection) Len() int { return len(c.records) }

// Records 返回记录副本
func (c *Collection) Records() []domain.Record {
	out := make([]domain.Record, len(c.records))
	for i, r := range c.records {
		out[i] = r.Clone()
	}
	return out
}

// Find 按 ID 查找
func (c *Collection) Find(id string) (domain.Record, bool) {
	i, ok := c.index[id]
	if !ok {
		return domain.Record{}, false
	}
	return c.records[i].Clone(), true
}

// FindSlot 按槽位键查找，服务端记录优先于占位记录
func (c *Collection) FindSlot(slotKey string) (domain.Record, bool) {
	if slotKey == "" {
		return domain.Record{}, false
	}
	var found domain.Record
	ok := false
	for _, r := range c.records {
		if r.SlotKey() != slotKey {
			continue
		}
		if !ok || (found.Pending() && !r.Pending()) {
			found, ok = r, true
		}
	}
	if !ok {
		return domain.Record{}, false
	}
	return found.Clone(), true
}

// Confirmed 仅返回已持久化（非占位）的记录
func (c *Collection) Confirmed() []domain.Record {
	out := make([]domain.Record, 0, len(c.records))
	for _, r := range c.records {
		if !r.Pending() {
			out = append(out, r.Clone())
		}
	}
	return out
}
