package store

import (
	"errors"
	"sync"
	"time"

	"owl-care/internal/domain"

	"go.uber.org/zap"
)

// ErrScopeNotLoaded 指定 Scope 尚未加载
var ErrScopeNotLoaded = errors.New("scope not loaded")

// ErrRecordMissing 按 ID 修改时记录已不在集合中
var ErrRecordMissing = errors.New("record missing from collection")

// Store 按 Scope 保存记录集合（查询缓存）
// 所有写操作均为写时复制：构造新 Collection 后原子替换指针，
// 读者拿到的始终是完整快照
type Store struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	logger      *zap.Logger
	now         func() time.Time
}

// New 创建 Store
func New(logger *zap.Logger) *Store {
	return &Store{
		collections: make(map[string]*Collection),
		logger:      logger,
		now:         time.Now,
	}
}

// Get 读取当前快照
func (s *Store) Get(scope domain.Scope) (*Collection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[scope.Key()]
	return c, ok
}

// Set 用服务端结果替换集合
// 旧集合中仍在途的占位记录会被保留，避免刷新打断正在进行的创建
func (s *Store) Set(scope domain.Scope, records []domain.Record) *Collection {
	return s.set(scope, records, false)
}

// SetStale 写入集合并标记为待刷新（用于从快照缓存恢复）
func (s *Store) SetStale(scope domain.Scope, records []domain.Record) *Collection {
	return s.set(scope, records, true)
}

func (s *Store) set(scope domain.Scope, records []domain.Record, stale bool) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.Record, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		next = append(next, r.Clone())
	}

	prev := s.collections[scope.Key()]
	var version uint64 = 1
	if prev != nil {
		version = prev.version + 1
		for _, r := range prev.records {
			if r.Pending() && !seen[r.ID] {
				next = append(next, r)
			}
		}
	}

	c := newCollection(scope, next, version, s.now())
	c.stale = stale
	s.collections[scope.Key()] = c

	s.logger.Debug("Collection replaced",
		zap.String("scope", scope.Key()),
		zap.Int("records", len(next)),
		zap.Uint64("version", version),
	)
	return c
}

// Patch 对满足 pred 的记录应用 fn，返回新快照与被修改的记录数
func (s *Store) Patch(scope domain.Scope, pred func(domain.Record) bool, fn func(domain.Record) domain.Record) (*Collection, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.collections[scope.Key()]
	if !ok {
		return nil, 0, ErrScopeNotLoaded
	}

	var next []domain.Record
	n := 0
	for i, r := range prev.records {
		if !pred(r) {
			continue
		}
		if next == nil {
			next = make([]domain.Record, len(prev.records))
			copy(next, prev.records)
		}
		next[i] = fn(r.Clone())
		n++
	}
	if n == 0 {
		return prev, 0, nil
	}
	return s.replace(prev, next), n, nil
}

// PatchOrInsert 对 ID 为 id 的记录应用 fn；不存在时以 seed 为基础插入
// 返回修改前后的快照，修改前快照即回滚点
func (s *Store) PatchOrInsert(scope domain.Scope, id string, seed domain.Record, fn func(domain.Record) domain.Record) (before, after *Collection, inserted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.collections[scope.Key()]
	if !ok {
		return nil, nil, false, ErrScopeNotLoaded
	}

	next := make([]domain.Record, len(prev.records), len(prev.records)+1)
	copy(next, prev.records)
	if i, ok := prev.index[id]; ok {
		next[i] = fn(prev.records[i].Clone())
	} else {
		seed = seed.Clone()
		seed.ID = id
		next = append(next, fn(seed))
		inserted = true
	}
	return prev, s.replace(prev, next), inserted, nil
}

// PatchByID 只修改已存在的记录，不存在时返回 ErrRecordMissing
func (s *Store) PatchByID(scope domain.Scope, id string, fn func(domain.Record) domain.Record) (before, after *Collection, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.collections[scope.Key()]
	if !ok {
		return nil, nil, ErrScopeNotLoaded
	}
	i, ok := prev.index[id]
	if !ok {
		return prev, prev, ErrRecordMissing
	}
	next := make([]domain.Record, len(prev.records))
	copy(next, prev.records)
	next[i] = fn(prev.records[i].Clone())
	return prev, s.replace(prev, next), nil
}

// Put 插入或替换记录（按 ID）
func (s *Store) Put(scope domain.Scope, rec domain.Record) (*Collection, error) {
	_, after, _, err := s.PatchOrInsert(scope, rec.ID, rec, func(domain.Record) domain.Record {
		return rec.Clone()
	})
	return after, err
}

// Remove 删除记录，返回修改前后的快照
func (s *Store) Remove(scope domain.Scope, id string) (before, after *Collection, removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.collections[scope.Key()]
	if !ok {
		return nil, nil, false, ErrScopeNotLoaded
	}
	i, ok := prev.index[id]
	if !ok {
		return prev, prev, false, nil
	}
	next := make([]domain.Record, 0, len(prev.records)-1)
	next = append(next, prev.records[:i]...)
	next = append(next, prev.records[i+1:]...)
	return prev, s.replace(prev, next), true, nil
}

// Restore 直接换回快照指针
func (s *Store) Restore(scope domain.Scope, snapshot *Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[scope.Key()] = snapshot
}

// CompareAndRestore 仅当当前快照仍为 expected 时换回 snapshot
// 期间有其他写入时返回 false，由调用方做字段级回滚
func (s *Store) CompareAndRestore(scope domain.Scope, expected, snapshot *Collection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collections[scope.Key()] != expected {
		return false
	}
	s.collections[scope.Key()] = snapshot
	return true
}

// Invalidate 将某资源下所有集合标记为待刷新，返回受影响的集合数
func (s *Store) Invalidate(resource string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, c := range s.collections {
		if c.scope.Resource != resource || c.stale {
			continue
		}
		next := newCollection(c.scope, c.records, c.version+1, c.fetchedAt)
		next.stale = true
		s.collections[key] = next
		n++
	}
	return n
}

// Drop 移除集合
func (s *Store) Drop(scope domain.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, scope.Key())
}

// Scopes 当前已加载的范围
func (s *Store) Scopes() []domain.Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Scope, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, c.scope)
	}
	return out
}

// replace 调用方需持有写锁
func (s *Store) replace(prev *Collection, records []domain.Record) *Collection {
	next := newCollection(prev.scope, records, prev.version+1, prev.fetchedAt)
	next.stale = prev.stale
	s.collections[prev.scope.Key()] = next
	return next
}
