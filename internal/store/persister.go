package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"owl-care/internal/domain"

	"go.uber.org/zap"
)

const defaultSnapshotTTL = 24 * time.Hour

// Persister 把服务端已确认的集合写入 KV，后端不可达时用于恢复只读视图
// 占位记录（未持久化）从不写入
type Persister struct {
	kv     KV
	ttl    time.Duration
	logger *zap.Logger
}

// snapshot KV 中保存的 JSON 结构
type snapshot struct {
	Resource  string          `json:"resource"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
	Records   []domain.Record `json:"records"`
}

// NewPersister ttl<=0 时使用默认 24h
func NewPersister(kv KV, ttl time.Duration, logger *zap.Logger) *Persister {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &Persister{kv: kv, ttl: ttl, logger: logger}
}

// SnapshotKey KV 键：care:scope:{resource}:{from}:{to}
func SnapshotKey(scope domain.Scope) string {
	return fmt.Sprintf("care:scope:%s", scope.Key())
}

// Save 写入集合中已确认的记录
func (p *Persister) Save(ctx context.Context, c *Collection) error {
	scope := c.Scope()
	snap := snapshot{
		Resource:  scope.Resource,
		From:      scope.From,
		To:        scope.To,
		FetchedAt: c.FetchedAt(),
		Records:   c.Confirmed(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	key := SnapshotKey(scope)
	if err := p.kv.Set(ctx, key, string(raw), p.ttl); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}

	p.logger.Debug("Saved scope snapshot",
		zap.String("key", key),
		zap.Int("records", len(snap.Records)),
	)
	return nil
}

// Load 读取快照，不存在时返回 ErrCacheMiss
func (p *Persister) Load(ctx context.Context, scope domain.Scope) ([]domain.Record, time.Time, error) {
	raw, err := p.kv.Get(ctx, SnapshotKey(scope))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, time.Time{}, ErrCacheMiss
		}
		return nil, time.Time{}, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.Resource != scope.Resource || snap.From != scope.From || snap.To != scope.To {
		return nil, time.Time{}, ErrCacheMiss
	}
	return snap.Records, snap.FetchedAt, nil
}

// Forget 删除快照
func (p *Persister) Forget(ctx context.Context, scope domain.Scope) error {
	return p.kv.Del(ctx, SnapshotKey(scope))
}
