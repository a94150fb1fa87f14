package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"owl-care/internal/backend"
	"owl-care/internal/domain"
	"owl-care/internal/mutation"
	"owl-care/internal/projection"
	"owl-care/internal/resources"
	"owl-care/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownResource 资源未注册
var ErrUnknownResource = errors.New("unknown resource")

// 加载来源
const (
	SourceMemory   = "memory"
	SourceBackend  = "backend"
	SourceSnapshot = "snapshot"
)

// Backend 同步服务需要的后端能力
type Backend interface {
	mutation.Backend
	List(ctx context.Context, resource string, params map[string]string) ([]map[string]any, error)
}

// FetchObserver 加载指标
type FetchObserver interface {
	ObserveFetch(resource, source, result string, elapsed time.Duration)
}

// Deps SyncService 依赖
type Deps struct {
	Registry  *resources.Registry
	Store     *store.Store
	Backend   Backend
	Executor  *mutation.Executor
	Projector *projection.Projector
	// Persister 可选；为 nil 时不写快照，也没有离线回退
	Persister *store.Persister
	Observer  FetchObserver
	Logger    *zap.Logger

	// LoadTimeout 共享加载的上限；默认 30s
	LoadTimeout time.Duration
}

// RowSet 一次查询的可见行
type RowSet struct {
	Scope   domain.Scope    `json:"-"`
	Rows    []domain.Record `json:"rows"`
	Version uint64          `json:"version"`
	// Stale 数据来自快照缓存或已收到变更通知，等待重新拉取
	Stale bool `json:"stale"`
}

// SyncService 加载集合并把页面操作交给修改执行器
type SyncService struct {
	registry  *resources.Registry
	store     *store.Store
	backend   Backend
	exec      *mutation.Executor
	projector *projection.Projector
	persister *store.Persister
	observer  FetchObserver
	logger    *zap.Logger

	loads       singleflight.Group
	loadTimeout time.Duration
}

const defaultLoadTimeout = 30 * time.Second

// NewSyncService 创建同步服务
func NewSyncService(d Deps) *SyncService {
	return &SyncService{
		registry:  d.Registry,
		store:     d.Store,
		backend:   d.Backend,
		exec:      d.Executor,
		projector: d.Projector,
		persister: d.Persister,
		observer:  d.Observer,
		logger:    d.Logger,

		loadTimeout: loadTimeout(d.LoadTimeout),
	}
}

func loadTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultLoadTimeout
	}
	return d
}

// ScopeFor 页面过滤条件对应的集合范围；没有日期维度的资源不按日期拆分
func (s *SyncService) ScopeFor(resource, from, to string) (domain.Scope, error) {
	desc, ok := s.registry.Get(resource)
	if !ok {
		return domain.Scope{}, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	if desc.DateField == "" {
		return domain.Scope{Resource: resource}, nil
	}
	if to == "" {
		to = from
	}
	return domain.Scope{Resource: resource, From: from, To: to}, nil
}

// Load 返回集合快照：内存命中直接返回，否则拉取；并发的相同加载只发一次请求
func (s *SyncService) Load(ctx context.Context, scope domain.Scope) (*store.Collection, error) {
	if coll, ok := s.store.Get(scope); ok && !coll.Stale() {
		s.observe(scope.Resource, SourceMemory, "ok", 0)
		return coll, nil
	}
	return s.fetch(ctx, scope)
}

// Refresh 忽略缓存重新拉取
func (s *SyncService) Refresh(ctx context.Context, scope domain.Scope) (*store.Collection, error) {
	return s.fetch(ctx, scope)
}

func (s *SyncService) fetch(ctx context.Context, scope domain.Scope) (*store.Collection, error) {
	ch := s.loads.DoChan(scope.Key(), func() (any, error) {
		// 共享加载不随发起者取消，保留 ctx 中的 token；各调用方各自等待
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		return s.fetchOnce(lctx, scope)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("Shared in-flight load", zap.String("scope", scope.Key()))
		}
		return res.Val.(*store.Collection), nil
	}
}

func (s *SyncService) fetchOnce(ctx context.Context, scope domain.Scope) (*store.Collection, error) {
	desc, ok := s.registry.Get(scope.Resource)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, scope.Resource)
	}

	start := time.Now()
	items, err := s.backend.List(ctx, scope.Resource, scope.Params())
	if err != nil {
		s.observe(scope.Resource, SourceBackend, "error", time.Since(start))
		if coll, ok := s.fallback(ctx, scope, err); ok {
			return coll, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", scope.Key(), err)
	}

	records := make([]domain.Record, 0, len(items))
	for _, item := range items {
		rec, err := desc.FromWire(item)
		if err != nil {
			s.logger.Warn("Skipping malformed record",
				zap.String("resource", scope.Resource),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	coll := s.store.Set(scope, records)
	s.observe(scope.Resource, SourceBackend, "ok", time.Since(start))

	s.logger.Info("Loaded collection",
		zap.String("scope", scope.Key()),
		zap.Int("records", len(records)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if s.persister != nil {
		if err := s.persister.Save(ctx, coll); err != nil {
			s.logger.Warn("Failed to save scope snapshot",
				zap.String("scope", scope.Key()),
				zap.Error(err),
			)
		}
	}
	return coll, nil
}

// fallback 网络不可达时用快照缓存恢复集合（标记为待刷新）
// 会话过期与服务端错误不回退
func (s *SyncService) fallback(ctx context.Context, scope domain.Scope, cause error) (*store.Collection, bool) {
	var be *backend.Error
	if s.persister == nil || !errors.As(cause, &be) || be.Kind != backend.KindNetwork {
		return nil, false
	}
	records, fetchedAt, err := s.persister.Load(ctx, scope)
	if err != nil {
		if !errors.Is(err, store.ErrCacheMiss) {
			s.logger.Warn("Failed to load scope snapshot",
				zap.String("scope", scope.Key()),
				zap.Error(err),
			)
		}
		s.observe(scope.Resource, SourceSnapshot, "miss", 0)
		return nil, false
	}
	coll := s.store.SetStale(scope, records)
	s.observe(scope.Resource, SourceSnapshot, "ok", 0)
	s.logger.Warn("Backend unreachable, serving snapshot",
		zap.String("scope", scope.Key()),
		zap.Time("fetched_at", fetchedAt),
		zap.Error(cause),
	)
	return coll, true
}

// Owners owner 目录；返回 nil 表示目录未知（未加载或加载失败）
func (s *SyncService) Owners(ctx context.Context, desc *resources.Descriptor) []domain.Owner {
	if desc.OwnerResource == "" {
		return nil
	}
	scope, err := s.ScopeFor(desc.OwnerResource, "", "")
	if err != nil {
		return nil
	}
	coll, err := s.Load(ctx, scope)
	if err != nil {
		s.logger.Warn("Owner directory unavailable",
			zap.String("resource", desc.Name),
			zap.String("owner_resource", desc.OwnerResource),
			zap.Error(err),
		)
		return nil
	}
	owners := resources.OwnersFromResidents(coll.Records())
	if owners == nil {
		owners = []domain.Owner{}
	}
	return owners
}

// Rows 加载并投影页面可见行
func (s *SyncService) Rows(ctx context.Context, resource string, f projection.Filters) (RowSet, error) {
	desc, ok := s.registry.Get(resource)
	if !ok {
		return RowSet{}, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	scope, err := s.ScopeFor(resource, f.From, f.To)
	if err != nil {
		return RowSet{}, err
	}
	f.From, f.To = scope.From, scope.To

	coll, err := s.Load(ctx, scope)
	if err != nil {
		return RowSet{}, err
	}
	owners := s.Owners(ctx, desc)
	return RowSet{
		Scope:   scope,
		Rows:    s.projector.Project(desc, coll.Records(), f, owners),
		Version: coll.Version(),
		Stale:   coll.Stale(),
	}, nil
}

// Edit 编辑一个字段；key 可以是记录 ID、占位 ID 或槽位键
func (s *SyncService) Edit(ctx context.Context, scope domain.Scope, key, field string, value any) (mutation.Outcome, error) {
	if err := s.ensureLoaded(ctx, scope); err != nil {
		return mutation.Outcome{}, err
	}
	return s.exec.Apply(ctx, scope, key, field, value)
}

// AddRow 新增空白行
func (s *SyncService) AddRow(ctx context.Context, scope domain.Scope, dim domain.Dimension) (mutation.Outcome, error) {
	if err := s.ensureLoaded(ctx, scope); err != nil {
		return mutation.Outcome{}, err
	}
	return s.exec.AddBlank(scope, dim)
}

// DeleteRow 删除一行
func (s *SyncService) DeleteRow(ctx context.Context, scope domain.Scope, key string) (mutation.Outcome, error) {
	if err := s.ensureLoaded(ctx, scope); err != nil {
		return mutation.Outcome{}, err
	}
	return s.exec.Delete(ctx, scope, key)
}

// Invalidate 收到变更通知：该资源的全部集合在下次读取时重新拉取
func (s *SyncService) Invalidate(resource string) int {
	n := s.store.Invalidate(resource)
	s.logger.Info("Invalidated collections",
		zap.String("resource", resource),
		zap.Int("collections", n),
	)
	return n
}

func (s *SyncService) ensureLoaded(ctx context.Context, scope domain.Scope) error {
	if _, ok := s.store.Get(scope); ok {
		return nil
	}
	_, err := s.Load(ctx, scope)
	return err
}

func (s *SyncService) observe(resource, source, result string, elapsed time.Duration) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveFetch(resource, source, result, elapsed)
}
