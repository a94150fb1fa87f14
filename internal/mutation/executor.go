// Package mutation 实现乐观修改：先改本地快照，再发请求，最后合并服务端结果或回滚。
//
// 同一记录上的修改不排队，各自独立发出，允许乱序完成。合并总是作用于最新快照，
// 并按字段判断新旧：某字段有更新的编辑时，较旧的响应与回滚都不会覆盖它。
// 唯一的等待发生在占位记录上：创建请求在途时，对同一占位记录的后续编辑
// 先等待创建完成，再用服务端 ID 发 PATCH，避免重复创建。
package mutation

import (
	"context"
	"errors"
	"sync"
	"time"

	"owl-care/internal/domain"
	"owl-care/internal/placeholder"
	"owl-care/internal/resources"
	"owl-care/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Backend 外部持久化服务
type Backend interface {
	Create(ctx context.Context, resource string, body map[string]any) (map[string]any, error)
	Update(ctx context.Context, resource, id string, patch map[string]any) (map[string]any, error)
	Delete(ctx context.Context, resource, id string) error
}

// Observer 修改结果观测（指标）
type Observer interface {
	ObserveMutation(resource, op, state string, elapsed time.Duration)
}

// State 修改的终态
type State string

const (
	StateReconciled State = "reconciled"  // 成功并已合并服务端结果
	StateRolledBack State = "rolled_back" // 请求失败，本地已回滚
	StateRejected   State = "rejected"    // 本地校验失败，未发请求
	StateDiscarded  State = "discarded"   // 响应到达时记录已不存在，响应被丢弃
	StateLocal      State = "local"       // 仅本地生效（删除占位记录、新增空白行）
)

// Outcome 一次修改的结果
type Outcome struct {
	MutationID string
	State      State
	// Record 修改结束时本地的最新记录；HasRecord 为 false 表示记录已不存在
	Record    domain.Record
	HasRecord bool
	Err       error
}

// Option 可选项
type Option func(*Executor)

// WithObserver 设置指标观测
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithGenerator 设置占位 ID 生成器
func WithGenerator(g *placeholder.Generator) Option {
	return func(e *Executor) { e.gen = g }
}

// Executor 乐观修改执行器
type Executor struct {
	store    *store.Store
	backend  Backend
	registry *resources.Registry
	gen      *placeholder.Generator
	observer Observer
	logger   *zap.Logger

	// mu 保护下列簿记；锁顺序固定为 mu → store 内部锁
	mu      sync.Mutex
	seq     uint64
	rows    map[rowKey]*rowState
	creates map[rowKey]*createCall
	aliases map[rowKey]string
}

type rowKey struct {
	scope string
	id    string
}

// rowState 某条记录上在途修改的簿记；没有在途修改时整体删除
type rowState struct {
	inflight int
	fields   map[string]*fieldState
}

type fieldState struct {
	latest   uint64 // 最近一次发出的编辑序号
	inflight int
}

// createCall 占位记录的在途创建
type createCall struct {
	done chan struct{}
	id   string
	err  error
}

// pendingMutation 在途修改
type pendingMutation struct {
	id       string
	op       string
	scope    domain.Scope
	desc     *resources.Descriptor
	targetID string
	field    string
	value    any
	seq      uint64

	before   *store.Collection
	after    *store.Collection
	inserted bool
	prev     any
	hadPrev  bool

	create  *createCall // 本次修改负责的创建
	waitFor *createCall // 本次修改依赖的创建
	body    map[string]any
	start   time.Time
}

// New 创建执行器
func New(st *store.Store, b Backend, registry *resources.Registry, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		store:    st,
		backend:  b,
		registry: registry,
		logger:   logger,
		rows:     make(map[rowKey]*rowState),
		creates:  make(map[rowKey]*createCall),
		aliases:  make(map[rowKey]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.gen == nil {
		e.gen = placeholder.NewGenerator(nil)
	}
	return e
}

// Apply 把一次字段编辑应用到 key 指定的记录
// key 可以是服务端 ID、占位 ID 或槽位键（owner#date|slot）
func (e *Executor) Apply(ctx context.Context, scope domain.Scope, key, field string, value any) (Outcome, error) {
	m := &pendingMutation{
		id:    uuid.NewString(),
		op:    "apply",
		scope: scope,
		field: field,
		start: time.Now(),
	}

	// Validating
	desc, ok := e.registry.Get(scope.Resource)
	if !ok {
		return e.reject(m, &ValidationError{Field: field, Message: "unknown resource " + scope.Resource})
	}
	m.desc = desc

	normalized, err := desc.Normalize(field, value)
	if err != nil {
		return e.reject(m, validationFrom(field, err))
	}
	m.value = normalized

	coll, ok := e.store.Get(scope)
	if !ok {
		return e.reject(m, validationFrom(field, store.ErrScopeNotLoaded))
	}
	rec, err := e.resolve(desc, coll, key)
	if err != nil {
		return e.reject(m, validationFrom(field, err))
	}
	if err := desc.CheckOwner(rec, field); err != nil {
		return e.reject(m, validationFrom(field, err))
	}

	// Pending
	if err := e.begin(m, rec); err != nil {
		return e.reject(m, validationFrom(field, err))
	}

	resp, err := e.send(ctx, m)
	if err != nil {
		return e.fail(m, err)
	}
	if m.create != nil {
		return e.reconcileCreate(m, resp)
	}
	return e.reconcileUpdate(m, resp)
}

// resolve 找到编辑目标；占位记录不在集合中时按占位 ID 携带的上下文重建
func (e *Executor) resolve(desc *resources.Descriptor, coll *store.Collection, key string) (domain.Record, error) {
	e.mu.Lock()
	id := e.aliasLocked(coll.Scope().Key(), key)
	e.mu.Unlock()

	if rec, ok := coll.Find(id); ok {
		return rec, nil
	}
	if info, ok := placeholder.Parse(key); ok {
		if info.Blank {
			// 空白行只存在于集合中，不在说明已被删除
			return domain.Record{}, ErrRecordNotFound
		}
		if rec, ok := coll.FindSlot(domain.SlotKey(info.Owner, info.Dimension)); ok {
			return rec, nil
		}
		return desc.NewRecord(key, info.Owner, info.Dimension), nil
	}
	if owner, dim, ok := domain.ParseSlotKey(key); ok && desc.OwnerField != "" {
		if rec, ok := coll.FindSlot(domain.SlotKey(owner, dim)); ok {
			return rec, nil
		}
		return desc.NewRecord(e.gen.Pass().ID(owner, dim), owner, dim), nil
	}
	return domain.Record{}, ErrRecordNotFound
}

// begin 登记在途修改并应用本地补丁，快照即回滚点
func (e *Executor) begin(m *pendingMutation, rec domain.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	patch := func(cur domain.Record) domain.Record {
		m.prev, m.hadPrev = m.desc.Get(cur, m.field)
		return m.desc.Set(cur, m.field, m.value)
	}
	var (
		before, after *store.Collection
		inserted      bool
		err           error
	)
	if domain.IsPlaceholderID(rec.ID) {
		before, after, inserted, err = e.store.PatchOrInsert(m.scope, rec.ID, rec, patch)
	} else {
		// 服务端记录在解析之后可能已被删除，不能重新插入
		before, after, err = e.store.PatchByID(m.scope, rec.ID, patch)
		if errors.Is(err, store.ErrRecordMissing) {
			return ErrRecordNotFound
		}
	}
	if err != nil {
		return err
	}

	e.seq++
	m.seq = e.seq
	m.targetID = rec.ID
	m.before, m.after, m.inserted = before, after, inserted

	row := e.rowLocked(m.scope.Key(), rec.ID)
	row.inflight++
	fs := row.fields[m.field]
	if fs == nil {
		fs = &fieldState{}
		row.fields[m.field] = fs
	}
	fs.latest = m.seq
	fs.inflight++

	if !domain.IsPlaceholderID(rec.ID) {
		return nil
	}
	rk := rowKey{scope: m.scope.Key(), id: rec.ID}
	if call, ok := e.creates[rk]; ok {
		m.waitFor = call
		return nil
	}
	cur, _ := after.Find(rec.ID)
	m.create = &createCall{done: make(chan struct{})}
	m.body = m.desc.ToWire(cur)
	e.creates[rk] = m.create
	m.op = "create"
	return nil
}

// send 发出唯一的一次请求
func (e *Executor) send(ctx context.Context, m *pendingMutation) (map[string]any, error) {
	resource := m.scope.Resource
	switch {
	case m.create != nil:
		return e.backend.Create(ctx, resource, m.body)
	case m.waitFor != nil:
		select {
		case <-m.waitFor.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if m.waitFor.err != nil {
			return nil, m.waitFor.err
		}
		return e.backend.Update(ctx, resource, m.waitFor.id, map[string]any{m.field: m.value})
	default:
		return e.backend.Update(ctx, resource, m.targetID, map[string]any{m.field: m.value})
	}
}

// reconcileCreate 用服务端记录替换占位记录；响应中没有的本地字段保留
func (e *Executor) reconcileCreate(m *pendingMutation, resp map[string]any) (Outcome, error) {
	server, err := m.desc.FromWire(resp)
	if err != nil {
		return e.fail(m, &RequestError{Kind: KindServer, Message: err.Error(), Err: err})
	}

	e.mu.Lock()
	scopeKey := m.scope.Key()
	row := e.rows[rowKey{scope: scopeKey, id: m.targetID}]
	merge := func(cur domain.Record) domain.Record {
		merged := server.Clone()
		for _, k := range m.desc.Keys(cur) {
			if _, ok := resp[k]; ok && !keepLocal(row, k, m) {
				continue
			}
			v, _ := m.desc.Get(cur, k)
			merged = m.desc.Set(merged, k, v)
		}
		merged.ID = server.ID
		return merged
	}
	n, perr := e.replacePlaceholder(m.scope, m.targetID, server.ID, merge)
	if perr != nil || n == 0 {
		m.create.err = ErrReconciliationConflict
	} else {
		m.create.id = server.ID
		e.aliases[rowKey{scope: scopeKey, id: m.targetID}] = server.ID
		e.rekeyLocked(scopeKey, m.targetID, server.ID)
	}
	delete(e.creates, rowKey{scope: scopeKey, id: m.targetID})
	close(m.create.done)
	e.mu.Unlock()

	if perr != nil || n == 0 {
		return e.discard(m)
	}
	e.logger.Debug("Placeholder reconciled",
		zap.String("resource", m.scope.Resource),
		zap.String("placeholder_id", m.targetID),
		zap.String("id", server.ID),
	)
	return e.finish(m, StateReconciled, nil)
}

// replacePlaceholder 用 merge 的结果替换占位记录
// 刷新可能已经带回了同 ID 的服务端记录，此时移除占位记录并合并到该记录
func (e *Executor) replacePlaceholder(scope domain.Scope, tmpID, id string, merge func(domain.Record) domain.Record) (int, error) {
	coll, ok := e.store.Get(scope)
	if !ok {
		return 0, store.ErrScopeNotLoaded
	}
	local, ok := coll.Find(tmpID)
	if !ok {
		return 0, nil
	}
	if _, dup := coll.Find(id); !dup {
		_, n, err := e.store.Patch(scope, byID(tmpID), merge)
		return n, err
	}
	if _, _, removed, err := e.store.Remove(scope, tmpID); err != nil || !removed {
		return 0, err
	}
	merged := merge(local)
	_, n, err := e.store.Patch(scope, byID(id), func(domain.Record) domain.Record { return merged })
	return n, err
}

// reconcileUpdate 把服务端结果合并到最新快照；有更新编辑的字段保留本地值
// 响应可以省略 id，也可以为空（只确认成功）
func (e *Executor) reconcileUpdate(m *pendingMutation, resp map[string]any) (Outcome, error) {
	e.mu.Lock()
	id := e.aliasLocked(m.scope.Key(), m.targetID)
	e.mu.Unlock()

	wire := make(map[string]any, len(resp)+1)
	for k, v := range resp {
		wire[k] = v
	}
	if _, ok := wire["id"]; !ok {
		wire["id"] = id
	}
	server, err := m.desc.FromWire(wire)
	if err != nil {
		return e.fail(m, &RequestError{Kind: KindServer, Message: err.Error(), Err: err})
	}

	e.mu.Lock()
	id = e.aliasLocked(m.scope.Key(), m.targetID)
	row := e.rows[rowKey{scope: m.scope.Key(), id: id}]
	_, n, perr := e.store.Patch(m.scope, byID(id), func(cur domain.Record) domain.Record {
		merged := cur
		for k := range resp {
			if k == "id" || keepLocal(row, k, m) {
				continue
			}
			v, _ := m.desc.Get(server, k)
			merged = m.desc.Set(merged, k, v)
		}
		return merged
	})
	e.mu.Unlock()

	if perr != nil || n == 0 {
		return e.discard(m)
	}
	return e.finish(m, StateReconciled, nil)
}

// fail 回滚并返回分类后的错误
// 本地补丁之后集合没有其它写入时直接换回快照；否则只撤销本次修改的字段
func (e *Executor) fail(m *pendingMutation, cause error) (Outcome, error) {
	err := classify(cause)
	if errors.Is(err, ErrReconciliationConflict) {
		// 依赖的创建被丢弃（占位记录已删除）
		return e.discard(m)
	}

	e.mu.Lock()
	scopeKey := m.scope.Key()
	id := e.aliasLocked(scopeKey, m.targetID)
	if m.create != nil && !e.existsLocked(m.scope, id) {
		// 占位记录在创建途中已被删除，失败与否都不再有意义；等待者一并丢弃
		m.create.err = ErrReconciliationConflict
		delete(e.creates, rowKey{scope: scopeKey, id: m.targetID})
		close(m.create.done)
		e.mu.Unlock()
		return e.discard(m)
	}
	row := e.rows[rowKey{scope: scopeKey, id: id}]
	switch {
	case e.store.CompareAndRestore(m.scope, m.after, m.before):
	case m.inserted && domain.IsPlaceholderID(id):
		_, _, _, _ = e.store.Remove(m.scope, id)
	case keepLocal(row, m.field, m):
		// 已有更新的编辑，不覆盖
	default:
		_, _, _ = e.store.Patch(m.scope, byID(id), func(cur domain.Record) domain.Record {
			if m.hadPrev {
				return m.desc.Set(cur, m.field, m.prev)
			}
			return m.desc.Unset(cur, m.field)
		})
	}
	if m.create != nil {
		m.create.err = err
		delete(e.creates, rowKey{scope: scopeKey, id: m.targetID})
		close(m.create.done)
	}
	e.mu.Unlock()

	logFields := []zap.Field{
		zap.String("mutation_id", m.id),
		zap.String("resource", m.scope.Resource),
		zap.String("record_id", id),
		zap.String("field", m.field),
		zap.Error(err),
	}
	if errors.Is(err, ErrSessionExpired) {
		e.logger.Warn("Mutation rolled back: session expired", logFields...)
	} else {
		e.logger.Info("Mutation rolled back", logFields...)
	}
	return e.finish(m, StateRolledBack, err)
}

func (e *Executor) discard(m *pendingMutation) (Outcome, error) {
	e.logger.Info("Response discarded: record no longer exists",
		zap.String("mutation_id", m.id),
		zap.String("resource", m.scope.Resource),
		zap.String("record_id", m.targetID),
	)
	out, _ := e.finish(m, StateDiscarded, ErrReconciliationConflict)
	return out, nil
}

func (e *Executor) reject(m *pendingMutation, err *ValidationError) (Outcome, error) {
	e.logger.Debug("Mutation rejected",
		zap.String("resource", m.scope.Resource),
		zap.String("field", m.field),
		zap.String("reason", err.Message),
	)
	e.observe(m, StateRejected)
	return Outcome{MutationID: m.id, State: StateRejected, Err: err}, err
}

// finish 注销在途簿记并返回记录的最新状态
func (e *Executor) finish(m *pendingMutation, state State, err error) (Outcome, error) {
	e.mu.Lock()
	scopeKey := m.scope.Key()
	id := e.aliasLocked(scopeKey, m.targetID)
	rk := rowKey{scope: scopeKey, id: id}
	if row, ok := e.rows[rk]; ok {
		if fs, ok := row.fields[m.field]; ok {
			fs.inflight--
		}
		row.inflight--
		if row.inflight <= 0 {
			delete(e.rows, rk)
		}
	}
	if !e.hasWorkLocked(scopeKey, m.targetID) {
		delete(e.aliases, rowKey{scope: scopeKey, id: m.targetID})
	}
	e.mu.Unlock()

	out := Outcome{MutationID: m.id, State: state, Err: err}
	if coll, ok := e.store.Get(m.scope); ok {
		out.Record, out.HasRecord = coll.Find(id)
	}
	e.observe(m, state)
	return out, err
}

func (e *Executor) observe(m *pendingMutation, state State) {
	if e.observer == nil {
		return
	}
	e.observer.ObserveMutation(m.scope.Resource, m.op, string(state), time.Since(m.start))
}

func (e *Executor) rowLocked(scopeKey, id string) *rowState {
	rk := rowKey{scope: scopeKey, id: id}
	row := e.rows[rk]
	if row == nil {
		row = &rowState{fields: make(map[string]*fieldState)}
		e.rows[rk] = row
	}
	return row
}

// rekeyLocked 占位 ID 换成服务端 ID 后迁移簿记
func (e *Executor) rekeyLocked(scopeKey, from, to string) {
	src, ok := e.rows[rowKey{scope: scopeKey, id: from}]
	if !ok {
		return
	}
	delete(e.rows, rowKey{scope: scopeKey, id: from})
	dst := e.rowLocked(scopeKey, to)
	dst.inflight += src.inflight
	for name, fs := range src.fields {
		cur, ok := dst.fields[name]
		if !ok {
			dst.fields[name] = fs
			continue
		}
		cur.inflight += fs.inflight
		if fs.latest > cur.latest {
			cur.latest = fs.latest
		}
	}
}

func (e *Executor) existsLocked(scope domain.Scope, id string) bool {
	coll, ok := e.store.Get(scope)
	if !ok {
		return false
	}
	_, found := coll.Find(id)
	return found
}

func (e *Executor) aliasLocked(scopeKey, id string) string {
	if to, ok := e.aliases[rowKey{scope: scopeKey, id: id}]; ok {
		return to
	}
	return id
}

// hasWorkLocked 占位 ID 上是否仍有在途修改依赖别名
func (e *Executor) hasWorkLocked(scopeKey, placeholderID string) bool {
	to, ok := e.aliases[rowKey{scope: scopeKey, id: placeholderID}]
	if !ok {
		return false
	}
	_, busy := e.rows[rowKey{scope: scopeKey, id: to}]
	return busy
}

// keepLocal 合并或回滚时该字段是否应保留本地值
// 本次修改的字段：已有更新的编辑；其它字段：有在途编辑或在本次修改之后被编辑过
func keepLocal(row *rowState, field string, m *pendingMutation) bool {
	if row == nil {
		return false
	}
	fs, ok := row.fields[field]
	if !ok {
		return false
	}
	if field == m.field {
		return fs.latest != m.seq
	}
	return fs.inflight > 0 || fs.latest > m.seq
}

func byID(id string) func(domain.Record) bool {
	return func(r domain.Record) bool { return r.ID == id }
}

// Delete 删除记录
// 占位记录只在本地删除；其在途创建的响应到达时会被丢弃
func (e *Executor) Delete(ctx context.Context, scope domain.Scope, key string) (Outcome, error) {
	m := &pendingMutation{
		id:    uuid.NewString(),
		op:    "delete",
		scope: scope,
		start: time.Now(),
	}
	desc, ok := e.registry.Get(scope.Resource)
	if !ok {
		return e.reject(m, &ValidationError{Message: "unknown resource " + scope.Resource})
	}
	m.desc = desc

	coll, ok := e.store.Get(scope)
	if !ok {
		return e.reject(m, validationFrom("", store.ErrScopeNotLoaded))
	}
	e.mu.Lock()
	id := e.aliasLocked(scope.Key(), key)
	e.mu.Unlock()
	rec, ok := coll.Find(id)
	if !ok {
		return e.reject(m, validationFrom("", ErrRecordNotFound))
	}
	m.targetID = rec.ID

	before, after, removed, err := e.store.Remove(scope, rec.ID)
	if err != nil {
		return e.reject(m, validationFrom("", err))
	}
	if !removed {
		return e.reject(m, validationFrom("", ErrRecordNotFound))
	}
	if rec.Pending() {
		e.observe(m, StateLocal)
		return Outcome{MutationID: m.id, State: StateLocal}, nil
	}

	if err := e.backend.Delete(ctx, scope.Resource, rec.ID); err != nil {
		err = classify(err)
		if !e.store.CompareAndRestore(scope, after, before) {
			_, _ = e.store.Put(scope, rec)
		}
		e.logger.Info("Delete rolled back",
			zap.String("mutation_id", m.id),
			zap.String("resource", scope.Resource),
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
		e.observe(m, StateRolledBack)
		return Outcome{MutationID: m.id, State: StateRolledBack, Record: rec, HasRecord: true, Err: err}, err
	}
	e.observe(m, StateReconciled)
	return Outcome{MutationID: m.id, State: StateReconciled}, nil
}

// AddBlank 新增一条没有 owner 的空白占位行，首次编辑时才会创建
func (e *Executor) AddBlank(scope domain.Scope, dim domain.Dimension) (Outcome, error) {
	m := &pendingMutation{
		id:    uuid.NewString(),
		op:    "add",
		scope: scope,
		start: time.Now(),
	}
	desc, ok := e.registry.Get(scope.Resource)
	if !ok {
		return e.reject(m, &ValidationError{Message: "unknown resource " + scope.Resource})
	}
	m.desc = desc

	rec := desc.NewRecord(e.gen.Blank(dim), "", dim)
	coll, err := e.store.Put(scope, rec)
	if err != nil {
		return e.reject(m, validationFrom("", err))
	}
	out := Outcome{MutationID: m.id, State: StateLocal}
	out.Record, out.HasRecord = coll.Find(rec.ID)
	e.observe(m, StateLocal)
	return out, nil
}
