package mutation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// request 一次被拦截的后端调用，测试通过 reply 决定返回值与返回时机
type request struct {
	op       string
	resource string
	id       string
	body     map[string]any
	reply    chan reply
}

type reply struct {
	resp map[string]any
	err  error
}

func (r *request) respond(resp map[string]any) { r.reply <- reply{resp: resp} }
func (r *request) fail(err error)              { r.reply <- reply{err: err} }

// gatedBackend 每次调用都交给测试处理，用来精确控制响应顺序
type gatedBackend struct {
	reqs chan *request
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{reqs: make(chan *request, 16)}
}

func (b *gatedBackend) do(ctx context.Context, op, resource, id string, body map[string]any) (map[string]any, error) {
	r := &request{op: op, resource: resource, id: id, body: body, reply: make(chan reply, 1)}
	b.reqs <- r
	select {
	case rep := <-r.reply:
		return rep.resp, rep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *gatedBackend) Create(ctx context.Context, resource string, body map[string]any) (map[string]any, error) {
	return b.do(ctx, "create", resource, "", body)
}

func (b *gatedBackend) Update(ctx context.Context, resource, id string, patch map[string]any) (map[string]any, error) {
	return b.do(ctx, "update", resource, id, patch)
}

func (b *gatedBackend) Delete(ctx context.Context, resource, id string) error {
	_, err := b.do(ctx, "delete", resource, id, nil)
	return err
}

// next 等待下一次后端调用
func (b *gatedBackend) next(t *testing.T) *request {
	t.Helper()
	select {
	case r := <-b.reqs:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for backend call")
		return nil
	}
}

// none 断言没有新的后端调用
func (b *gatedBackend) none(t *testing.T) {
	t.Helper()
	select {
	case r := <-b.reqs:
		require.Failf(t, "unexpected backend call", "%s %s %s", r.op, r.resource, r.id)
	case <-time.After(50 * time.Millisecond):
	}
}

// recordingObserver 记录每次修改的终态
type recordingObserver struct {
	states chan string
}

func (o *recordingObserver) ObserveMutation(resource, op, state string, _ time.Duration) {
	o.states <- resource + "/" + op + "/" + state
}
