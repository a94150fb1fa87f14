package mutation

import (
	"testing"

	"owl-care/internal/domain"
	"owl-care/internal/resources"
	"owl-care/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// 解析到服务端记录之后、打本地补丁之前，记录被并发删除
func TestBegin_DeletedServerRecordIsNotReinserted(t *testing.T) {
	st := store.New(zap.NewNop())
	scope := domain.Scope{Resource: resources.Vitals, From: "2024-05-01", To: "2024-05-01"}
	dim := domain.Dimension{Date: "2024-05-01", Slot: resources.TimingMorning}
	resolved := domain.Record{ID: "v-1", Owner: "R1", Dimension: dim, Fields: domain.Fields{"pulseRate": 70.0}}
	st.Set(scope, []domain.Record{resolved})
	_, _, removed, err := st.Remove(scope, "v-1")
	require.NoError(t, err)
	require.True(t, removed)
	snapshot, _ := st.Get(scope)

	registry := resources.NewRegistry(resources.Options{})
	desc, ok := registry.Get(resources.Vitals)
	require.True(t, ok)
	e := New(st, nil, registry, zap.NewNop())

	m := &pendingMutation{scope: scope, desc: desc, field: "pulseRate", value: 75.0}
	err = e.begin(m, resolved)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	cur, _ := st.Get(scope)
	assert.Same(t, snapshot, cur)
	assert.Equal(t, 0, cur.Len())
	assert.Empty(t, e.rows)
	assert.Empty(t, e.creates)
}

func TestBegin_PlaceholderIsInsertedWhenMissing(t *testing.T) {
	st := store.New(zap.NewNop())
	scope := domain.Scope{Resource: resources.Vitals, From: "2024-05-01", To: "2024-05-01"}
	st.Set(scope, nil)

	registry := resources.NewRegistry(resources.Options{})
	desc, _ := registry.Get(resources.Vitals)
	e := New(st, nil, registry, zap.NewNop())

	dim := domain.Dimension{Date: "2024-05-01", Slot: resources.TimingMorning}
	tmpID := e.gen.Pass().ID("R1", dim)
	m := &pendingMutation{scope: scope, desc: desc, field: "pulseRate", value: 75.0}
	require.NoError(t, e.begin(m, desc.NewRecord(tmpID, "R1", dim)))

	assert.True(t, m.inserted)
	assert.NotNil(t, m.create)
	rec, ok := m.after.Find(tmpID)
	require.True(t, ok)
	assert.Equal(t, 75.0, rec.Fields["pulseRate"])
}
