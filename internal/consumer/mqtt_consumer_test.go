package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqttcommon "owl-care/common/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]mqttcommon.MessageHandler
	unsubscribed []string
	subErr       error
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, h mqttcommon.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	if f.handlers == nil {
		f.handlers = map[string]mqttcommon.MessageHandler{}
	}
	f.handlers[topic] = h
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

func (f *fakeSubscriber) handler(topic string) mqttcommon.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic]
}

type fakeInvalidator struct {
	mu       sync.Mutex
	resource []string
}

func (f *fakeInvalidator) Invalidate(resource string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resource = append(f.resource, resource)
	return 1
}

type countObserver map[string]int

func (c countObserver) ObserveInvalidation(resource string) { c[resource]++ }

func TestMQTTConsumer_InvalidatesResourceFromTopic(t *testing.T) {
	sub := &fakeSubscriber{}
	inv := &fakeInvalidator{}
	obs := countObserver{}
	c := NewMQTTConsumer(sub, inv, Options{
		Known:    func(r string) bool { return r == "vitals" || r == "bathing" },
		Observer: obs,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return sub.handler(DefaultTopic) != nil }, time.Second, 5*time.Millisecond)
	h := sub.handler(DefaultTopic)

	require.NoError(t, h("care/vitals/changed", []byte(`{"resource":"vitals","ids":["v-1"]}`)))
	require.NoError(t, h("care/bathing/changed", nil))
	require.NoError(t, h("care/meals/changed", nil))

	assert.Equal(t, []string{"vitals", "bathing"}, inv.resource)
	assert.Equal(t, 1, obs["vitals"])

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, []string{DefaultTopic}, sub.unsubscribed)
}

func TestMQTTConsumer_RejectsMalformedMessages(t *testing.T) {
	inv := &fakeInvalidator{}
	c := NewMQTTConsumer(&fakeSubscriber{}, inv, Options{}, zap.NewNop())

	assert.Error(t, c.handleMessage("care/vitals", nil))
	assert.Error(t, c.handleMessage("other/vitals/changed", nil))
	assert.Error(t, c.handleMessage("care/vitals/changed", []byte("{")))
	assert.Error(t, c.handleMessage("care/vitals/changed", []byte(`{"resource":"bathing"}`)))
	assert.Empty(t, inv.resource)
}

func TestMQTTConsumer_SubscribeError(t *testing.T) {
	c := NewMQTTConsumer(&fakeSubscriber{subErr: errors.New("not connected")}, &fakeInvalidator{}, Options{Topic: "care/vitals/changed"}, zap.NewNop())

	err := c.Start(context.Background())
	assert.ErrorContains(t, err, "not connected")
}
