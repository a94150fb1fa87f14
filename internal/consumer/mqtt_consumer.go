package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqttcommon "owl-care/common/mqtt"

	"go.uber.org/zap"
)

// DefaultTopic 变更通知主题：care/{resource}/changed
const DefaultTopic = "care/+/changed"

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Invalidator 收到通知后标记集合待刷新
type Invalidator interface {
	Invalidate(resource string) int
}

// Observer 通知计数
type Observer interface {
	ObserveInvalidation(resource string)
}

// changeEvent 通知内容；可以为空，资源以主题为准
type changeEvent struct {
	Resource string   `json:"resource"`
	IDs      []string `json:"ids"`
}

// MQTTConsumer 订阅后端的变更通知，让其它终端的修改在下次读取时生效
type MQTTConsumer struct {
	sub      Subscriber
	target   Invalidator
	known    func(resource string) bool
	observer Observer
	topic    string
	qos      byte
	logger   *zap.Logger
}

// Options 可选配置
type Options struct {
	Topic string
	QoS   byte
	// Known 过滤未注册的资源；为 nil 时全部接受
	Known    func(resource string) bool
	Observer Observer
}

// NewMQTTConsumer 创建消费者
func NewMQTTConsumer(sub Subscriber, target Invalidator, opts Options, logger *zap.Logger) *MQTTConsumer {
	topic := opts.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTConsumer{
		sub:      sub,
		target:   target,
		known:    opts.Known,
		observer: opts.Observer,
		topic:    topic,
		qos:      opts.QoS,
		logger:   logger,
	}
}

// Start 订阅并阻塞到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.sub.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to change topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.sub.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received change notification",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	// 主题格式: care/{resource}/changed
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "care" || parts[2] != "changed" || parts[1] == "" {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	resource := parts[1]

	var ev changeEvent
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal change event: %w", err)
		}
		if ev.Resource != "" && ev.Resource != resource {
			return fmt.Errorf("change event for %s on topic %s", ev.Resource, topic)
		}
	}

	if c.known != nil && !c.known(resource) {
		c.logger.Debug("Ignoring change for unknown resource", zap.String("resource", resource))
		return nil
	}

	n := c.target.Invalidate(resource)
	if c.observer != nil {
		c.observer.ObserveInvalidation(resource)
	}
	c.logger.Debug("Change notification applied",
		zap.String("resource", resource),
		zap.Int("ids", len(ev.IDs)),
		zap.Int("collections", n),
	)
	return nil
}
