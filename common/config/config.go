package config

import (
	"fmt"
	"os"
	"time"
)

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// 快照缓存 TTL（写入已确认集合时使用）
	TTL time.Duration
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	Topic    string
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	if enabled := os.Getenv(prefix + "_ENABLED"); enabled != "" {
		c.Enabled = enabled == "true"
	}
	if addr := os.Getenv(prefix + "_ADDR"); addr != "" {
		c.Addr = addr
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if db := os.Getenv(prefix + "_DB"); db != "" {
		fmt.Sscanf(db, "%d", &c.DB)
	}
	if ttl := os.Getenv(prefix + "_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			c.TTL = d
		}
	}
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	if enabled := os.Getenv(prefix + "_ENABLED"); enabled != "" {
		c.Enabled = enabled == "true"
	}
	if broker := os.Getenv(prefix + "_BROKER"); broker != "" {
		c.Broker = broker
	}
	if clientID := os.Getenv(prefix + "_CLIENT_ID"); clientID != "" {
		c.ClientID = clientID
	}
	if username := os.Getenv(prefix + "_USERNAME"); username != "" {
		c.Username = username
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if qos := os.Getenv(prefix + "_QOS"); qos != "" {
		var q int
		if _, err := fmt.Sscanf(qos, "%d", &q); err == nil && q >= 0 && q <= 2 {
			c.QoS = byte(q)
		}
	}
	if topic := os.Getenv(prefix + "_TOPIC"); topic != "" {
		c.Topic = topic
	}
}
