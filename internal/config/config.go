package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "owl-care/common/config"
)

// Config owl-care 同步服务配置
type Config struct {
	HTTP struct {
		Addr string
	}
	Backend struct {
		BaseURL string
		Timeout time.Duration
		// Token 调用方未携带 token 时使用
		Token string
	}
	Log struct {
		Level  string
		Format string
	}
	Redis commoncfg.RedisConfig
	MQTT  commoncfg.MQTTConfig
	// RoundHours 巡房时刻，逗号分隔的 0-23
	RoundHours []string
	// MetricsNamespace Prometheus 指标前缀
	MetricsNamespace string
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Backend.BaseURL = getEnv("BACKEND_BASE_URL", "http://localhost:8090/api/v1")
	cfg.Backend.Timeout = time.Duration(parseInt(getEnv("BACKEND_TIMEOUT_SECONDS", "10"), 10)) * time.Second
	cfg.Backend.Token = getEnv("BACKEND_TOKEN", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// 快照缓存默认关闭：没有 Redis 时只使用内存集合
	cfg.Redis = commoncfg.RedisConfig{
		Addr: "localhost:6379",
		TTL:  24 * time.Hour,
	}
	cfg.Redis.LoadFromEnv("REDIS")

	// 变更通知默认关闭
	cfg.MQTT = commoncfg.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "owl-care-sync",
		QoS:      1,
		Topic:    "care/+/changed",
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.RoundHours = parseHours(getEnv("ROUND_HOURS", ""))
	cfg.MetricsNamespace = getEnv("METRICS_NAMESPACE", "owl_care")
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// parseHours "0,3,21" → ["00","03","21"]；非法项忽略，全部非法时返回 nil（使用默认）
func parseHours(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		h, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || h < 0 || h > 23 {
			continue
		}
		out = append(out, twoDigits(h))
	}
	return out
}

func twoDigits(h int) string {
	if h < 10 {
		return "0" + strconv.Itoa(h)
	}
	return strconv.Itoa(h)
}
