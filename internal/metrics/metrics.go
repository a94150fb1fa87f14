// Package metrics 同步客户端的 Prometheus 指标（私有 Registry，不注册到全局）
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 全部指标
type Collector struct {
	registry *prometheus.Registry

	// 修改结果
	Mutations        *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec

	// 集合拉取
	Fetches       *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec

	// MQTT 失效通知
	Invalidations *prometheus.CounterVec
}

// NewCollector 创建指标集合；每次调用都使用新的 Registry，测试之间互不影响
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	mutations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Total number of optimistic mutations by final state",
		},
		[]string{"resource", "op", "state"},
	)

	mutationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Time from local apply to reconcile or rollback",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"resource", "op"},
	)

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Total number of collection loads by source and result",
		},
		[]string{"resource", "source", "result"},
	)

	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Collection load duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"resource", "source"},
	)

	invalidations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Total number of change notifications received",
		},
		[]string{"resource"},
	)

	registry.MustRegister(
		mutations,
		mutationDuration,
		fetches,
		fetchDuration,
		invalidations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		registry:         registry,
		Mutations:        mutations,
		MutationDuration: mutationDuration,
		Fetches:          fetches,
		FetchDuration:    fetchDuration,
		Invalidations:    invalidations,
	}
}

// ObserveMutation 记录一次修改的终态
func (c *Collector) ObserveMutation(resource, op, state string, elapsed time.Duration) {
	c.Mutations.WithLabelValues(resource, op, state).Inc()
	c.MutationDuration.WithLabelValues(resource, op).Observe(elapsed.Seconds())
}

// ObserveFetch 记录一次集合加载；source 为 memory / backend / snapshot
func (c *Collector) ObserveFetch(resource, source, result string, elapsed time.Duration) {
	c.Fetches.WithLabelValues(resource, source, result).Inc()
	c.FetchDuration.WithLabelValues(resource, source).Observe(elapsed.Seconds())
}

// ObserveInvalidation 记录一次失效通知
func (c *Collector) ObserveInvalidation(resource string) {
	c.Invalidations.WithLabelValues(resource).Inc()
}

// Registry 返回私有 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
