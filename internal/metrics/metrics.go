// Package metrics exposes the worker's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector gathers everything the worker reports. A nil *Collector is valid and records nothing,
// which keeps tests free of registry plumbing.
type Collector struct {
	upstreamFetches *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	chatSteps       prometheus.Histogram
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "site_worker_upstream_fetches_total",
			Help: "Outbound fetches by upstream source and outcome.",
		}, []string{"source", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "site_worker_upstream_fetch_seconds",
			Help:    "Latency of outbound fetches by upstream source.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "site_worker_edge_cache_lookups_total",
			Help: "Edge cache lookups by result (hit or miss).",
		}, []string{"result"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "site_worker_chat_tool_calls_total",
			Help: "Chat tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		chatSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "site_worker_chat_steps",
			Help:    "Model steps taken per chat turn.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8},
		}),
	}

	reg.MustRegister(
		c.upstreamFetches,
		c.upstreamLatency,
		c.cacheLookups,
		c.toolCalls,
		c.chatSteps,
	)

	return c
}

// ObserveFetch records one outbound fetch against an upstream source.
func (c *Collector) ObserveFetch(source string, took time.Duration, err error) {
	if c == nil {
		return
	}
	c.upstreamFetches.WithLabelValues(source, outcome(err)).Inc()
	c.upstreamLatency.WithLabelValues(source).Observe(took.Seconds())
}

// ObserveCache records an edge cache lookup.
func (c *Collector) ObserveCache(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveTool records a chat tool execution.
func (c *Collector) ObserveTool(tool string, failed bool) {
	if c == nil {
		return
	}
	o := OutcomeOK
	if failed {
		o = OutcomeError
	}
	c.toolCalls.WithLabelValues(tool, o).Inc()
}

// ObserveChatSteps records how many model steps a chat turn used.
func (c *Collector) ObserveChatSteps(steps int) {
	if c == nil {
		return
	}
	c.chatSteps.Observe(float64(steps))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
