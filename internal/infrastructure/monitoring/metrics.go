package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "perftrace"

// Delay buckets in milliseconds.
var delayBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Trace lifecycle metrics
	TracesStarted    prometheus.Counter
	TracesCompleted  prometheus.Counter
	TracesIncomplete *prometheus.CounterVec
	TracesEvicted    prometheus.Counter
	StagesRecorded   *prometheus.CounterVec
	EndToEnd         prometheus.Histogram
	HopDelay         *prometheus.HistogramVec

	// Persistence metrics
	SyncOps *prometheus.CounterVec
	Exports *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    prometheus.Counter

	startTime time.Time

	// Snapshot for the JSON API
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the JSON API.
type Snapshot struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	Started       int64   `json:"traces_started"`
	Completed     int64   `json:"traces_completed"`
	Incomplete    int64   `json:"traces_incomplete"`
	Uptime        string  `json:"uptime"`

	totalDuration time.Duration
}

// NewMetrics registers every metric on reg. A nil reg gets a fresh
// registry with the Go and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		TracesStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_started_total",
			Help:      "Traces begun by this component",
		}),
		TracesCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_completed_total",
			Help:      "Traces completed by this component",
		}),
		TracesIncomplete: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "traces_incomplete_total",
				Help:      "Traces marked incomplete, by reason",
			},
			[]string{"reason"},
		),
		TracesEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_evicted_total",
			Help:      "Traces dropped after the retention window",
		}),
		StagesRecorded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_recorded_total",
				Help:      "Stage timestamps recorded, by stage",
			},
			[]string{"stage"},
		),
		EndToEnd: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "end_to_end_delay_ms",
			Help:      "End-to-end delay of completed traces in milliseconds",
			Buckets:   delayBuckets,
		}),
		HopDelay: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "hop_delay_ms",
				Help:      "Delay between consecutive recorded stages in milliseconds",
				Buckets:   delayBuckets,
			},
			[]string{"hop"},
		),

		SyncOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shared_state_ops_total",
				Help:      "Shared-state loads, saves and evictions, by outcome",
			},
			[]string{"op", "status"},
		),
		Exports: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exports_total",
				Help:      "Export runs, by outcome",
			},
			[]string{"status"},
		),

		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Number of active stream subscribers",
		}),
		WSMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Lifecycle events written to stream subscribers",
		}),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Tracer uptime in seconds",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterGauge exposes fn as a gauge, for values owned elsewhere such
// as the number of pending traces.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Snapshot returns the running totals.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	if s.TotalRequests > 0 {
		s.AvgLatencyMs = float64(s.totalDuration.Microseconds()) / 1000 / float64(s.TotalRequests)
	}
	s.Uptime = time.Since(m.startTime).Round(time.Second).String()
	return s
}
