// Package metrics exposes device-runtime counters through Prometheus.
// Recording is nil-safe: when Init was never called every Record helper is
// a no-op, so library users who do not scrape pay nothing.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the prometheus collectors of the device runtime.
type Metrics struct {
	registry *prometheus.Registry

	offloadsTotal    *prometheus.CounterVec
	offloadDuration  *prometheus.HistogramVec
	uploadCacheHits  prometheus.Counter
	uploadCacheMiss  prometheus.Counter
	queueDepth       prometheus.Gauge
	stateTransitions *prometheus.CounterVec
	probeLatency     prometheus.Histogram
}

// Offload duration buckets in milliseconds.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var (
	mu   sync.Mutex
	inst *Metrics
)

// Init initializes the metrics subsystem under the given namespace.
// Calling it twice returns the existing instance.
func Init(namespace string) *Metrics {
	mu.Lock()
	defer mu.Unlock()
	if inst != nil {
		return inst
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		offloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offloads_total",
				Help:      "Total number of offloaded invocations",
			},
			[]string{"mode", "status"},
		),

		offloadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "offload_duration_ms",
				Help:      "Offload round-trip duration in milliseconds",
				Buckets:   defaultBuckets,
			},
			[]string{"mode"},
		),

		uploadCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_cache_hits_total",
				Help:      "Function uploads avoided by the fingerprint cache",
			},
		),

		uploadCacheMiss: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_cache_misses_total",
				Help:      "Function bodies uploaded to the content store",
			},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "call_queue_depth",
				Help:      "Pending calls in the device queue",
			},
		),

		stateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "supervisor_transitions_total",
				Help:      "Supervisor state transitions",
			},
			[]string{"from", "to"},
		),

		probeLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cluster_latency_ms",
				Help:      "Measured round-trip latency to the active cluster",
				Buckets:   defaultBuckets,
			},
		),
	}

	registry.MustRegister(
		m.offloadsTotal,
		m.offloadDuration,
		m.uploadCacheHits,
		m.uploadCacheMiss,
		m.queueDepth,
		m.stateTransitions,
		m.probeLatency,
	)

	inst = m
	return m
}

// Default returns the initialized metrics instance, or nil.
func Default() *Metrics {
	mu.Lock()
	defer mu.Unlock()
	return inst
}

// Handler returns the scrape handler for the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOffload counts one completed offload.
func (m *Metrics) RecordOffload(mode, status string, durationMs float64) {
	if m == nil {
		return
	}
	m.offloadsTotal.WithLabelValues(mode, status).Inc()
	m.offloadDuration.WithLabelValues(mode).Observe(durationMs)
}

// RecordUploadCache counts an upload-cache lookup outcome.
func (m *Metrics) RecordUploadCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.uploadCacheHits.Inc()
	} else {
		m.uploadCacheMiss.Inc()
	}
}

// SetQueueDepth publishes the current call-queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RecordTransition counts a supervisor state transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordProbeLatency observes one latency sample in milliseconds.
func (m *Metrics) RecordProbeLatency(ms float64) {
	if m == nil {
		return
	}
	m.probeLatency.Observe(ms)
}
