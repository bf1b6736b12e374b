package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request decision label values.
const (
	DecisionAllowed   = "allowed"
	DecisionBypassed  = "bypassed"
	DecisionThrottled = "throttled"
)

// Flush status label values.
const (
	FlushStatusSuccess = "success"
	FlushStatusDropped = "dropped"
)

// Metrics holds all Prometheus metrics for the guard.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	abuseEventsTotal prometheus.Counter
	bufferEntries    prometheus.Gauge
	bufferBytes      prometheus.Gauge
	bufferEvictions  prometheus.Counter
	flushBatches     *prometheus.CounterVec
	flushRetries     *prometheus.CounterVec
	flushDuration    *prometheus.HistogramVec
	registry         *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "guard"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of guarded requests by decision",
		},
		[]string{"decision"},
	)

	m.abuseEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abuse_events_total",
			Help:      "Total number of suspicious_rate events emitted",
		},
	)

	m.bufferEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_entries",
			Help:      "Current number of entries held in the log buffer",
		},
	)

	m.bufferBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_bytes",
			Help:      "Approximate byte size of the log buffer",
		},
	)

	m.bufferEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_evictions_total",
			Help:      "Total number of entries evicted from the log buffer",
		},
	)

	m.flushBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_batches_total",
			Help:      "Total number of flush batches by sink and status",
		},
		[]string{"sink", "status"},
	)

	m.flushRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_retries_total",
			Help:      "Total number of flush delivery retries by sink",
		},
		[]string{"sink"},
	)

	m.flushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of flush delivery attempts in seconds",
			Buckets: []float64{
				.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"sink"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.abuseEventsTotal,
		m.bufferEntries,
		m.bufferBytes,
		m.bufferEvictions,
		m.flushBatches,
		m.flushRetries,
		m.flushDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.init()

	return m
}

// init pre-populates label combinations with zero values so Vec metrics
// appear in /metrics output immediately after startup. Idempotent.
func (m *Metrics) init() {
	for _, d := range []string{DecisionAllowed, DecisionBypassed, DecisionThrottled} {
		m.requestsTotal.WithLabelValues(d)
	}
	for _, sink := range []string{"stream", "column"} {
		for _, s := range []string{FlushStatusSuccess, FlushStatusDropped} {
			m.flushBatches.WithLabelValues(sink, s)
		}
		m.flushRetries.WithLabelValues(sink)
	}
}

// RecordDecision records the outcome of a pre-handling check.
func (m *Metrics) RecordDecision(decision string) {
	m.requestsTotal.WithLabelValues(decision).Inc()
}

// RecordAbuseEvent records one emitted suspicious_rate event.
func (m *Metrics) RecordAbuseEvent() {
	m.abuseEventsTotal.Inc()
}

// SetBufferSize records the current buffer entry count and byte estimate.
func (m *Metrics) SetBufferSize(entries int, bytes int64) {
	m.bufferEntries.Set(float64(entries))
	m.bufferBytes.Set(float64(bytes))
}

// RecordEviction records evicted buffer entries.
func (m *Metrics) RecordEviction(n int) {
	m.bufferEvictions.Add(float64(n))
}

// RecordFlushBatch records the final outcome of one sink's batch delivery.
func (m *Metrics) RecordFlushBatch(sink, status string) {
	m.flushBatches.WithLabelValues(sink, status).Inc()
}

// RecordFlushRetry records one retried delivery attempt.
func (m *Metrics) RecordFlushRetry(sink string) {
	m.flushRetries.WithLabelValues(sink).Inc()
}

// ObserveFlushDuration records the duration of one sink delivery.
func (m *Metrics) ObserveFlushDuration(sink string, d time.Duration) {
	m.flushDuration.WithLabelValues(sink).Observe(d.Seconds())
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}
