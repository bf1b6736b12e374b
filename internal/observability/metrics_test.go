package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordDecision(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")

	m.RecordDecision(DecisionAllowed)
	m.RecordDecision(DecisionAllowed)
	m.RecordDecision(DecisionThrottled)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requestsTotal.WithLabelValues(DecisionAllowed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues(DecisionThrottled)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.requestsTotal.WithLabelValues(DecisionBypassed)))
}

func TestMetrics_BufferGauges(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")

	m.SetBufferSize(42, 1024)
	assert.Equal(t, float64(42), testutil.ToFloat64(m.bufferEntries))
	assert.Equal(t, float64(1024), testutil.ToFloat64(m.bufferBytes))

	m.SetBufferSize(0, 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.bufferEntries))

	m.RecordEviction(3)
	m.RecordEviction(1)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.bufferEvictions))
}

func TestMetrics_FlushCounters(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")

	m.RecordFlushBatch("stream", FlushStatusSuccess)
	m.RecordFlushBatch("stream", FlushStatusDropped)
	m.RecordFlushBatch("column", FlushStatusSuccess)
	m.RecordFlushRetry("stream")
	m.RecordFlushRetry("stream")
	m.RecordAbuseEvent()
	m.ObserveFlushDuration("stream", 50*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.flushBatches.WithLabelValues("stream", FlushStatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.flushBatches.WithLabelValues("stream", FlushStatusDropped)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.flushBatches.WithLabelValues("column", FlushStatusSuccess)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.flushRetries.WithLabelValues("stream")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.abuseEventsTotal))
}

func TestMetrics_HandlerExposesSeries(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	// Vec series are pre-populated so they show up before any traffic.
	assert.Contains(t, body, "test_requests_total")
	assert.Contains(t, body, "test_flush_batches_total")
	assert.Contains(t, body, "test_buffer_entries")
}

func TestMetrics_FlushDurationHistogram(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	m.ObserveFlushDuration("stream", 30*time.Millisecond)
	m.ObserveFlushDuration("stream", 70*time.Millisecond)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() != "test_flush_duration_seconds" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "sink" && label.GetValue() == "stream" {
					hist = metric.GetHistogram()
				}
			}
		}
	}

	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 0.1, hist.GetSampleSum(), 0.001)
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	t.Parallel()

	// Two instances must not collide: each owns its registry.
	a := NewMetrics("test")
	b := NewMetrics("test")

	a.RecordDecision(DecisionAllowed)
	assert.Equal(t, float64(0), testutil.ToFloat64(b.requestsTotal.WithLabelValues(DecisionAllowed)))
	assert.NotSame(t, a.Registry(), b.Registry())
}
