package guard

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/apiguard/internal/telemetry"
)

// Telemetry event types carried in the "event" label.
const (
	EventRequest        = "request"
	EventSuspiciousRate = "suspicious_rate"
)

// RequestRecord is the post-handling metadata captured per request.
type RequestRecord struct {
	Method     string
	Route      string
	Status     int
	DurationMs int64
	ClientKey  string
	ServerTag  string
	RequestID  string
}

// requestLine is the serialized payload of a request event.
type requestLine struct {
	Method     string `json:"method"`
	Route      string `json:"route"`
	Status     int    `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	ClientKey  string `json:"client_key"`
	RequestID  string `json:"request_id,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
	SpanID     string `json:"span_id,omitempty"`
}

// suspiciousLine is the serialized payload of a suspicious_rate event.
type suspiciousLine struct {
	ClientKey string `json:"client_key"`
	WindowMs  int64  `json:"window_ms"`
}

// requestEntry builds the buffered entry for one handled request.
// Labels stay low-cardinality: the route template and per-request ids
// live in the payload line, not the label set.
func (o *Orchestrator) requestEntry(ctx context.Context, rec RequestRecord, now time.Time) (telemetry.Entry, error) {
	line := requestLine{
		Method:     rec.Method,
		Route:      rec.Route,
		Status:     rec.Status,
		DurationMs: rec.DurationMs,
		ClientKey:  rec.ClientKey,
		RequestID:  rec.RequestID,
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		line.TraceID = sc.TraceID().String()
		if sc.HasSpanID() {
			line.SpanID = sc.SpanID().String()
		}
	}

	data, err := json.Marshal(line)
	if err != nil {
		return telemetry.Entry{}, err
	}

	return telemetry.NewEntry(o.labels(EventRequest, rec.ServerTag), string(data), now), nil
}

// suspiciousEntry builds the buffered entry for one abuse detection.
func (o *Orchestrator) suspiciousEntry(clientKey string, window time.Duration, now time.Time) (telemetry.Entry, error) {
	data, err := json.Marshal(suspiciousLine{
		ClientKey: clientKey,
		WindowMs:  window.Milliseconds(),
	})
	if err != nil {
		return telemetry.Entry{}, err
	}

	return telemetry.NewEntry(o.labels(EventSuspiciousRate, ""), string(data), now), nil
}

// labels assembles the label set for an event.
func (o *Orchestrator) labels(event, serverTag string) map[string]string {
	labels := map[string]string{
		"env":   o.environment,
		"event": event,
	}
	if serverTag != "" {
		labels["server"] = serverTag
	}
	return labels
}
