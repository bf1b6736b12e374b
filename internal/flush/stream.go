package flush

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/vyrodovalexey/apiguard/internal/observability"
	"github.com/vyrodovalexey/apiguard/internal/telemetry"
)

// streamPushRequest is the streaming sink wire format:
// {streams:[{stream: labels, values: [[ns-string, line], ...]}, ...]}.
type streamPushRequest struct {
	Streams []streamGroup `json:"streams"`
}

type streamGroup struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// StreamSinkConfig holds configuration for the streaming-log sink.
type StreamSinkConfig struct {
	// Endpoint is the push URL.
	Endpoint string

	// Retries is the total delivery attempt budget per batch.
	Retries int

	// RetryBase is the base delay of the exponential backoff.
	RetryBase time.Duration
}

// StreamSink groups entries by canonical label set into time-ordered
// streams and pushes the compressed set in one HTTP request.
type StreamSink struct {
	cfg     StreamSinkConfig
	client  *http.Client
	logger  observability.Logger
	metrics *observability.Metrics
}

// NewStreamSink creates a streaming-log sink.
func NewStreamSink(
	cfg StreamSinkConfig,
	client *http.Client,
	logger observability.Logger,
	metrics *observability.Metrics,
) *StreamSink {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &StreamSink{cfg: cfg, client: client, logger: logger, metrics: metrics}
}

// Name returns the sink label used in logs and metrics.
func (s *StreamSink) Name() string {
	return "stream"
}

// Deliver ships the snapshot, retrying the whole batch on failure. The
// batch is dropped once the retry budget is exhausted.
func (s *StreamSink) Deliver(ctx context.Context, entries []telemetry.Entry) error {
	body, err := s.buildBody(entries)
	if err != nil {
		// Serialization failures are not retryable; drop the batch.
		s.logger.Error("failed to serialize stream batch", observability.Error(err))
		return err
	}

	return retryDelivery(ctx, s.cfg.Retries, s.cfg.RetryBase, s.Name(), s.metrics,
		func(ctx context.Context) error {
			return s.push(ctx, body)
		})
}

// buildBody groups the entries into streams and gzips the serialized
// push request.
func (s *StreamSink) buildBody(entries []telemetry.Entry) ([]byte, error) {
	groups := make(map[string]*streamGroup)
	order := make([]string, 0)

	for _, e := range entries {
		key := telemetry.CanonicalLabels(e.Labels)
		g, ok := groups[key]
		if !ok {
			g = &streamGroup{Stream: e.Labels}
			groups[key] = g
			order = append(order, key)
		}
		ns := strconv.FormatInt(e.TimestampMs*int64(time.Millisecond), 10)
		g.Values = append(g.Values, [2]string{ns, e.Line})
	}

	// Deterministic stream order keeps payloads reproducible.
	sort.Strings(order)

	req := streamPushRequest{Streams: make([]streamGroup, 0, len(groups))}
	for _, key := range order {
		req.Streams = append(req.Streams, *groups[key])
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push request: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress push request: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compression: %w", err)
	}

	return buf.Bytes(), nil
}

// push performs one delivery attempt.
func (s *StreamSink) push(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream push failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("stream push rejected: status %d", resp.StatusCode)
	}

	return nil
}
