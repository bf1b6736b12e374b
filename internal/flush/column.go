package flush

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/vyrodovalexey/apiguard/internal/observability"
	"github.com/vyrodovalexey/apiguard/internal/telemetry"
)

// columnRow is the fixed-column row shape ingested by the analytics
// store. Field names must match the insert statement's column list.
type columnRow struct {
	TsMs   int64  `json:"ts_ms"`
	Env    string `json:"env"`
	Server string `json:"server"`
	Event  string `json:"event"`
	Line   string `json:"line"`
}

// Label keys flattened into dedicated columns.
const (
	labelEnv    = "env"
	labelServer = "server"
	labelEvent  = "event"
)

// ColumnSinkConfig holds configuration for the columnar analytics sink.
type ColumnSinkConfig struct {
	// Endpoint is the store's base URL.
	Endpoint string

	// User and Password are optional basic credentials.
	User     string
	Password string

	// Table is the target table of the insert statement.
	Table string

	// ChunkSize bounds the number of rows per insert request.
	ChunkSize int

	// Retries is the per-chunk delivery attempt budget.
	Retries int

	// RetryBase is the base delay of the exponential backoff.
	RetryBase time.Duration
}

// ColumnSink flattens entries into fixed-column rows and inserts them
// in bounded chunks. Chunks are not transactional across each other: a
// chunk that exhausts its retries is dropped while earlier successful
// chunks remain committed.
type ColumnSink struct {
	cfg       ColumnSinkConfig
	insertURL string
	client    *http.Client
	logger    observability.Logger
	metrics   *observability.Metrics
}

// NewColumnSink creates a columnar analytics sink.
func NewColumnSink(
	cfg ColumnSinkConfig,
	client *http.Client,
	logger observability.Logger,
	metrics *observability.Metrics,
) *ColumnSink {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (ts_ms, env, server, event, line) FORMAT JSONEachRow",
		cfg.Table,
	)

	return &ColumnSink{
		cfg:       cfg,
		insertURL: cfg.Endpoint + "/?query=" + url.QueryEscape(query),
		client:    client,
		logger:    logger,
		metrics:   metrics,
	}
}

// Name returns the sink label used in logs and metrics.
func (s *ColumnSink) Name() string {
	return "column"
}

// Deliver flattens and inserts the snapshot chunk by chunk. Each chunk
// is retried independently; the returned error summarizes dropped
// chunks without undoing committed ones.
func (s *ColumnSink) Deliver(ctx context.Context, entries []telemetry.Entry) error {
	ndjson := s.encodeRows(entries)
	if len(ndjson) == 0 {
		return nil
	}

	chunks := chunkLines(ndjson, s.cfg.ChunkSize)

	dropped := 0
	for _, chunk := range chunks {
		err := retryDelivery(ctx, s.cfg.Retries, s.cfg.RetryBase, s.Name(), s.metrics,
			func(ctx context.Context) error {
				return s.insert(ctx, chunk)
			})
		if err != nil {
			dropped++
			s.logger.Error("column chunk dropped after retries",
				observability.Int("rows", len(chunk)),
				observability.Error(err),
			)
		}
	}

	if dropped > 0 {
		return fmt.Errorf("dropped %d of %d column chunks", dropped, len(chunks))
	}
	return nil
}

// encodeRows flattens entries into serialized rows, skipping any entry
// that fails to serialize.
func (s *ColumnSink) encodeRows(entries []telemetry.Entry) [][]byte {
	rows := make([][]byte, 0, len(entries))
	for _, e := range entries {
		row := columnRow{
			TsMs:   e.TimestampMs,
			Env:    e.Labels[labelEnv],
			Server: e.Labels[labelServer],
			Event:  e.Labels[labelEvent],
			Line:   e.Line,
		}

		data, err := json.Marshal(row)
		if err != nil {
			s.logger.Warn("skipping unserializable entry", observability.Error(err))
			continue
		}
		rows = append(rows, data)
	}
	return rows
}

// chunkLines splits rows into chunks of at most size rows.
func chunkLines(rows [][]byte, size int) [][][]byte {
	chunks := make([][][]byte, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

// insert performs one chunk insert attempt.
func (s *ColumnSink) insert(ctx context.Context, rows [][]byte) error {
	var body bytes.Buffer
	for _, row := range rows {
		body.Write(row)
		body.WriteByte('\n')
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.insertURL, &body)
	if err != nil {
		return fmt.Errorf("failed to build insert request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	if s.cfg.User != "" {
		req.SetBasicAuth(s.cfg.User, s.cfg.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("column insert failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("column insert rejected: status %d", resp.StatusCode)
	}

	return nil
}
