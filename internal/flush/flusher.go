package flush

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/apiguard/internal/observability"
	"github.com/vyrodovalexey/apiguard/internal/telemetry"
)

// Sink delivers one immutable batch snapshot. Implementations own
// their complete retry policy; a non-nil return means the batch (or
// part of it) was dropped after the budget was exhausted.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, entries []telemetry.Entry) error
}

// Flusher drains the buffer and ships each snapshot to all sinks
// concurrently. One sink's failure never delays or affects another:
// every sink works from the same already-drained snapshot.
type Flusher struct {
	buffer  *telemetry.Buffer
	sinks   []Sink
	logger  observability.Logger
	metrics *observability.Metrics
}

// FlusherOption is a functional option for the flusher.
type FlusherOption func(*Flusher)

// WithFlusherLogger sets the logger.
func WithFlusherLogger(logger observability.Logger) FlusherOption {
	return func(f *Flusher) {
		f.logger = logger
	}
}

// WithFlusherMetrics sets the guard metrics.
func WithFlusherMetrics(m *observability.Metrics) FlusherOption {
	return func(f *Flusher) {
		f.metrics = m
	}
}

// NewFlusher creates a flusher over the buffer and sinks.
func NewFlusher(buffer *telemetry.Buffer, sinks []Sink, opts ...FlusherOption) *Flusher {
	f := &Flusher{
		buffer: buffer,
		sinks:  sinks,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// FlushOnce drains the buffer and delivers the snapshot. A no-op when
// the buffer is empty. Returns the number of entries drained.
func (f *Flusher) FlushOnce(ctx context.Context) int {
	entries := f.buffer.Drain()
	if len(entries) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, sink := range f.sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			f.deliver(ctx, sink, entries)
		}(sink)
	}
	wg.Wait()

	return len(entries)
}

// deliver runs one sink's delivery and records the outcome. The batch
// is discarded regardless of the result (at-most-once delivery).
func (f *Flusher) deliver(ctx context.Context, sink Sink, entries []telemetry.Entry) {
	start := time.Now()
	err := sink.Deliver(ctx, entries)
	elapsed := time.Since(start)

	if f.metrics != nil {
		f.metrics.ObserveFlushDuration(sink.Name(), elapsed)
	}

	if err != nil {
		if f.metrics != nil {
			f.metrics.RecordFlushBatch(sink.Name(), observability.FlushStatusDropped)
		}
		f.logger.Error("flush batch dropped",
			observability.String("sink", sink.Name()),
			observability.Int("entries", len(entries)),
			observability.Duration("elapsed", elapsed),
			observability.Error(err),
		)
		return
	}

	if f.metrics != nil {
		f.metrics.RecordFlushBatch(sink.Name(), observability.FlushStatusSuccess)
	}
	f.logger.Debug("flush batch delivered",
		observability.String("sink", sink.Name()),
		observability.Int("entries", len(entries)),
		observability.Duration("elapsed", elapsed),
	)
}
