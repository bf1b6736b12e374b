package telemetry

import (
	"sync"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// sizedEntry pairs an entry with its size estimate so eviction can
// subtract exactly what insertion added.
type sizedEntry struct {
	entry Entry
	size  int
}

// Buffer is a bounded FIFO holding area for entries awaiting flush.
//
// At all times the entry count stays at or below maxEntries and the
// byte estimate exceeds maxBytes by at most the size of the most
// recently inserted entry; violations are resolved by evicting the
// oldest entries. Add never blocks on I/O.
type Buffer struct {
	mu          sync.Mutex
	entries     []sizedEntry
	approxBytes int64

	maxEntries int
	maxBytes   int64

	metrics *observability.Metrics
}

// BufferOption is a functional option for the buffer.
type BufferOption func(*Buffer)

// WithBufferMetrics sets the guard metrics used to report buffer state.
func WithBufferMetrics(m *observability.Metrics) BufferOption {
	return func(b *Buffer) {
		b.metrics = m
	}
}

// Capacity fallbacks applied when a caller passes non-positive bounds.
const (
	defaultMaxEntries = 10000
	defaultMaxBytes   = int64(8 << 20)
)

// NewBuffer creates a buffer bounded by entry count and byte estimate.
// Non-positive bounds fall back to the package defaults.
func NewBuffer(maxEntries int, maxBytes int64, opts ...BufferOption) *Buffer {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	b := &Buffer{
		entries:    make([]sizedEntry, 0, maxEntries),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Add appends an entry, evicting oldest-first until both bounds hold.
func (b *Buffer) Add(entry Entry) {
	size := entry.Size()

	b.mu.Lock()

	evicted := 0
	for len(b.entries) > 0 &&
		(len(b.entries) >= b.maxEntries || b.approxBytes+int64(size) > b.maxBytes) {
		b.approxBytes -= int64(b.entries[0].size)
		b.entries[0] = sizedEntry{}
		b.entries = b.entries[1:]
		evicted++
	}

	b.entries = append(b.entries, sizedEntry{entry: entry, size: size})
	b.approxBytes += int64(size)

	count := len(b.entries)
	bytes := b.approxBytes
	b.mu.Unlock()

	if b.metrics != nil {
		if evicted > 0 {
			b.metrics.RecordEviction(evicted)
		}
		b.metrics.SetBufferSize(count, bytes)
	}
}

// Drain atomically swaps the internal store for an empty one and
// returns the previous contents. Entries added concurrently land in
// the new store and appear in the next drain.
func (b *Buffer) Drain() []Entry {
	b.mu.Lock()
	drained := b.entries
	b.entries = make([]sizedEntry, 0, b.maxEntries)
	b.approxBytes = 0
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.SetBufferSize(0, 0)
	}

	if len(drained) == 0 {
		return nil
	}

	entries := make([]Entry, len(drained))
	for i, se := range drained {
		entries[i] = se.entry
	}
	return entries
}

// Len returns the current entry count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// ApproxBytes returns the current byte estimate.
func (b *Buffer) ApproxBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.approxBytes
}
