package quota

import (
	"context"
	"errors"
)

// ErrQuotaExceeded indicates the client has exhausted its quota for the
// current window. The caller must retry later; the guard never retries
// or queues on its behalf.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Adapter consumes one unit of quota for a client key. A nil return
// means the request may proceed; ErrQuotaExceeded means it must be
// rejected. Any other error is an infrastructure failure.
type Adapter interface {
	Consume(ctx context.Context, key string) error
}

// NoopAdapter always grants quota.
type NoopAdapter struct{}

// NewNoopAdapter creates a new noop adapter.
func NewNoopAdapter() *NoopAdapter {
	return &NoopAdapter{}
}

// Consume implements Adapter.
func (a *NoopAdapter) Consume(_ context.Context, _ string) error {
	return nil
}

// Ensure implementations satisfy the interface.
var _ Adapter = (*NoopAdapter)(nil)
