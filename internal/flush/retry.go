package flush

import (
	"context"
	"time"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// DeliverFunc performs one delivery attempt.
type DeliverFunc func(ctx context.Context) error

// retryDelivery runs fn up to attempts times with exponential backoff
// delays of base * 2^(attempt-1) between attempts. Returns nil on the
// first success; the last error once the budget is exhausted.
func retryDelivery(
	ctx context.Context,
	attempts int,
	base time.Duration,
	sink string,
	metrics *observability.Metrics,
	fn DeliverFunc,
) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt < attempts {
			if metrics != nil {
				metrics.RecordFlushRetry(sink)
			}

			backoff := base << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return lastErr
}
