package quota

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// Default Redis adapter configuration constants.
const (
	// DefaultKeyPrefix is prepended to every quota key.
	DefaultKeyPrefix = "quota:"

	// DefaultBreakerThreshold is the request count before the failure
	// ratio trips the breaker.
	DefaultBreakerThreshold = 5

	// DefaultBreakerTimeout is how long the breaker stays open.
	DefaultBreakerTimeout = 10 * time.Second
)

// consumeScript atomically increments the window counter and sets its
// expiry on first increment.
// KEYS[1] = window key
// ARGV[1] = window length in milliseconds
var consumeScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisConfig holds configuration for the Redis quota adapter.
type RedisConfig struct {
	// Limit is the number of requests allowed per window per key.
	Limit int

	// Window is the fixed quota window.
	Window time.Duration

	// Prefix is the key prefix in Redis.
	Prefix string

	// FallbackEnabled enables a process-local limiter when Redis is
	// unavailable. When disabled the adapter fails open.
	FallbackEnabled bool

	// BreakerThreshold is the circuit breaker trip threshold.
	BreakerThreshold int

	// BreakerTimeout is the circuit breaker open duration.
	BreakerTimeout time.Duration
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig(limit int, window time.Duration) *RedisConfig {
	return &RedisConfig{
		Limit:            limit,
		Window:           window,
		Prefix:           DefaultKeyPrefix,
		FallbackEnabled:  true,
		BreakerThreshold: DefaultBreakerThreshold,
		BreakerTimeout:   DefaultBreakerTimeout,
	}
}

// RedisAdapter enforces a fixed-window quota in Redis so the limit is
// shared across all process instances. Redis calls run behind a circuit
// breaker; when Redis is unreachable the adapter degrades to a local
// per-key limiter (or fails open when the fallback is disabled), so an
// outage of the quota store never takes down the request path.
type RedisAdapter struct {
	client  redis.Scripter
	cfg     *RedisConfig
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger

	fallbackMu sync.Mutex
	fallback   map[string]*rate.Limiter
}

// RedisAdapterOption is a functional option for the adapter.
type RedisAdapterOption func(*RedisAdapter)

// WithRedisAdapterLogger sets the logger.
func WithRedisAdapterLogger(logger observability.Logger) RedisAdapterOption {
	return func(a *RedisAdapter) {
		a.logger = logger
	}
}

// NewRedisAdapter creates a Redis-backed quota adapter. The client is
// injected; its lifecycle belongs to the caller.
func NewRedisAdapter(client redis.Scripter, cfg *RedisConfig, opts ...RedisAdapterOption) *RedisAdapter {
	if cfg == nil {
		cfg = DefaultRedisConfig(0, time.Minute)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultKeyPrefix
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = DefaultBreakerThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = DefaultBreakerTimeout
	}

	a := &RedisAdapter{
		client:   client,
		cfg:      cfg,
		logger:   observability.NopLogger(),
		fallback: make(map[string]*rate.Limiter),
	}

	for _, opt := range opts {
		opt(a)
	}

	threshold := uint32(cfg.BreakerThreshold) //nolint:gosec // validated above
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-quota",
		MaxRequests: threshold,
		Interval:    cfg.BreakerTimeout,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Info("quota circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return a
}

// Consume takes one unit of quota for the key. Returns
// ErrQuotaExceeded when the window limit is exhausted.
func (a *RedisAdapter) Consume(ctx context.Context, key string) error {
	windowMs := strconv.FormatInt(a.cfg.Window.Milliseconds(), 10)
	redisKey := a.cfg.Prefix + key

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return consumeScript.Run(ctx, a.client, []string{redisKey}, windowMs).Int64()
	})
	if err != nil {
		return a.consumeFallback(key, err)
	}

	current, ok := result.(int64)
	if !ok {
		return fmt.Errorf("unexpected quota script result type %T", result)
	}

	if current > int64(a.cfg.Limit) {
		return ErrQuotaExceeded
	}

	return nil
}

// consumeFallback handles a Redis failure: local per-key limiter when
// the fallback is enabled, fail-open otherwise.
func (a *RedisAdapter) consumeFallback(key string, cause error) error {
	if !a.cfg.FallbackEnabled {
		a.logger.Warn("quota store unavailable, failing open",
			observability.Error(cause),
		)
		return nil
	}

	a.fallbackMu.Lock()
	limiter, ok := a.fallback[key]
	if !ok {
		limiter = rate.NewLimiter(
			rate.Limit(float64(a.cfg.Limit)/a.cfg.Window.Seconds()),
			a.cfg.Limit,
		)
		a.fallback[key] = limiter
	}
	a.fallbackMu.Unlock()

	a.logger.Debug("quota store unavailable, using local fallback",
		observability.Error(cause),
	)

	if !limiter.Allow() {
		return ErrQuotaExceeded
	}
	return nil
}

// Ensure implementation satisfies the interface.
var _ Adapter = (*RedisAdapter)(nil)
