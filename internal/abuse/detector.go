package abuse

import (
	"sync"
	"time"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// Default sweep configuration constants.
const (
	// DefaultSweepIdleIntervals is the number of decay intervals a client
	// may stay idle before its counter is removed.
	DefaultSweepIdleIntervals = 10

	// MinSweepInterval is the minimum interval between sweep runs.
	MinSweepInterval = 10 * time.Second

	// MaxSweepInterval is the maximum interval between sweep runs.
	MaxSweepInterval = time.Minute
)

// EventFunc is invoked once for every client whose counter crosses the
// abuse threshold. The window is the configured decay interval.
type EventFunc func(clientKey string, window time.Duration)

// counter holds the decaying hit count for one client key.
type counter struct {
	count    int
	lastTick time.Time
}

// Detector maintains decaying per-client hit counters. Counters are
// created lazily on first observation and removed by the idle sweep.
type Detector struct {
	decayInterval time.Duration
	decayFactor   float64
	threshold     int

	mu       sync.Mutex
	counters map[string]*counter

	onAbuse EventFunc
	logger  observability.Logger

	idleIntervals int
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// DetectorOption is a functional option for the detector.
type DetectorOption func(*Detector)

// WithDetectorLogger sets the logger.
func WithDetectorLogger(logger observability.Logger) DetectorOption {
	return func(d *Detector) {
		d.logger = logger
	}
}

// WithEventFunc sets the callback fired on a threshold crossing.
func WithEventFunc(fn EventFunc) DetectorOption {
	return func(d *Detector) {
		d.onAbuse = fn
	}
}

// WithSweepIdleIntervals overrides the idle tolerance of the sweep,
// measured in decay intervals.
func WithSweepIdleIntervals(n int) DetectorOption {
	return func(d *Detector) {
		if n > 0 {
			d.idleIntervals = n
		}
	}
}

// OnAbuse sets the threshold-crossing callback after construction, for
// composition roots where the event consumer is built later.
func (d *Detector) OnAbuse(fn EventFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAbuse = fn
}

// NewDetector creates a detector with the given decay schedule and
// abuse threshold.
func NewDetector(decayInterval time.Duration, decayFactor float64, threshold int, opts ...DetectorOption) *Detector {
	d := &Detector{
		decayInterval: decayInterval,
		decayFactor:   decayFactor,
		threshold:     threshold,
		counters:      make(map[string]*counter),
		logger:        observability.NopLogger(),
		idleIntervals: DefaultSweepIdleIntervals,
		stopCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// RecordHit applies the decay-then-increment algorithm for one observed
// request. Decay is applied one interval at a time, each application
// independently floored. When no full interval has elapsed, lastTick is
// left unchanged so the decay schedule stays anchored to the last decay
// event rather than the last hit.
func (d *Detector) RecordHit(clientKey string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.counters[clientKey]
	if !ok {
		d.counters[clientKey] = &counter{count: 1, lastTick: now}
		return
	}

	elapsed := now.Sub(c.lastTick)
	if elapsed > d.decayInterval {
		// Every started interval decays once; each application is
		// independently floored rather than combined into one
		// exponentiated factor.
		for remaining := elapsed; remaining > 0; remaining -= d.decayInterval {
			c.count = int(float64(c.count) * d.decayFactor)
		}
		c.count++
		c.lastTick = now
		return
	}

	c.count++
}

// CheckAbuse fires the abuse event and resets the counter when it has
// reached the threshold. It must run right after RecordHit for every
// observed request so a crossing is detected on the triggering request
// itself. Returns true when the event fired.
func (d *Detector) CheckAbuse(clientKey string) bool {
	d.mu.Lock()
	c, ok := d.counters[clientKey]
	if !ok || c.count < d.threshold {
		d.mu.Unlock()
		return false
	}
	c.count = 0
	fn := d.onAbuse
	d.mu.Unlock()

	d.logger.Warn("suspicious request rate",
		observability.String("client_key", clientKey),
		observability.Duration("window", d.decayInterval),
	)

	if fn != nil {
		fn(clientKey, d.decayInterval)
	}

	return true
}

// Observe records one hit and immediately checks the threshold.
func (d *Detector) Observe(clientKey string, now time.Time) bool {
	d.RecordHit(clientKey, now)
	return d.CheckAbuse(clientKey)
}

// Count returns the current counter value for a client key.
func (d *Detector) Count(clientKey string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.counters[clientKey]; ok {
		return c.count
	}
	return 0
}

// Size returns the number of tracked client keys.
func (d *Detector) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.counters)
}

// SweepIdle removes counters that have not ticked within maxIdle.
func (d *Detector) SweepIdle(now time.Time, maxIdle time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, c := range d.counters {
		if now.Sub(c.lastTick) > maxIdle {
			delete(d.counters, key)
			removed++
		}
	}

	if removed > 0 {
		d.logger.Debug("swept idle abuse counters",
			observability.Int("removed", removed),
			observability.Int("remaining", len(d.counters)),
		)
	}

	return removed
}

// StartSweep starts a goroutine that periodically removes counters for
// clients idle beyond several decay intervals. A quiet client's counter
// would have decayed to zero anyway, so removal does not change
// detection behavior.
func (d *Detector) StartSweep() {
	interval := d.decayInterval * time.Duration(d.idleIntervals) / 2
	if interval > MaxSweepInterval {
		interval = MaxSweepInterval
	}
	if interval < MinSweepInterval {
		interval = MinSweepInterval
	}

	maxIdle := d.decayInterval * time.Duration(d.idleIntervals)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.SweepIdle(time.Now(), maxIdle)
			case <-d.stopCh:
				return
			}
		}
	}()
}

// Stop stops the sweep goroutine.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}
