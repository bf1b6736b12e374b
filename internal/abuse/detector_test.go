package abuse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDecayInterval = 10 * time.Second
	testDecayFactor   = 0.5
	testThreshold     = 5
)

func newTestDetector(opts ...DetectorOption) *Detector {
	return NewDetector(testDecayInterval, testDecayFactor, testThreshold, opts...)
}

func TestRecordHit_CreatesCounterLazily(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	now := time.Now()

	assert.Equal(t, 0, d.Count("1.2.3.4"))
	d.RecordHit("1.2.3.4", now)
	assert.Equal(t, 1, d.Count("1.2.3.4"))
	assert.Equal(t, 1, d.Size())
}

func TestRecordHit_IncrementWithinInterval(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	now := time.Now()

	for i := 0; i < 4; i++ {
		d.RecordHit("c", now.Add(time.Duration(i)*time.Second))
	}

	assert.Equal(t, 4, d.Count("c"))
}

func TestRecordHit_DecayAppliedPerStartedInterval(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	start := time.Now()

	// Build the counter up to 8 within one interval.
	for i := 0; i < 8; i++ {
		d.RecordHit("c", start)
	}
	require.Equal(t, 8, d.Count("c"))

	// Idle for 25s: three sequential floor-halvings (8 -> 4 -> 2 -> 1),
	// then the new hit makes 2. Not floor(8*0.5^2)+1.
	d.RecordHit("c", start.Add(25*time.Second))
	assert.Equal(t, 2, d.Count("c"))
}

func TestRecordHit_LastTickAnchoredToDecayEvent(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	start := time.Now()

	d.RecordHit("c", start)
	// Hits within the interval do not move the decay anchor.
	d.RecordHit("c", start.Add(5*time.Second))
	d.RecordHit("c", start.Add(9*time.Second))
	require.Equal(t, 3, d.Count("c"))

	// 15s after the anchor: two started intervals decay 3 -> 1 -> 0,
	// then +1. Had lastTick followed the last hit, only one interval
	// would have elapsed.
	d.RecordHit("c", start.Add(15*time.Second))
	assert.Equal(t, 1, d.Count("c"))
}

func TestCheckAbuse_FiresOnceAndResets(t *testing.T) {
	t.Parallel()

	var fired []string
	d := newTestDetector(WithEventFunc(func(key string, window time.Duration) {
		fired = append(fired, key)
		assert.Equal(t, testDecayInterval, window)
	}))

	now := time.Now()
	for i := 0; i < testThreshold; i++ {
		d.Observe("10.0.0.1", now)
	}

	require.Equal(t, []string{"10.0.0.1"}, fired)
	assert.Equal(t, 0, d.Count("10.0.0.1"))

	// The next single hit does not re-fire.
	d.Observe("10.0.0.1", now)
	assert.Len(t, fired, 1)
	assert.Equal(t, 1, d.Count("10.0.0.1"))
}

func TestCheckAbuse_DetectedOnTriggeringRequest(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	now := time.Now()

	for i := 0; i < testThreshold-1; i++ {
		assert.False(t, d.Observe("c", now))
	}
	assert.True(t, d.Observe("c", now))
}

func TestCheckAbuse_UnknownClient(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	assert.False(t, d.CheckAbuse("never-seen"))
}

func TestOnAbuse_SetAfterConstruction(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	fired := 0
	d.OnAbuse(func(string, time.Duration) { fired++ })

	now := time.Now()
	for i := 0; i < testThreshold; i++ {
		d.Observe("c", now)
	}

	assert.Equal(t, 1, fired)
}

func TestSweepIdle(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	now := time.Now()

	d.RecordHit("old", now.Add(-2*time.Hour))
	d.RecordHit("fresh", now)
	require.Equal(t, 2, d.Size())

	removed := d.SweepIdle(now, time.Hour)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, d.Size())
	assert.Equal(t, 1, d.Count("fresh"))
	assert.Equal(t, 0, d.Count("old"))
}

func TestStartSweep_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	d.StartSweep()
	d.Stop()
	d.Stop()
}
