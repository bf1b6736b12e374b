package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/apiguard/internal/abuse"
	"github.com/vyrodovalexey/apiguard/internal/bypass"
	"github.com/vyrodovalexey/apiguard/internal/quota"
	"github.com/vyrodovalexey/apiguard/internal/telemetry"
)

// stubQuota returns a scripted response per key.
type stubQuota struct {
	err   error
	calls []string
}

func (s *stubQuota) Consume(_ context.Context, key string) error {
	s.calls = append(s.calls, key)
	return s.err
}

func testRules(t *testing.T) *bypass.RuleSet {
	t.Helper()

	health, err := bypass.NewRule("/health", bypass.MatchExact, false)
	require.NoError(t, err)
	metered, err := bypass.NewRule("/partner", bypass.MatchPrefix, true)
	require.NoError(t, err)

	return bypass.NewRuleSet([]*bypass.Rule{health, metered})
}

func newTestOrchestrator(t *testing.T, q quota.Adapter) (*Orchestrator, *telemetry.Buffer, *abuse.Detector) {
	t.Helper()

	buf := telemetry.NewBuffer(100, 1<<20)
	detector := abuse.NewDetector(10*time.Second, 0.5, 3)
	o := NewOrchestrator(testRules(t), q, detector, buf, "test")
	detector.OnAbuse(o.AbuseEventFunc())
	return o, buf, detector
}

func TestPreHandle_BypassSkipsQuota(t *testing.T) {
	t.Parallel()

	q := &stubQuota{}
	o, _, _ := newTestOrchestrator(t, q)

	decision, err := o.PreHandle(context.Background(), "/health", "1.2.3.4")

	require.NoError(t, err)
	assert.Equal(t, DecisionBypassed, decision)
	assert.Empty(t, q.calls)
}

func TestPreHandle_RateLimitedRuleStillConsumes(t *testing.T) {
	t.Parallel()

	q := &stubQuota{}
	o, _, _ := newTestOrchestrator(t, q)

	decision, err := o.PreHandle(context.Background(), "/partner/feed", "1.2.3.4")

	require.NoError(t, err)
	assert.Equal(t, DecisionAllowed, decision)
	assert.Equal(t, []string{"1.2.3.4"}, q.calls)
}

func TestPreHandle_Allowed(t *testing.T) {
	t.Parallel()

	q := &stubQuota{}
	o, _, _ := newTestOrchestrator(t, q)

	decision, err := o.PreHandle(context.Background(), "/api/users", "1.2.3.4")

	require.NoError(t, err)
	assert.Equal(t, DecisionAllowed, decision)
	assert.Equal(t, []string{"1.2.3.4"}, q.calls)
}

func TestPreHandle_Throttled(t *testing.T) {
	t.Parallel()

	q := &stubQuota{err: quota.ErrQuotaExceeded}
	o, _, _ := newTestOrchestrator(t, q)

	decision, err := o.PreHandle(context.Background(), "/api/users", "1.2.3.4")

	assert.Equal(t, DecisionThrottled, decision)
	assert.ErrorIs(t, err, ErrThrottled)
}

func TestPreHandle_QuotaFailureAdmits(t *testing.T) {
	t.Parallel()

	q := &stubQuota{err: errors.New("redis connection refused")}
	o, _, _ := newTestOrchestrator(t, q)

	decision, err := o.PreHandle(context.Background(), "/api/users", "1.2.3.4")

	require.NoError(t, err)
	assert.Equal(t, DecisionAllowed, decision)
}

func TestPostHandle_BuffersRequestEvent(t *testing.T) {
	t.Parallel()

	o, buf, _ := newTestOrchestrator(t, &stubQuota{})

	o.PostHandle(context.Background(), RequestRecord{
		Method:     "GET",
		Route:      "/api/users/:id",
		Status:     200,
		DurationMs: 12,
		ClientKey:  "1.2.3.4",
		ServerTag:  "eu-1",
		RequestID:  "req-1",
	})

	entries := buf.Drain()
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "test", e.Labels["env"])
	assert.Equal(t, EventRequest, e.Labels["event"])
	assert.Equal(t, "eu-1", e.Labels["server"])

	var line requestLine
	require.NoError(t, json.Unmarshal([]byte(e.Line), &line))
	assert.Equal(t, "GET", line.Method)
	assert.Equal(t, "/api/users/:id", line.Route)
	assert.Equal(t, 200, line.Status)
	assert.Equal(t, int64(12), line.DurationMs)
	assert.Equal(t, "1.2.3.4", line.ClientKey)
	assert.Equal(t, "req-1", line.RequestID)
}

func TestPostHandle_NoServerLabelWithoutTag(t *testing.T) {
	t.Parallel()

	o, buf, _ := newTestOrchestrator(t, &stubQuota{})

	o.PostHandle(context.Background(), RequestRecord{Method: "GET", Route: "/x", Status: 204, ClientKey: "c"})

	entries := buf.Drain()
	require.Len(t, entries, 1)
	_, hasServer := entries[0].Labels["server"]
	assert.False(t, hasServer)
}

func TestPostHandle_AbuseThresholdBuffersSuspiciousEvent(t *testing.T) {
	t.Parallel()

	o, buf, _ := newTestOrchestrator(t, &stubQuota{})
	rec := RequestRecord{Method: "GET", Route: "/x", Status: 200, ClientKey: "9.9.9.9"}

	// Threshold is 3: the third observation fires the event.
	for i := 0; i < 3; i++ {
		o.PostHandle(context.Background(), rec)
	}

	entries := buf.Drain()
	require.Len(t, entries, 4)

	var suspicious []telemetry.Entry
	for _, e := range entries {
		if e.Labels["event"] == EventSuspiciousRate {
			suspicious = append(suspicious, e)
		}
	}
	require.Len(t, suspicious, 1)

	var line suspiciousLine
	require.NoError(t, json.Unmarshal([]byte(suspicious[0].Line), &line))
	assert.Equal(t, "9.9.9.9", line.ClientKey)
	assert.Equal(t, int64(10000), line.WindowMs)
}
