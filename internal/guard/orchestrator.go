package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/apiguard/internal/abuse"
	"github.com/vyrodovalexey/apiguard/internal/bypass"
	"github.com/vyrodovalexey/apiguard/internal/observability"
	"github.com/vyrodovalexey/apiguard/internal/quota"
	"github.com/vyrodovalexey/apiguard/internal/telemetry"
)

// ErrThrottled indicates the request must be rejected because the
// client's quota is exhausted. The guard never retries or queues; the
// caller must retry later.
var ErrThrottled = errors.New("client throttled")

// Decision is the outcome of the pre-handling hook.
type Decision string

const (
	// DecisionAllowed means quota was consumed and the request proceeds.
	DecisionAllowed Decision = "allowed"

	// DecisionBypassed means a bypass rule exempted the request from
	// quota consumption.
	DecisionBypassed Decision = "bypassed"

	// DecisionThrottled means the request must be rejected.
	DecisionThrottled Decision = "throttled"
)

// Orchestrator is the process-wide request guard coordinator. All
// collaborators are attached at construction.
type Orchestrator struct {
	rules       *bypass.RuleSet
	quota       quota.Adapter
	detector    *abuse.Detector
	buffer      *telemetry.Buffer
	logger      observability.Logger
	metrics     *observability.Metrics
	environment string
}

// OrchestratorOption is a functional option for the orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger observability.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithOrchestratorMetrics sets the guard metrics.
func WithOrchestratorMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates the guard coordinator. The abuse detector's
// callback must be wired afterwards via detector.OnAbuse(AbuseEventFunc())
// so suspicious_rate events reach the buffer.
func NewOrchestrator(
	rules *bypass.RuleSet,
	quotaAdapter quota.Adapter,
	detector *abuse.Detector,
	buffer *telemetry.Buffer,
	environment string,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		rules:       rules,
		quota:       quotaAdapter,
		detector:    detector,
		buffer:      buffer,
		logger:      observability.NopLogger(),
		environment: environment,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// AbuseEventFunc returns the detector callback that turns a threshold
// crossing into a buffered suspicious_rate event.
func (o *Orchestrator) AbuseEventFunc() abuse.EventFunc {
	return func(clientKey string, window time.Duration) {
		entry, err := o.suspiciousEntry(clientKey, window, time.Now())
		if err != nil {
			o.logger.Error("failed to build suspicious_rate event", observability.Error(err))
			return
		}
		o.buffer.Add(entry)

		if o.metrics != nil {
			o.metrics.RecordAbuseEvent()
		}
	}
}

// PreHandle resolves the bypass decision and consumes quota. Returns
// ErrThrottled (wrapped) when the client must be rejected. Any other
// quota failure degrades to admission: guarding infrastructure must
// never take down the request path.
func (o *Orchestrator) PreHandle(ctx context.Context, path, clientKey string) (Decision, error) {
	if rule := o.rules.Match(path); rule != nil && !rule.RateLimited() {
		return DecisionBypassed, nil
	}

	err := o.quota.Consume(ctx, clientKey)
	switch {
	case err == nil:
		return DecisionAllowed, nil
	case errors.Is(err, quota.ErrQuotaExceeded):
		return DecisionThrottled, fmt.Errorf("%w: %s", ErrThrottled, clientKey)
	default:
		o.logger.Error("quota consumption failed, admitting request",
			observability.String("client_key", clientKey),
			observability.Error(err),
		)
		return DecisionAllowed, nil
	}
}

// PostHandle runs the completion bookkeeping for one request: abuse
// counting (a threshold crossing is detected on the triggering request
// itself) and telemetry buffering. It must be called for every request
// the guard observed, including rejected ones.
func (o *Orchestrator) PostHandle(ctx context.Context, rec RequestRecord) {
	now := time.Now()

	o.detector.Observe(rec.ClientKey, now)

	entry, err := o.requestEntry(ctx, rec, now)
	if err != nil {
		o.logger.Error("failed to build request event", observability.Error(err))
		return
	}
	o.buffer.Add(entry)
}
