package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cachedom "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/cache"
)

const meterName = "eligibility"

// Metrics holds all pipeline metric instruments.
type Metrics struct {
	Submitted     metric.Int64Counter
	Completed     metric.Int64Counter
	Failed        metric.Int64Counter
	Escalated     metric.Int64Counter
	StageAttempts metric.Int64Counter
	StageDuration metric.Float64Histogram
	ModelFallback metric.Int64Counter
	CacheLookups  metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Submitted, err = meter.Int64Counter("eligibility.applications.submitted",
		metric.WithDescription("Number of applications submitted"))
	if err != nil {
		return nil, err
	}

	m.Completed, err = meter.Int64Counter("eligibility.applications.completed",
		metric.WithDescription("Number of applications completed"))
	if err != nil {
		return nil, err
	}

	m.Failed, err = meter.Int64Counter("eligibility.applications.failed",
		metric.WithDescription("Number of applications failed"))
	if err != nil {
		return nil, err
	}

	m.Escalated, err = meter.Int64Counter("eligibility.applications.escalated",
		metric.WithDescription("Number of applications escalated to human review"))
	if err != nil {
		return nil, err
	}

	m.StageAttempts, err = meter.Int64Counter("eligibility.stage.attempts",
		metric.WithDescription("Number of stage worker attempts by outcome"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("eligibility.stage.duration_seconds",
		metric.WithDescription("Stage attempt duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ModelFallback, err = meter.Int64Counter("eligibility.model.fallbacks",
		metric.WithDescription("Number of model resolutions that skipped a failed candidate"))
	if err != nil {
		return nil, err
	}

	m.CacheLookups, err = meter.Int64Counter("eligibility.cache.lookups",
		metric.WithDescription("Cache tier lookups by tier and result"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveCache records one tier lookup. It matches the cache hierarchy's
// observe hook.
func (m *Metrics) ObserveCache(ctx context.Context, tier cachedom.Tier, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", string(tier)),
		attribute.String("result", result),
	))
}

// RecordStage records one stage attempt with its outcome.
func (m *Metrics) RecordStage(ctx context.Context, stage, outcome string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	)
	m.StageAttempts.Add(ctx, 1, attrs)
	m.StageDuration.Record(ctx, seconds, attrs)
}

// Application outcomes counted by RecordOutcome.
const (
	OutcomeSubmitted = "submitted"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeEscalated = "escalated"
)

// RecordOutcome counts an application lifecycle event.
func (m *Metrics) RecordOutcome(ctx context.Context, outcome string) {
	switch outcome {
	case OutcomeSubmitted:
		m.Submitted.Add(ctx, 1)
	case OutcomeCompleted:
		m.Completed.Add(ctx, 1)
	case OutcomeFailed:
		m.Failed.Add(ctx, 1)
	case OutcomeEscalated:
		m.Escalated.Add(ctx, 1)
	}
}

// RecordFallback counts a model resolution that skipped failed candidates.
func (m *Metrics) RecordFallback(ctx context.Context, name string, failed int) {
	m.ModelFallback.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("model", name)))
}
