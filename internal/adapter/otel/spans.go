package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "eligibility"

// StartApplicationSpan starts a span covering one pipeline run of an application.
func StartApplicationSpan(ctx context.Context, applicationID string, run int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "application",
		trace.WithAttributes(
			attribute.String("application.id", applicationID),
			attribute.Int("application.run", run),
		),
	)
}

// StartStageSpan starts a span for one stage worker attempt.
func StartStageSpan(ctx context.Context, stage string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage."+stage,
		trace.WithAttributes(
			attribute.String("stage.name", stage),
			attribute.Int("stage.attempt", attempt),
		),
	)
}

// StartModelResolveSpan starts a span for resolving a model chain.
func StartModelResolveSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "model.resolve",
		trace.WithAttributes(attribute.String("model.name", name)),
	)
}
