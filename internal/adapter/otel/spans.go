package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tenantguard"

// StartPipelineSpan starts the span covering one pass through the policy
// pipeline.
func StartPipelineSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "policy.pipeline",
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
}

// AnnotateScope records the resolved tenant and principal on the span in
// ctx.
func AnnotateScope(ctx context.Context, tenantID, principalID string, elevated bool) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("principal.id", principalID),
		attribute.Bool("scope.elevated", elevated),
	)
}

// StartSweepSpan starts a span for one retention sweep.
func StartSweepSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "retention.sweep")
}
