package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/tenantguard/internal/tenancy"
)

const meterName = "tenantguard"

// Metrics holds the isolation and policy instruments.
type Metrics struct {
	Signals         metric.Int64Counter
	Rejections      metric.Int64Counter
	ScopesActive    metric.Int64UpDownCounter
	PipelineSeconds metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Signals, err = meter.Int64Counter("tenantguard.signals",
		metric.WithDescription("Isolation and quota signals by kind"))
	if err != nil {
		return nil, err
	}

	m.Rejections, err = meter.Int64Counter("tenantguard.pipeline.rejections",
		metric.WithDescription("Requests rejected by the policy pipeline by code"))
	if err != nil {
		return nil, err
	}

	m.ScopesActive, err = meter.Int64UpDownCounter("tenantguard.scopes.active",
		metric.WithDescription("Tenant scopes currently held by requests"))
	if err != nil {
		return nil, err
	}

	m.PipelineSeconds, err = meter.Float64Histogram("tenantguard.pipeline.duration_seconds",
		metric.WithDescription("Policy pipeline duration per request"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Emit counts s by kind. It makes Metrics a tenancy.Emitter.
func (m *Metrics) Emit(ctx context.Context, s tenancy.Signal) {
	m.Signals.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(s.Kind))))
}
