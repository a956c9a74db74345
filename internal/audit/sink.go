// Package audit records privileged actions and isolation violations in the
// append-only audit store.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/logger"
	"github.com/Strob0t/tenantguard/internal/port/database"
	"github.com/Strob0t/tenantguard/internal/resilience"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

const (
	meterName    = "tenantguard"
	writeTimeout = 5 * time.Second
)

// Sink appends audit events synchronously. A failed append is logged,
// counted and handed to the failure hook; it never fails the caller.
type Sink struct {
	store     database.AuditStore
	breaker   *resilience.Breaker
	onFailure func(audit.Event, error)
	failures  metric.Int64Counter
	now       func() time.Time
	newID     func() string
}

// Option configures a Sink.
type Option func(*Sink)

// WithBreaker short-circuits appends while the store keeps failing.
func WithBreaker(b *resilience.Breaker) Option { return func(s *Sink) { s.breaker = b } }

// OnFailure registers fn to receive events that could not be stored.
func OnFailure(fn func(audit.Event, error)) Option { return func(s *Sink) { s.onFailure = fn } }

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option { return func(s *Sink) { s.now = now } }

// NewSink creates a Sink over store.
func NewSink(store database.AuditStore, opts ...Option) *Sink {
	s := &Sink{
		store:     store,
		onFailure: func(audit.Event, error) {},
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	counter, err := otel.Meter(meterName).Int64Counter("tenantguard.audit.failures",
		metric.WithDescription("Audit events that could not be stored"))
	if err == nil {
		s.failures = counter
	}
	return s
}

// Record completes e from ctx and appends it. Missing actor and tenant are
// taken from the active scope; the request ID from the logger context.
func (s *Sink) Record(ctx context.Context, e audit.Event) {
	s.complete(ctx, &e)
	if err := e.Validate(); err != nil {
		s.fail(ctx, e, err)
		return
	}

	// The caller's cancellation must not drop the record of what it did.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	var err error
	if s.breaker != nil {
		err = s.breaker.Do(wctx, func(ctx context.Context) error { return s.store.Append(ctx, e) })
	} else {
		err = s.store.Append(wctx, e)
	}
	if err != nil {
		s.fail(ctx, e, err)
	}
}

func (s *Sink) complete(ctx context.Context, e *audit.Event) {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now()
	}
	if e.RequestID == "" {
		e.RequestID = logger.RequestID(ctx)
	}
	if scope, ok := tenancy.FromContext(ctx); ok {
		if e.ActorID == "" {
			e.ActorID = scope.Principal.ID
		}
		if e.TenantID == "" {
			e.TenantID = scope.TenantID()
		}
	}
	if e.ActorID == "" {
		e.ActorID = audit.Anonymous
	}
}

func (s *Sink) fail(ctx context.Context, e audit.Event, err error) {
	level := zap.ErrorLevel
	if errors.Is(err, resilience.ErrCircuitOpen) {
		level = zap.WarnLevel
	}
	logger.From(ctx).Log(level, "audit append failed",
		zap.String("event_id", e.ID),
		zap.String("action", string(e.Action)),
		zap.String("tenant_id", e.TenantID),
		zap.String("actor_id", e.ActorID),
		zap.Error(err),
	)
	if s.failures != nil {
		s.failures.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("action", string(e.Action))))
	}
	s.onFailure(e, err)
}

// Query returns tenantID's events in [from, to) ordered by occurrence.
func (s *Sink) Query(ctx context.Context, tenantID string, from, to time.Time) ([]audit.Event, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("audit query: %w: to is before from", domain.ErrValidation)
	}
	events, err := s.store.QueryAudit(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("audit query: %w", err)
	}
	return events, nil
}
