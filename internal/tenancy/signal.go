package tenancy

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SignalKind names an operational signal for alerting collaborators.
type SignalKind string

const (
	SignalQuotaExceeded     SignalKind = "quota_exceeded"
	SignalCrossTenantWrite  SignalKind = "cross_tenant_write"
	SignalContextMissing    SignalKind = "context_missing"
	SignalViolationDetected SignalKind = "violation_detected"
)

// Signal describes a policy event. It never carries entity content.
type Signal struct {
	Kind        SignalKind `json:"kind"`
	TenantID    string     `json:"tenant_id,omitempty"`
	PrincipalID string     `json:"principal_id,omitempty"`
	Resource    string     `json:"resource,omitempty"`
	Reason      string     `json:"reason"`
	At          time.Time  `json:"at"`
}

// SignalFor maps a tenancy error to its signal.
func SignalFor(err *Error) Signal {
	kind := SignalViolationDetected
	switch err.Code {
	case CodeQuotaExceeded:
		kind = SignalQuotaExceeded
	case CodeCrossTenantWrite:
		kind = SignalCrossTenantWrite
	case CodeContextMissing:
		kind = SignalContextMissing
	}
	return Signal{
		Kind:        kind,
		TenantID:    err.TenantID,
		PrincipalID: err.PrincipalID,
		Resource:    err.Resource,
		Reason:      err.Reason,
		At:          time.Now().UTC(),
	}
}

// Emitter delivers signals. Implementations must not block the caller for
// long and must not fail it.
type Emitter interface {
	Emit(ctx context.Context, s Signal)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, s Signal)

func (f EmitterFunc) Emit(ctx context.Context, s Signal) { f(ctx, s) }

// Emitters fans a signal out to every emitter.
type Emitters []Emitter

func (m Emitters) Emit(ctx context.Context, s Signal) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, s)
		}
	}
}

// LogEmitter writes signals as warnings.
func LogEmitter(l *zap.Logger) Emitter {
	return EmitterFunc(func(_ context.Context, s Signal) {
		l.Warn("tenancy signal",
			zap.String("kind", string(s.Kind)),
			zap.String("tenant_id", s.TenantID),
			zap.String("principal_id", s.PrincipalID),
			zap.String("resource", s.Resource),
			zap.String("reason", s.Reason),
		)
	})
}

// Nop discards signals.
var Nop Emitter = EmitterFunc(func(context.Context, Signal) {})
