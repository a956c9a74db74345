package nats

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Strob0t/tenantguard/internal/logger"
	"github.com/Strob0t/tenantguard/internal/port/messagequeue"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

const publishTimeout = 2 * time.Second

// SignalEmitter publishes tenancy signals to {prefix}.{kind}. Publication
// failures are logged and never reach the caller.
type SignalEmitter struct {
	q      messagequeue.Queue
	prefix string
	log    *zap.Logger
}

var _ tenancy.Emitter = (*SignalEmitter)(nil)

// NewSignalEmitter creates an emitter publishing on q.
func NewSignalEmitter(q messagequeue.Queue, prefix string, log *zap.Logger) *SignalEmitter {
	return &SignalEmitter{q: q, prefix: prefix, log: log}
}

// Emit publishes s. The caller's cancellation does not abort publication.
func (e *SignalEmitter) Emit(ctx context.Context, s tenancy.Signal) {
	data, err := json.Marshal(messagequeue.SignalPayload{
		Kind:        string(s.Kind),
		TenantID:    s.TenantID,
		PrincipalID: s.PrincipalID,
		Resource:    s.Resource,
		Reason:      s.Reason,
		At:          s.At.Format(time.RFC3339Nano),
	})
	if err != nil {
		e.log.Error("marshal signal", zap.Error(err))
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	subject := messagequeue.SignalSubject(e.prefix, string(s.Kind))
	if err := e.q.Publish(pctx, subject, data); err != nil {
		logger.From(ctx).Warn("signal publish failed",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
