package quota

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/logger"
	"github.com/Strob0t/tenantguard/internal/scoped"
)

// Enforcer is the write hook that gates creates of metered entities. The
// check and the counter update share the write transaction, serialized per
// (tenant, resource) by the backend lock.
type Enforcer struct {
	svc *Service
	now func() time.Time
}

// NewEnforcer returns the hook for svc's meters.
func NewEnforcer(svc *Service) *Enforcer {
	return &Enforcer{svc: svc, now: svc.now}
}

var _ scoped.Hook = (*Enforcer)(nil)

func (e *Enforcer) BeforeWrite(ctx context.Context, w *scoped.Write) error {
	r := w.Schema.Resource
	if w.Op != scoped.OpCreate || r == "" {
		return nil
	}
	m, ok := e.svc.Meter(r)
	if !ok {
		return nil
	}
	t, err := w.Tenant(ctx)
	if err != nil {
		return err
	}
	limit := t.Plan.Limit(r)
	if limit == plan.Unlimited && m.Window == plan.WindowLive {
		return nil
	}

	tx := w.Tx()
	if err := tx.Lock(ctx, "quota:"+t.ID+":"+string(r)); err != nil {
		return err
	}

	var used int64
	window := m.Window.Start(e.now())
	if m.Window == plan.WindowLive {
		used, err = w.CountTenant(ctx)
	} else {
		used, err = tx.Usage(ctx, t.ID, r, window)
	}
	if err != nil {
		return err
	}

	u := plan.Usage{Resource: r, Used: used, Limit: limit}
	if u.IsExhausted() {
		return Exceeded(w.Scope, t.ID, u)
	}
	if m.Window != plan.WindowLive {
		if err := tx.AddUsage(ctx, t.ID, r, window, 1); err != nil {
			return err
		}
	}

	u.Used++
	if u.IsNearLimit(e.svc.threshold) {
		logger.From(ctx).Info("quota near limit",
			zap.String("tenant_id", t.ID),
			zap.String("resource", string(r)),
			zap.Int64("used", u.Used),
			zap.Int64("limit", u.Limit),
		)
	}
	return nil
}
