package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	tgotel "github.com/Strob0t/tenantguard/internal/adapter/otel"
	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/port/database"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// RetentionSweeper suspends tenants whose deletion deadline passed or whose
// trial ended unconverted, and prunes usage counters of closed windows.
// Each tenant is processed in its own scope under the system principal.
type RetentionSweeper struct {
	tenants   database.TenantStore
	usage     database.UsageStore
	lifecycle *TenantService
	interval  time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Suspended int
	Pruned    int64
}

// NewRetentionSweeper creates a sweeper running every interval.
func NewRetentionSweeper(tenants database.TenantStore, usage database.UsageStore, lifecycle *TenantService, interval time.Duration, log *zap.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		tenants:   tenants,
		usage:     usage,
		lifecycle: lifecycle,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// Run sweeps once immediately and then every interval until ctx is
// cancelled.
func (s *RetentionSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("retention sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep performs one pass. A failure on one tenant does not stop the
// others; all failures are returned joined.
func (s *RetentionSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := tgotel.StartSweepSpan(ctx)
	defer span.End()

	var res SweepResult
	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		return res, fmt.Errorf("list tenants: %w", err)
	}

	now := s.now()
	system := principal.System("retention")
	var errs []error
	for i := range tenants {
		t := &tenants[i]
		if !t.Active || !t.Expired(now) {
			continue
		}
		err := tenancy.Run(ctx, tenancy.Scope{Tenant: t, Principal: system, Elevated: true}, func(ctx context.Context) error {
			_, err := s.lifecycle.Suspend(ctx, t.ID)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("suspend %s: %w", t.ID, err))
			continue
		}
		res.Suspended++
		s.log.Info("tenant suspended by retention",
			zap.String("tenant_id", t.ID),
			zap.Time("deletion_deadline", t.DeletionDeadline),
			zap.Time("trial_ends_at", t.TrialEndsAt),
		)
	}

	// Counters of the current and previous month stay readable.
	cutoff := plan.WindowMonthly.Start(now).AddDate(0, -1, 0)
	pruned, err := s.usage.PruneUsage(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("prune usage: %w", err))
	}
	res.Pruned = pruned
	return res, errors.Join(errs...)
}
