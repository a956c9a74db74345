// Package quota enforces per-tenant plan limits. Entity resources are
// checked inside the write transaction by Enforcer; windowed resources
// such as API calls are metered with Service.Consume.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
	"github.com/Strob0t/tenantguard/internal/port/database"
	"github.com/Strob0t/tenantguard/internal/scoped"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// DefaultNearLimit is the fraction of a limit at which usage is reported as
// near the limit.
const DefaultNearLimit = 0.8

// Meter declares how a resource is accounted. Live resources are counted
// from Schema's table; windowed ones from usage counters.
type Meter struct {
	Resource plan.Resource
	Window   plan.Window
	Schema   *scoped.Schema
}

// Service reports usage and meters windowed resources.
type Service struct {
	store     *scoped.Store
	counters  database.UsageStore
	meters    map[plan.Resource]Meter
	order     []plan.Resource
	threshold float64
	now       func() time.Time
}

// NewService creates a quota service accounting the given meters. A
// resource without a meter is unmetered. A threshold outside (0, 1] falls
// back to DefaultNearLimit.
func NewService(store *scoped.Store, counters database.UsageStore, threshold float64, meters ...Meter) *Service {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultNearLimit
	}
	s := &Service{
		store:     store,
		counters:  counters,
		meters:    make(map[plan.Resource]Meter, len(meters)),
		threshold: threshold,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, m := range meters {
		s.meters[m.Resource] = m
		s.order = append(s.order, m.Resource)
	}
	return s
}

// Threshold returns the near-limit fraction.
func (s *Service) Threshold() float64 { return s.threshold }

// Meter returns the meter of r.
func (s *Service) Meter(r plan.Resource) (Meter, bool) {
	m, ok := s.meters[r]
	return m, ok
}

// Usage returns the current usage of r for t. The active scope must belong
// to t; usage of other tenants is not observable.
func (s *Service) Usage(ctx context.Context, t *tenant.Tenant, r plan.Resource) (plan.Usage, error) {
	scope, err := tenancy.Require(ctx)
	if err != nil {
		return plan.Usage{}, err
	}
	if scope.TenantID() != t.ID {
		return plan.Usage{}, tenancy.CrossTenantWrite(scope, "usage of tenant %s requested", t.ID)
	}
	m, ok := s.meters[r]
	if !ok {
		return plan.Usage{}, fmt.Errorf("quota: resource %q is not metered", r)
	}

	u := plan.Usage{Resource: r, Limit: t.Plan.Limit(r)}
	if m.Window == plan.WindowLive {
		u.Used, err = s.store.TenantCount(ctx, m.Schema)
	} else {
		u.Used, err = s.counters.Usage(ctx, t.ID, r, m.Window.Start(s.now()))
	}
	if err != nil {
		return plan.Usage{}, fmt.Errorf("usage %s: %w", r, err)
	}
	return u, nil
}

// Snapshot returns the usage of every metered resource of t.
func (s *Service) Snapshot(ctx context.Context, t *tenant.Tenant) ([]plan.Usage, error) {
	out := make([]plan.Usage, 0, len(s.order))
	for _, r := range s.order {
		u, err := s.Usage(ctx, t, r)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Remaining returns how many more units of r t may consume.
func (s *Service) Remaining(ctx context.Context, t *tenant.Tenant, r plan.Resource) (int64, error) {
	u, err := s.Usage(ctx, t, r)
	if err != nil {
		return 0, err
	}
	return u.Remaining(), nil
}

// IsExhausted reports whether t has no capacity left for r.
func (s *Service) IsExhausted(ctx context.Context, t *tenant.Tenant, r plan.Resource) (bool, error) {
	u, err := s.Usage(ctx, t, r)
	if err != nil {
		return false, err
	}
	return u.IsExhausted(), nil
}

// IsNearLimit reports whether t's usage of r reached the threshold.
func (s *Service) IsNearLimit(ctx context.Context, t *tenant.Tenant, r plan.Resource) (bool, error) {
	u, err := s.Usage(ctx, t, r)
	if err != nil {
		return false, err
	}
	return u.IsNearLimit(s.threshold), nil
}

// CanCreate reports whether one more unit of r fits t's plan. It is a
// pre-check for callers such as the pipeline; Enforcer decides
// authoritatively inside the write transaction.
func (s *Service) CanCreate(ctx context.Context, t *tenant.Tenant, r plan.Resource) (bool, plan.Usage, error) {
	u, err := s.Usage(ctx, t, r)
	if err != nil {
		return false, plan.Usage{}, err
	}
	return !u.IsExhausted(), u, nil
}

// Consume meters one unit of a windowed resource, failing with
// QuotaExceeded when the window's limit is reached.
func (s *Service) Consume(ctx context.Context, t *tenant.Tenant, r plan.Resource) (plan.Usage, error) {
	m, ok := s.meters[r]
	if !ok || m.Window == plan.WindowLive {
		return plan.Usage{}, fmt.Errorf("quota: resource %q is not a windowed meter", r)
	}
	limit := t.Plan.Limit(r)
	used, granted, err := s.counters.Consume(ctx, t.ID, r, m.Window.Start(s.now()), limit)
	if err != nil {
		return plan.Usage{}, fmt.Errorf("consume %s: %w", r, err)
	}
	u := plan.Usage{Resource: r, Used: used, Limit: limit}
	if !granted {
		scope, _ := tenancy.FromContext(ctx)
		return u, Exceeded(scope, t.ID, u)
	}
	return u, nil
}

// Exceeded builds the QuotaExceeded error carrying the usage snapshot.
func Exceeded(scope tenancy.Scope, tenantID string, u plan.Usage) *tenancy.Error {
	return &tenancy.Error{
		Code:        tenancy.CodeQuotaExceeded,
		TenantID:    tenantID,
		PrincipalID: scope.Principal.ID,
		Resource:    string(u.Resource),
		Reason:      u.Message(),
		Usage:       &u,
	}
}
