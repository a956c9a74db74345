// Package testkit builds migrated in-memory stores and scoped contexts for
// tests.
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/tenantguard/internal/adapter/sqlite"
	"github.com/Strob0t/tenantguard/internal/adapter/sqlstore"
	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// Unlimited is a plan without limits.
var Unlimited = plan.Plan{ID: "unlimited", Name: "Unlimited", Limits: map[plan.Resource]int64{}}

// Store opens a migrated in-memory SQLite store, closed on cleanup.
func Store(t testing.TB) *sqlstore.Store {
	t.Helper()
	db, err := sqlite.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return sqlstore.New(db, sqlstore.SQLite)
}

// Tenant creates an active tenant on p, upserting the plan first.
func Tenant(t testing.TB, s *sqlstore.Store, slug string, p plan.Plan) *tenant.Tenant {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertPlan(ctx, p); err != nil {
		t.Fatalf("upsert plan: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	tn := &tenant.Tenant{
		ID:           uuid.NewString(),
		Name:         slug,
		Slug:         slug,
		Active:       true,
		PlanID:       p.ID,
		Plan:         p,
		Subscription: tenant.SubscriptionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateTenant(ctx, tn); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tn
}

// Member returns a principal bound to tenantID with role.
func Member(tenantID string, role principal.Role) principal.Principal {
	return principal.Principal{
		ID:       string(role) + "-" + uuid.NewString()[:8],
		TenantID: tenantID,
		Name:     string(role),
		Role:     role,
		Enabled:  true,
	}
}

// Unbound returns an unbound principal with role (client or marketer).
func Unbound(role principal.Role) principal.Principal {
	return principal.Principal{
		ID:      string(role) + "-" + uuid.NewString()[:8],
		Name:    string(role),
		Role:    role,
		Enabled: true,
	}
}

// Scope begins s on a background context and releases it on cleanup.
func Scope(t testing.TB, s tenancy.Scope) context.Context {
	t.Helper()
	ctx, release, err := tenancy.Begin(context.Background(), s)
	if err != nil {
		t.Fatalf("begin scope: %v", err)
	}
	t.Cleanup(release)
	return ctx
}

// As is Scope for a member of tn.
func As(t testing.TB, tn *tenant.Tenant, role principal.Role) context.Context {
	t.Helper()
	return Scope(t, tenancy.Scope{Tenant: tn, Principal: Member(tn.ID, role)})
}
