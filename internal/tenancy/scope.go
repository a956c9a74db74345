// Package tenancy carries the active tenant and principal for one unit of
// work. The scope lives in a context.Context value, never in global state,
// and is released on every exit path by the function that began it.
package tenancy

import (
	"context"
	"sync/atomic"

	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
)

// Scope is the (tenant, principal, elevated) triple governing a unit of
// work. Tenant is nil only for unbound principals that did not resolve a
// tenant.
type Scope struct {
	Tenant    *tenant.Tenant
	Principal principal.Principal
	Elevated  bool
}

// TenantID returns the scope tenant's id or "".
func (s Scope) TenantID() string {
	if s.Tenant == nil {
		return ""
	}
	return s.Tenant.ID
}

// Unbound reports whether the scope runs under the cross-tenant capability.
func (s Scope) Unbound() bool {
	return s.Principal.Has(principal.CapCrossTenant)
}

func (s Scope) validate() error {
	if s.Principal.ID == "" {
		return ContextMissing("principal is required")
	}
	if s.Tenant == nil {
		if !s.Unbound() && !s.Elevated {
			return ContextMissing("tenant is required")
		}
	} else if !s.Principal.CanAccess(s.Tenant.ID) {
		return Forbidden(s, "principal is not a member of the tenant")
	}
	if s.Elevated && !s.Principal.Has(principal.CapElevated) {
		return Forbidden(s, "elevated access was not granted")
	}
	return nil
}

// Release ends a scope. It is idempotent.
type Release func()

type holder struct {
	scope    Scope
	released atomic.Bool
}

type ctxKey struct{}

// Begin establishes s on ctx. The returned Release must be called on every
// exit path; after it runs, every context derived from the returned one
// reports no scope. Beginning a scope for a different tenant or principal
// while one is active fails, so downstream code cannot switch tenants.
func Begin(ctx context.Context, s Scope) (context.Context, Release, error) {
	if err := s.validate(); err != nil {
		return ctx, func() {}, err
	}
	if cur, ok := FromContext(ctx); ok {
		if cur.TenantID() != s.TenantID() || cur.Principal.ID != s.Principal.ID {
			return ctx, func() {}, CrossTenantWrite(cur, "scope already active for another tenant")
		}
	}
	h := &holder{scope: s}
	return context.WithValue(ctx, ctxKey{}, h), func() { h.released.Store(true) }, nil
}

// FromContext returns the active scope, if any.
func FromContext(ctx context.Context) (Scope, bool) {
	h, ok := ctx.Value(ctxKey{}).(*holder)
	if !ok || h == nil || h.released.Load() {
		return Scope{}, false
	}
	return h.scope, true
}

// Require returns the active scope or a ContextMissing error.
func Require(ctx context.Context) (Scope, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return Scope{}, ContextMissing("no active tenant scope")
	}
	return s, nil
}

// Run executes fn inside scope s and releases it afterwards, including when
// fn panics. Background jobs use it to process one tenant at a time.
func Run(ctx context.Context, s Scope, fn func(ctx context.Context) error) error {
	ctx, release, err := Begin(ctx, s)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
