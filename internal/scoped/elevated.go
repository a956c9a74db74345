package scoped

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// Unscoped is a read-only cross-tenant view obtained through
// Repo.Elevated. Every call appends an elevated_access audit event.
type Unscoped[T Entity] struct {
	repo   *Repo[T]
	scope  tenancy.Scope
	reason string
}

// Elevated returns the cross-tenant view of r. The active scope must carry
// elevated access, which tenancy.Begin only grants to principals holding
// the elevated capability, and a reason must be given for the audit trail.
func (r *Repo[T]) Elevated(ctx context.Context, reason string) (*Unscoped[T], error) {
	sc := r.Schema()
	scope, err := tenancy.Require(ctx)
	if err != nil {
		return nil, r.store.fail(ctx, scope, sc, "", err)
	}
	if !scope.Elevated {
		return nil, r.store.fail(ctx, scope, sc, "", tenancy.Forbidden(scope, "elevated access is not active"))
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: elevated access requires a reason", domain.ErrValidation)
	}
	return &Unscoped[T]{repo: r, scope: scope, reason: reason}, nil
}

func (u *Unscoped[T]) audit(ctx context.Context, targetID string) {
	u.repo.store.auditor.Record(ctx, audit.Event{
		ActorID:    actor(u.scope),
		TenantID:   u.scope.TenantID(),
		Action:     audit.ActionElevatedAccess,
		TargetKind: u.repo.table.Kind,
		TargetID:   targetID,
		Reason:     u.reason,
	})
}

// Find runs q across all tenants.
func (u *Unscoped[T]) Find(ctx context.Context, q Query) ([]T, error) {
	u.audit(ctx, "")
	return u.repo.find(ctx, Criteria{unscoped: true}, q)
}

// Get returns a row of any tenant.
func (u *Unscoped[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	u.audit(ctx, id)
	items, err := u.repo.find(ctx, Criteria{unscoped: true}, Query{Where: []Cond{Eq("id", id)}, Limit: 1})
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, fmt.Errorf("get %s %s: %w", u.repo.table.Kind, id, domain.ErrNotFound)
	}
	return items[0], nil
}

// Count counts rows across all tenants.
func (u *Unscoped[T]) Count(ctx context.Context, q Query) (int64, error) {
	u.audit(ctx, "")
	if err := q.validate(u.repo.Schema()); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return u.repo.store.backend.Count(ctx, u.repo.Schema(), Criteria{unscoped: true}, q)
}
