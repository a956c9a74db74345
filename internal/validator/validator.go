// Package validator checks every write against the tenant boundary before
// it is persisted, and checks at startup that the database enforces
// per-tenant uniqueness.
package validator

import (
	"context"
	"errors"
	"fmt"

	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/scoped"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// Hook is the scoped write hook running the tenant checks. Register it
// before quota enforcement so that rejected writes never consume quota.
type Hook struct{}

// New returns the validator hook.
func New() *Hook { return &Hook{} }

var _ scoped.Hook = (*Hook)(nil)

// BeforeWrite runs, in order: tenant field set, tenant exists and accepts
// writes, references resolve inside the tenant, unique columns are free
// inside the tenant.
func (h *Hook) BeforeWrite(ctx context.Context, w *scoped.Write) error {
	if w.TenantID == "" {
		return tenancy.ContextMissing(w.Schema.Kind + " has no tenant")
	}
	if err := checkTenant(ctx, w); err != nil {
		return err
	}
	if w.Op == scoped.OpDelete {
		return nil
	}
	if err := checkRefs(ctx, w); err != nil {
		return err
	}
	return checkUnique(ctx, w)
}

func checkTenant(ctx context.Context, w *scoped.Write) error {
	t, err := w.Tenant(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return tenantError(w, tenancy.CodeInactiveTenant, "tenant %s does not exist", w.TenantID)
	}
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	if !t.Active {
		return tenantError(w, tenancy.CodeInactiveTenant, "tenant %s is suspended", t.ID)
	}
	if t.ReadOnly {
		return tenantError(w, tenancy.CodeReadOnly, "tenant %s is read-only", t.ID)
	}
	return nil
}

func checkRefs(ctx context.Context, w *scoped.Write) error {
	for _, ref := range w.Schema.Refs {
		id := w.StringValue(ref.Column)
		if id == "" {
			continue
		}
		ok, err := w.RefExists(ctx, ref, id)
		if err != nil {
			return err
		}
		if !ok {
			return tenancy.CrossTenantWrite(w.Scope, "%s.%s references %s %s outside tenant %s",
				w.Schema.Table, ref.Column, ref.Table, id, w.TenantID)
		}
	}
	return nil
}

func checkUnique(ctx context.Context, w *scoped.Write) error {
	for _, col := range w.Schema.Unique {
		v := w.Value(col)
		if v == nil {
			continue
		}
		taken, err := w.Taken(ctx, col, v)
		if err != nil {
			return err
		}
		if taken {
			e := tenantError(w, tenancy.CodeUniqueness, "%s %s already exists", w.Schema.Kind, col)
			e.Err = domain.ErrConflict
			return e
		}
	}
	return nil
}

func tenantError(w *scoped.Write, code tenancy.Code, format string, args ...any) *tenancy.Error {
	return &tenancy.Error{
		Code:        code,
		TenantID:    w.TenantID,
		PrincipalID: w.Scope.Principal.ID,
		Resource:    w.Schema.Kind,
		Reason:      fmt.Sprintf(format, args...),
	}
}
