package scoped

import (
	"context"
	"fmt"

	"github.com/Strob0t/tenantguard/internal/domain/tenant"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// Op is the kind of write.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Write describes a pending mutation to hooks. Its lookups are bound to
// the row's tenant and run inside the write transaction.
type Write struct {
	Op       Op
	Schema   *Schema
	Scope    tenancy.Scope
	TenantID string
	EntityID string

	values map[string]any
	tx     Tx
	tenant *tenant.Tenant
}

// Value returns the pending value of column.
func (w *Write) Value(column string) any { return w.values[column] }

// StringValue returns the pending value of column as a string; NULL is "".
func (w *Write) StringValue(column string) string { return stringValue(w.values[column]) }

// Tx exposes the transaction for locks and usage counters.
func (w *Write) Tx() Tx { return w.tx }

// Tenant loads the row's tenant, with its plan, once per write.
func (w *Write) Tenant(ctx context.Context) (*tenant.Tenant, error) {
	if w.tenant != nil {
		return w.tenant, nil
	}
	t, err := w.tx.Tenant(ctx, w.TenantID)
	if err != nil {
		return nil, err
	}
	w.tenant = t
	return t, nil
}

func (w *Write) criteria() Criteria {
	return Criteria{tenantID: w.TenantID}
}

// RefExists reports whether id exists in ref's table within the row's tenant.
func (w *Write) RefExists(ctx context.Context, ref Ref, id string) (bool, error) {
	n, err := w.tx.Count(ctx, &Schema{Table: ref.Table, Kind: ref.Table}, w.criteria(), Query{
		Where: []Cond{Eq("id", id)},
	})
	if err != nil {
		return false, fmt.Errorf("lookup %s %s: %w", ref.Table, id, err)
	}
	return n > 0, nil
}

// Taken reports whether another row of the same tenant holds value in column.
func (w *Write) Taken(ctx context.Context, column string, value any) (bool, error) {
	q := Query{Where: []Cond{Eq(column, value)}}
	if w.EntityID != "" {
		q.Not = []Cond{Eq("id", w.EntityID)}
	}
	n, err := w.tx.Count(ctx, w.Schema, w.criteria(), q)
	if err != nil {
		return false, fmt.Errorf("check %s.%s: %w", w.Schema.Table, column, err)
	}
	return n > 0, nil
}

// CountTenant counts the tenant's existing rows in the written table.
func (w *Write) CountTenant(ctx context.Context) (int64, error) {
	n, err := w.tx.Count(ctx, w.Schema, w.criteria(), Query{})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", w.Schema.Table, err)
	}
	return n, nil
}

func columnValues(columns []string, values []any) map[string]any {
	m := make(map[string]any, len(columns))
	for i, c := range columns {
		if i < len(values) {
			m[c] = values[i]
		}
	}
	return m
}
