package scoped

import (
	"context"
	"fmt"

	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// Repo is the scoped repository for one entity type. It has no method that
// reaches storage without first resolving Criteria from the active scope.
type Repo[T Entity] struct {
	store *Store
	table *Table[T]
}

// For returns the repository of table t. It panics on an invalid schema,
// which is a programming error.
func For[T Entity](s *Store, t *Table[T]) *Repo[T] {
	if err := t.Validate(); err != nil {
		panic(err)
	}
	return &Repo[T]{store: s, table: t}
}

// Schema returns the table's schema.
func (r *Repo[T]) Schema() *Schema { return &r.table.Schema }

// Validatable entities check their own fields before every create and
// update.
type Validatable interface {
	Validate() error
}

func validateEntity(sc *Schema, e any) error {
	v, ok := e.(Validatable)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%s: %w: %w", sc.Kind, domain.ErrValidation, err)
	}
	return nil
}

// All returns every row visible in the scope.
func (r *Repo[T]) All(ctx context.Context) ([]T, error) {
	return r.Find(ctx, Query{})
}

// Filter returns the visible rows matching every cond.
func (r *Repo[T]) Filter(ctx context.Context, conds ...Cond) ([]T, error) {
	return r.Find(ctx, Query{Where: conds})
}

// Exclude returns the visible rows matching none of conds.
func (r *Repo[T]) Exclude(ctx context.Context, conds ...Cond) ([]T, error) {
	return r.Find(ctx, Query{Not: conds})
}

// Find runs q inside the scope.
func (r *Repo[T]) Find(ctx context.Context, q Query) ([]T, error) {
	c, scope, err := r.store.criteria(ctx, r.Schema())
	if err != nil {
		return nil, r.store.fail(ctx, scope, r.Schema(), "", err)
	}
	return r.find(ctx, c, q)
}

// Get returns one visible row. Rows of other tenants are reported as
// domain.ErrNotFound so their existence is not disclosed.
func (r *Repo[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	items, err := r.Find(ctx, Query{Where: []Cond{Eq("id", id)}, Limit: 1})
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, fmt.Errorf("get %s %s: %w", r.table.Kind, id, domain.ErrNotFound)
	}
	return items[0], nil
}

// Count counts the visible rows matching q.
func (r *Repo[T]) Count(ctx context.Context, q Query) (int64, error) {
	c, scope, err := r.store.criteria(ctx, r.Schema())
	if err != nil {
		return 0, r.store.fail(ctx, scope, r.Schema(), "", err)
	}
	if err := q.validate(r.Schema()); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	n, err := r.store.backend.Count(ctx, r.Schema(), c, q)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.table.Table, err)
	}
	return n, nil
}

func (r *Repo[T]) find(ctx context.Context, c Criteria, q Query) ([]T, error) {
	if err := q.validate(r.Schema()); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	var out []T
	err := r.store.backend.Select(ctx, r.Schema(), c, q, func(sc Scanner) error {
		e := r.table.New()
		if err := sc.Scan(e.Base(), r.table.Fields(e)...); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", r.table.Table, err)
	}
	return out, nil
}

// Create persists e under the active scope. An empty tenant is stamped
// from the scope; a different one fails with CrossTenantWrite before any
// storage call.
func (r *Repo[T]) Create(ctx context.Context, e T) error {
	sc := r.Schema()
	scope, err := tenancy.Require(ctx)
	if err != nil {
		return r.store.fail(ctx, scope, sc, "", err)
	}

	base := e.Base()
	orig := *base
	if err := r.store.bindTenant(scope, sc, base); err != nil {
		*base = orig
		return r.store.fail(ctx, scope, sc, base.ID, err)
	}
	values := r.table.Values(e)
	w := &Write{
		Op:     OpCreate,
		Schema: sc,
		Scope:  scope,
		values: columnValues(sc.Columns, values),
	}
	if err := bindPrincipal(scope, sc, w.values); err != nil {
		*base = orig
		return r.store.fail(ctx, scope, sc, base.ID, err)
	}
	if err := validateEntity(sc, e); err != nil {
		*base = orig
		return err
	}

	now := r.store.now()
	if base.ID == "" {
		base.ID = r.store.newID()
	}
	base.CreatedAt, base.UpdatedAt = now, now
	w.TenantID = base.TenantID

	err = r.store.backend.InTx(ctx, func(tx Tx) error {
		w.tx = tx
		if err := r.store.runHooks(ctx, w); err != nil {
			return err
		}
		return tx.Insert(ctx, sc, *base, values)
	})
	if err != nil {
		failed := *base
		*base = orig
		return r.store.fail(ctx, scope, sc, failed.ID, storeError(scope, sc, err))
	}

	r.store.record(ctx, scope, audit.ActionCreate, sc, base)
	return nil
}

// Update persists e, which must be visible in the scope.
func (r *Repo[T]) Update(ctx context.Context, e T) error {
	sc := r.Schema()
	c, scope, err := r.store.criteria(ctx, sc)
	if err != nil {
		return r.store.fail(ctx, scope, sc, e.Base().ID, err)
	}

	base := e.Base()
	if base.ID == "" {
		return fmt.Errorf("update %s: %w: id is required", sc.Kind, domain.ErrValidation)
	}
	orig := *base
	if err := r.store.bindTenant(scope, sc, base); err != nil {
		*base = orig
		return r.store.fail(ctx, scope, sc, base.ID, err)
	}
	values := r.table.Values(e)
	w := &Write{
		Op:       OpUpdate,
		Schema:   sc,
		Scope:    scope,
		TenantID: base.TenantID,
		EntityID: base.ID,
		values:   columnValues(sc.Columns, values),
	}
	if err := bindPrincipal(scope, sc, w.values); err != nil {
		*base = orig
		return r.store.fail(ctx, scope, sc, base.ID, err)
	}
	if err := validateEntity(sc, e); err != nil {
		*base = orig
		return err
	}
	base.UpdatedAt = r.store.now()

	err = r.store.backend.InTx(ctx, func(tx Tx) error {
		w.tx = tx
		if err := r.store.runHooks(ctx, w); err != nil {
			return err
		}
		n, err := tx.Update(ctx, sc, c, *base, values)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("update %s %s: %w", sc.Kind, base.ID, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		*base = orig
		return r.store.fail(ctx, scope, sc, base.ID, storeError(scope, sc, err))
	}

	r.store.record(ctx, scope, audit.ActionUpdate, sc, base)
	return nil
}

// Delete removes a visible row.
func (r *Repo[T]) Delete(ctx context.Context, id string) error {
	sc := r.Schema()
	c, scope, err := r.store.criteria(ctx, sc)
	if err != nil {
		return r.store.fail(ctx, scope, sc, id, err)
	}
	w := &Write{
		Op:       OpDelete,
		Schema:   sc,
		Scope:    scope,
		TenantID: scope.TenantID(),
		EntityID: id,
	}

	err = r.store.backend.InTx(ctx, func(tx Tx) error {
		w.tx = tx
		if err := r.store.runHooks(ctx, w); err != nil {
			return err
		}
		n, err := tx.Delete(ctx, sc, c, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("delete %s %s: %w", sc.Kind, id, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return r.store.fail(ctx, scope, sc, id, err)
	}

	r.store.record(ctx, scope, audit.ActionDelete, sc, &Record{ID: id, TenantID: scope.TenantID()})
	return nil
}

func (s *Store) runHooks(ctx context.Context, w *Write) error {
	for _, h := range s.hooks {
		if err := h.BeforeWrite(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// Children returns the rows of children whose column references parentID,
// after confirming the parent itself is visible in the scope.
func Children[P, C Entity](ctx context.Context, parents *Repo[P], parentID string, children *Repo[C], column string) ([]C, error) {
	if _, err := parents.Get(ctx, parentID); err != nil {
		return nil, err
	}
	return children.Filter(ctx, Eq(column, parentID))
}
