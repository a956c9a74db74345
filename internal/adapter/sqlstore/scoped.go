package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
	"github.com/Strob0t/tenantguard/internal/scoped"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

var _ scoped.Backend = (*Store)(nil)

// txConn is the scoped.Tx view of a transaction.
type txConn struct{ conn }

var _ scoped.Tx = txConn{}

// predicates turns Criteria into WHERE clauses. An invalid Criteria is
// refused so that no statement runs without isolation.
func predicates(c scoped.Criteria) ([]sq.Sqlizer, error) {
	if !c.Valid() {
		return nil, tenancy.ContextMissing("storage received criteria without a scope")
	}
	if c.Unscoped() {
		return nil, nil
	}
	var preds []sq.Sqlizer
	if t := c.Tenant(); t != "" {
		preds = append(preds, sq.Eq{"tenant_id": t})
	}
	if col, id := c.Principal(); col != "" {
		preds = append(preds, sq.Eq{col: id})
	}
	return preds, nil
}

func (c conn) value(v any) any {
	if t, ok := v.(time.Time); ok {
		return c.encodeTime(t)
	}
	return v
}

func (c conn) cond(cd scoped.Cond, negate bool) sq.Sqlizer {
	col := cd.Column
	switch cd.Operator {
	case scoped.NotEqual:
		negate = !negate
		fallthrough
	case scoped.Equal:
		if negate {
			return sq.NotEq{col: c.value(cd.Value)}
		}
		return sq.Eq{col: c.value(cd.Value)}
	case scoped.Less:
		if negate {
			return sq.GtOrEq{col: c.value(cd.Value)}
		}
		return sq.Lt{col: c.value(cd.Value)}
	case scoped.Greater:
		if negate {
			return sq.LtOrEq{col: c.value(cd.Value)}
		}
		return sq.Gt{col: c.value(cd.Value)}
	case scoped.In:
		vs, _ := cd.Value.([]any)
		enc := make([]any, len(vs))
		for i, v := range vs {
			enc[i] = c.value(v)
		}
		if negate {
			return sq.NotEq{col: enc}
		}
		return sq.Eq{col: enc}
	case scoped.Like:
		if negate {
			return sq.NotLike{col: cd.Value}
		}
		return sq.Like{col: cd.Value}
	}
	return sq.Expr("1 = 0")
}

func (c conn) where(crit scoped.Criteria, q scoped.Query) ([]sq.Sqlizer, error) {
	preds, err := predicates(crit)
	if err != nil {
		return nil, err
	}
	for _, cd := range q.Where {
		preds = append(preds, c.cond(cd, false))
	}
	for _, cd := range q.Not {
		preds = append(preds, c.cond(cd, true))
	}
	return preds, nil
}

func orderBy(q scoped.Query) []string {
	if len(q.OrderBy) == 0 {
		return []string{"created_at", "id"}
	}
	out := make([]string, 0, len(q.OrderBy))
	for _, o := range q.OrderBy {
		if col, ok := strings.CutPrefix(o, "-"); ok {
			out = append(out, col+" DESC")
			continue
		}
		out = append(out, o)
	}
	return out
}

type rowScanner struct {
	scan func(dest ...any) error
}

func (r rowScanner) Scan(base *scoped.Record, fields ...any) error {
	dest := make([]any, 0, 4+len(fields))
	dest = append(dest, &base.ID, &base.TenantID, timeValue{&base.CreatedAt}, timeValue{&base.UpdatedAt})
	dest = append(dest, fields...)
	return r.scan(dest...)
}

// Select streams the rows of s matching crit and q to visit.
func (c conn) Select(ctx context.Context, s *scoped.Schema, crit scoped.Criteria, q scoped.Query, visit func(scoped.Scanner) error) error {
	preds, err := c.where(crit, q)
	if err != nil {
		return err
	}
	b := c.sb.Select(s.SelectColumns()...).From(s.Table).OrderBy(orderBy(q)...)
	for _, p := range preds {
		b = b.Where(p)
	}
	if q.Limit > 0 {
		b = b.Limit(q.Limit)
	}
	if q.Offset > 0 {
		b = b.Offset(q.Offset)
	}

	rows, err := c.query(ctx, b)
	if err != nil {
		return fmt.Errorf("select %s: %w", s.Table, err)
	}
	defer func() { _ = rows.Close() }()

	sc := rowScanner{scan: rows.Scan}
	for rows.Next() {
		if err := visit(sc); err != nil {
			return fmt.Errorf("scan %s: %w", s.Table, err)
		}
	}
	return rows.Err()
}

// Count counts the rows of s matching crit and q.
func (c conn) Count(ctx context.Context, s *scoped.Schema, crit scoped.Criteria, q scoped.Query) (int64, error) {
	preds, err := c.where(crit, q)
	if err != nil {
		return 0, err
	}
	b := c.sb.Select("COUNT(*)").From(s.Table)
	for _, p := range preds {
		b = b.Where(p)
	}
	row, err := c.queryRow(ctx, b)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.Table, err)
	}
	return n, nil
}

// Insert writes one row. The tenant column is always written from base.
func (t txConn) Insert(ctx context.Context, s *scoped.Schema, base scoped.Record, values []any) error {
	if base.TenantID == "" {
		return tenancy.ContextMissing("insert without tenant")
	}
	args := make([]any, 0, 4+len(values))
	args = append(args, base.ID, base.TenantID, t.encodeTime(base.CreatedAt), t.encodeTime(base.UpdatedAt))
	args = append(args, values...)

	b := t.sb.Insert(s.Table).Columns(s.SelectColumns()...).Values(args...)
	if _, err := t.exec(ctx, b); err != nil {
		return fmt.Errorf("insert %s: %w", s.Table, err)
	}
	return nil
}

// Update rewrites the data columns of base.ID inside crit.
func (t txConn) Update(ctx context.Context, s *scoped.Schema, crit scoped.Criteria, base scoped.Record, values []any) (int64, error) {
	preds, err := predicates(crit)
	if err != nil {
		return 0, err
	}
	set := make(map[string]any, len(s.Columns)+1)
	for i, col := range s.Columns {
		set[col] = values[i]
	}
	set["updated_at"] = t.encodeTime(base.UpdatedAt)

	b := t.sb.Update(s.Table).SetMap(set).Where(sq.Eq{"id": base.ID, "tenant_id": base.TenantID})
	for _, p := range preds {
		b = b.Where(p)
	}
	res, err := t.exec(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", s.Table, err)
	}
	return res.RowsAffected()
}

// Delete removes id inside crit.
func (t txConn) Delete(ctx context.Context, s *scoped.Schema, crit scoped.Criteria, id string) (int64, error) {
	preds, err := predicates(crit)
	if err != nil {
		return 0, err
	}
	b := t.sb.Delete(s.Table).Where(sq.Eq{"id": id})
	for _, p := range preds {
		b = b.Where(p)
	}
	res, err := t.exec(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", s.Table, err)
	}
	return res.RowsAffected()
}

func (t txConn) Tenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	return t.getTenant(ctx, sq.Eq{"id": id})
}

// Lock takes a transaction-scoped lock on key.
func (t txConn) Lock(ctx context.Context, key string) error {
	if t.d.LockSQL == "" {
		return nil
	}
	if _, err := t.q.ExecContext(ctx, t.d.LockSQL, key); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	return nil
}

func (t txConn) Usage(ctx context.Context, tenantID string, r plan.Resource, window time.Time) (int64, error) {
	return t.usage(ctx, tenantID, r, window)
}

func (t txConn) AddUsage(ctx context.Context, tenantID string, r plan.Resource, window time.Time, delta int64) error {
	return t.addUsage(ctx, tenantID, r, window, delta)
}
