package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
)

var tenantColumns = []string{
	"id", "name", "slug", "active", "read_only", "plan_id", "subscription",
	"trial_ends_at", "deletion_deadline", "created_at", "updated_at",
}

// --- Tenants ---

// CreateTenant inserts t. The plan must exist.
func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	b := s.sb.Insert("tenants").Columns(tenantColumns...).Values(
		t.ID, t.Name, t.Slug, t.Active, t.ReadOnly, t.PlanID, string(t.Subscription),
		s.nullTime(t.TrialEndsAt), s.nullTime(t.DeletionDeadline),
		s.encodeTime(t.CreatedAt), s.encodeTime(t.UpdatedAt),
	)
	if _, err := s.exec(ctx, b); err != nil {
		return fmt.Errorf("create tenant %s: %w", t.Slug, err)
	}
	return nil
}

// UpdateTenant persists the mutable tenant attributes.
func (s *Store) UpdateTenant(ctx context.Context, t *tenant.Tenant) error {
	b := s.sb.Update("tenants").SetMap(map[string]any{
		"name":              t.Name,
		"active":            t.Active,
		"read_only":         t.ReadOnly,
		"plan_id":           t.PlanID,
		"subscription":      string(t.Subscription),
		"trial_ends_at":     s.nullTime(t.TrialEndsAt),
		"deletion_deadline": s.nullTime(t.DeletionDeadline),
		"updated_at":        s.encodeTime(t.UpdatedAt),
	}).Where(sq.Eq{"id": t.ID})
	res, err := s.exec(ctx, b)
	if err != nil {
		return fmt.Errorf("update tenant %s: %w", t.ID, err)
	}
	return expectOne(res, "update tenant %s", t.ID)
}

// GetTenant loads a tenant with its plan.
func (s *Store) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	return s.getTenant(ctx, sq.Eq{"id": id})
}

// GetTenantBySlug loads a tenant by its globally unique slug.
func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return s.getTenant(ctx, sq.Eq{"slug": slug})
}

// ListTenants returns all tenants ordered by creation, without plans.
func (s *Store) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.query(ctx, s.sb.Select(tenantColumns...).From("tenants").OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (c conn) getTenant(ctx context.Context, where sq.Eq) (*tenant.Tenant, error) {
	row, err := c.queryRow(ctx, c.sb.Select(tenantColumns...).From("tenants").Where(where))
	if err != nil {
		return nil, err
	}
	t, err := scanTenant(row.Scan)
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %v", where)
	}
	p, err := c.getPlan(ctx, t.PlanID)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", t.ID, err)
	}
	t.Plan = *p
	return t, nil
}

func scanTenant(scan func(dest ...any) error) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var sub string
	err := scan(
		&t.ID, &t.Name, &t.Slug, &t.Active, &t.ReadOnly, &t.PlanID, &sub,
		timeValue{&t.TrialEndsAt}, timeValue{&t.DeletionDeadline},
		timeValue{&t.CreatedAt}, timeValue{&t.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	t.Subscription = tenant.Subscription(sub)
	return &t, nil
}

// --- Domains ---

// AddDomain maps a custom host to a tenant.
func (s *Store) AddDomain(ctx context.Context, d tenant.Domain) error {
	b := s.sb.Insert("tenant_domains").Columns("host", "tenant_id", "created_at").
		Values(d.Host, d.TenantID, s.encodeTime(d.CreatedAt))
	if _, err := s.exec(ctx, b); err != nil {
		return fmt.Errorf("add domain %s: %w", d.Host, err)
	}
	return nil
}

// TenantIDByHost resolves a custom domain.
func (s *Store) TenantIDByHost(ctx context.Context, host string) (string, error) {
	row, err := s.queryRow(ctx, s.sb.Select("tenant_id").From("tenant_domains").Where(sq.Eq{"host": host}))
	if err != nil {
		return "", err
	}
	var id string
	if err := row.Scan(&id); err != nil {
		return "", notFoundWrap(err, "resolve host %s", host)
	}
	return id, nil
}

// --- Plans ---

// UpsertPlan creates or replaces a plan and its limits.
func (s *Store) UpsertPlan(ctx context.Context, p plan.Plan) error {
	return s.inTx(ctx, func(c conn) error {
		_, err := c.exec(ctx, c.sb.Insert("plans").Columns("id", "name").Values(p.ID, p.Name).
			Suffix("ON CONFLICT (id) DO UPDATE SET name = excluded.name"))
		if err != nil {
			return fmt.Errorf("upsert plan %s: %w", p.ID, err)
		}
		if _, err := c.exec(ctx, c.sb.Delete("plan_limits").Where(sq.Eq{"plan_id": p.ID})); err != nil {
			return fmt.Errorf("reset plan limits %s: %w", p.ID, err)
		}
		if len(p.Limits) == 0 {
			return nil
		}
		b := c.sb.Insert("plan_limits").Columns("plan_id", "resource", "max_units")
		for r, n := range p.Limits {
			b = b.Values(p.ID, string(r), n)
		}
		if _, err := c.exec(ctx, b); err != nil {
			return fmt.Errorf("insert plan limits %s: %w", p.ID, err)
		}
		return nil
	})
}

// GetPlan loads a plan with its limits.
func (s *Store) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	return s.getPlan(ctx, id)
}

func (c conn) getPlan(ctx context.Context, id string) (*plan.Plan, error) {
	row, err := c.queryRow(ctx, c.sb.Select("id", "name").From("plans").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	p := plan.Plan{Limits: map[plan.Resource]int64{}}
	if err := row.Scan(&p.ID, &p.Name); err != nil {
		return nil, notFoundWrap(err, "get plan %s", id)
	}

	rows, err := c.query(ctx, c.sb.Select("resource", "max_units").From("plan_limits").Where(sq.Eq{"plan_id": id}))
	if err != nil {
		return nil, fmt.Errorf("get plan limits %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var r string
		var n int64
		if err := rows.Scan(&r, &n); err != nil {
			return nil, fmt.Errorf("scan plan limit: %w", err)
		}
		p.Limits[plan.Resource(r)] = n
	}
	return &p, rows.Err()
}

// expectOne verifies that a statement affected a row. If not, it returns
// domain.ErrNotFound with the given message.
func expectOne(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf(format+": %w", append(args, err)...)
	}
	if n == 0 {
		return notFoundWrap(sql.ErrNoRows, format, args...)
	}
	return nil
}
