// Package database defines the storage ports (interfaces) served by the SQL
// adapter. Tenant-owned business rows are not reached through these ports;
// they go through scoped.Repo.
package database

import (
	"context"
	"time"

	"github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
)

// TenantStore persists tenant records, plans and custom domains.
type TenantStore interface {
	CreateTenant(ctx context.Context, t *tenant.Tenant) error
	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
	ListTenants(ctx context.Context) ([]tenant.Tenant, error)
	UpdateTenant(ctx context.Context, t *tenant.Tenant) error

	AddDomain(ctx context.Context, d tenant.Domain) error
	TenantIDByHost(ctx context.Context, host string) (string, error)

	UpsertPlan(ctx context.Context, p plan.Plan) error
	GetPlan(ctx context.Context, id string) (*plan.Plan, error)
}

// PrincipalStore persists principals and their API keys.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *principal.Principal) error
	GetPrincipal(ctx context.Context, id string) (*principal.Principal, error)
	CreateAPIKey(ctx context.Context, k *principal.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*principal.APIKey, error)
}

// AuditStore appends and reads audit events. It has no update or delete.
type AuditStore interface {
	Append(ctx context.Context, e audit.Event) error
	QueryAudit(ctx context.Context, tenantID string, from, to time.Time) ([]audit.Event, error)
}

// UsageStore holds windowed usage counters.
type UsageStore interface {
	Usage(ctx context.Context, tenantID string, r plan.Resource, window time.Time) (int64, error)
	Consume(ctx context.Context, tenantID string, r plan.Resource, window time.Time, limit int64) (used int64, ok bool, err error)
	PruneUsage(ctx context.Context, cutoff time.Time) (int64, error)
}

// Index describes one index of a table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// SchemaInspector lists table indexes for startup schema checks.
type SchemaInspector interface {
	Indexes(ctx context.Context, table string) ([]Index, error)
}
