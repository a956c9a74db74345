package scoped

import (
	"context"
	"time"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
)

// Scanner decodes one row: the base record followed by the schema columns.
type Scanner interface {
	Scan(base *Record, fields ...any) error
}

// Backend stores tenant-owned rows. Every method must apply the Criteria it
// is given and return tenancy.ErrContextMissing for an invalid one.
type Backend interface {
	Select(ctx context.Context, s *Schema, c Criteria, q Query, visit func(Scanner) error) error
	Count(ctx context.Context, s *Schema, c Criteria, q Query) (int64, error)
	// InTx runs fn in one write transaction. Quota reservations made via Tx
	// commit or roll back together with the entity write.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view write hooks run against.
type Tx interface {
	Count(ctx context.Context, s *Schema, c Criteria, q Query) (int64, error)
	Insert(ctx context.Context, s *Schema, base Record, values []any) error
	// Update and Delete return the number of rows affected inside c.
	Update(ctx context.Context, s *Schema, c Criteria, base Record, values []any) (int64, error)
	Delete(ctx context.Context, s *Schema, c Criteria, id string) (int64, error)

	// Tenant loads a tenant with its plan; domain.ErrNotFound if absent.
	Tenant(ctx context.Context, id string) (*tenant.Tenant, error)
	// Lock serializes writers on key until the transaction ends.
	Lock(ctx context.Context, key string) error
	Usage(ctx context.Context, tenantID string, r plan.Resource, window time.Time) (int64, error)
	AddUsage(ctx context.Context, tenantID string, r plan.Resource, window time.Time, delta int64) error
}
