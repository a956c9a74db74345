// Package scoped is the only path to tenant-owned tables. Every read and
// write builds its Criteria through one scoping hook bound to the active
// tenancy.Scope; backends cannot be handed an unscoped filter because
// Criteria can only be built here.
package scoped

import (
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
)

// Record is embedded by every tenant-owned entity.
type Record struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Base returns the embedded record. Implementing it is what makes a type a
// tenant-scoped entity.
func (r *Record) Base() *Record { return r }

// Entity is implemented by pointers to types embedding Record.
type Entity interface {
	Base() *Record
}

// baseColumns are stored for every entity, in this order, before the
// schema's own columns.
var baseColumns = []string{"id", "tenant_id", "created_at", "updated_at"}

// Ref declares a foreign key to another tenant-owned table. Both sides must
// belong to the same tenant.
type Ref struct {
	Column string
	Table  string
}

// Schema declares the storage layout and isolation rules of an entity.
type Schema struct {
	Table   string
	Kind    string   // audit target kind, e.g. "property"
	Columns []string // data columns, excluding baseColumns
	// Unique columns are unique within (tenant_id, column), never globally.
	Unique []string
	Refs   []Ref
	// PrincipalColumn links rows to an unbound principal (client, marketer).
	// Tables without one are unreachable for those principals.
	PrincipalColumn string
	// Resource is the metered plan resource consumed by each create.
	Resource plan.Resource
}

// HasColumn reports whether c is a base or data column.
func (s *Schema) HasColumn(c string) bool {
	return slices.Contains(baseColumns, c) || slices.Contains(s.Columns, c)
}

// SelectColumns returns the stored columns in scan order.
func (s *Schema) SelectColumns() []string {
	return append(slices.Clone(baseColumns), s.Columns...)
}

// Validate checks that every declared constraint names a data column.
func (s *Schema) Validate() error {
	if s.Table == "" || s.Kind == "" {
		return fmt.Errorf("schema: table and kind are required")
	}
	for _, c := range s.Unique {
		if !slices.Contains(s.Columns, c) {
			return fmt.Errorf("schema %s: unique column %q is not declared", s.Table, c)
		}
	}
	for _, r := range s.Refs {
		if !slices.Contains(s.Columns, r.Column) || r.Table == "" {
			return fmt.Errorf("schema %s: invalid reference %q", s.Table, r.Column)
		}
	}
	if s.PrincipalColumn != "" && !slices.Contains(s.Columns, s.PrincipalColumn) {
		return fmt.Errorf("schema %s: principal column %q is not declared", s.Table, s.PrincipalColumn)
	}
	return nil
}

// Table binds a Schema to a concrete entity type.
type Table[T Entity] struct {
	Schema
	New    func() T
	Values func(T) []any // column values, in Columns order
	Fields func(T) []any // scan destinations, in Columns order
}

// Nullable maps "" to SQL NULL for optional references.
func Nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Optional returns a scan destination that maps NULL to "".
func Optional(dst *string) sql.Scanner {
	return &optional{dst: dst}
}

type optional struct{ dst *string }

func (o *optional) Scan(src any) error {
	var ns sql.NullString
	if err := ns.Scan(src); err != nil {
		return err
	}
	*o.dst = ns.String
	return nil
}
