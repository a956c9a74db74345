package validator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Strob0t/tenantguard/internal/port/database"
	"github.com/Strob0t/tenantguard/internal/scoped"
)

// Defect is one isolation problem found in the physical schema.
type Defect struct {
	Table  string
	Index  string
	Reason string
}

func (d Defect) String() string {
	if d.Index != "" {
		return fmt.Sprintf("%s (%s): %s", d.Table, d.Index, d.Reason)
	}
	return fmt.Sprintf("%s: %s", d.Table, d.Reason)
}

// ErrSchemaDefects is returned by CheckSchema when defects were found.
var ErrSchemaDefects = errors.New("schema does not enforce tenant isolation")

// CheckSchema verifies that each schema's unique columns are backed by a
// composite (tenant_id, column) unique index, that no unique index covers
// a unique column without tenant_id, and that tenant_id is indexed.
func CheckSchema(ctx context.Context, inspector database.SchemaInspector, schemas ...*scoped.Schema) ([]Defect, error) {
	var defects []Defect
	for _, s := range schemas {
		idx, err := inspector.Indexes(ctx, s.Table)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", s.Table, err)
		}
		if len(idx) == 0 {
			defects = append(defects, Defect{Table: s.Table, Reason: "table has no indexes or does not exist"})
			continue
		}
		defects = append(defects, checkTable(s, idx)...)
	}
	if len(defects) > 0 {
		return defects, fmt.Errorf("%w: %d defect(s)", ErrSchemaDefects, len(defects))
	}
	return nil, nil
}

func checkTable(s *scoped.Schema, idx []database.Index) []Defect {
	var defects []Defect

	tenantIndexed := slices.ContainsFunc(idx, func(i database.Index) bool {
		return len(i.Columns) > 0 && i.Columns[0] == "tenant_id"
	})
	if !tenantIndexed {
		defects = append(defects, Defect{Table: s.Table, Reason: "tenant_id is not indexed"})
	}

	for _, col := range s.Unique {
		composite := slices.ContainsFunc(idx, func(i database.Index) bool {
			return i.Unique && slices.Equal(i.Columns, []string{"tenant_id", col})
		})
		if !composite {
			defects = append(defects, Defect{Table: s.Table, Reason: fmt.Sprintf("missing unique index (tenant_id, %s)", col)})
		}
	}

	for _, i := range idx {
		if !i.Unique || slices.Contains(i.Columns, "tenant_id") {
			continue
		}
		for _, col := range s.Unique {
			if slices.Contains(i.Columns, col) {
				defects = append(defects, Defect{
					Table:  s.Table,
					Index:  i.Name,
					Reason: fmt.Sprintf("unique index on %v is global; %s must be unique per tenant", i.Columns, col),
				})
			}
		}
	}
	return defects
}
