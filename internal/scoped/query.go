package scoped

import "fmt"

// Operator is a comparison in a Cond.
type Operator string

const (
	Equal    Operator = "eq"
	NotEqual Operator = "ne"
	Less     Operator = "lt"
	Greater  Operator = "gt"
	In       Operator = "in"
	Like     Operator = "like"
)

// Cond is a single column predicate.
type Cond struct {
	Column   string
	Operator Operator
	Value    any
}

func Eq(column string, v any) Cond { return Cond{column, Equal, v} }
func Ne(column string, v any) Cond { return Cond{column, NotEqual, v} }
func Lt(column string, v any) Cond { return Cond{column, Less, v} }
func Gt(column string, v any) Cond { return Cond{column, Greater, v} }
func Contains(column, s string) Cond { return Cond{column, Like, "%" + s + "%"} }

// OneOf matches any of vs.
func OneOf(column string, vs ...any) Cond { return Cond{column, In, vs} }

// Query selects rows inside the caller's criteria. Where conditions are
// ANDed; each Not condition excludes matching rows. OrderBy entries are
// column names, prefixed with "-" for descending order.
type Query struct {
	Where   []Cond
	Not     []Cond
	OrderBy []string
	Limit   uint64
	Offset  uint64
}

func (q Query) validate(s *Schema) error {
	for _, c := range append(append([]Cond{}, q.Where...), q.Not...) {
		if !s.HasColumn(c.Column) {
			return fmt.Errorf("%s: unknown column %q", s.Table, c.Column)
		}
		switch c.Operator {
		case Equal, NotEqual, Less, Greater, Like:
		case In:
			if _, ok := c.Value.([]any); !ok {
				return fmt.Errorf("%s: %q: in requires a list", s.Table, c.Column)
			}
		default:
			return fmt.Errorf("%s: unknown operator %q", s.Table, c.Operator)
		}
	}
	for _, o := range q.OrderBy {
		col := o
		if len(col) > 0 && col[0] == '-' {
			col = col[1:]
		}
		if !s.HasColumn(col) {
			return fmt.Errorf("%s: unknown order column %q", s.Table, col)
		}
	}
	return nil
}

// Criteria is the isolation predicate a backend must apply to every
// statement. Only this package constructs it; the zero value is invalid
// and backends must refuse it.
type Criteria struct {
	tenantID        string
	principalColumn string
	principalID     string
	unscoped        bool
}

// Valid reports whether c was built by the scoping hook.
func (c Criteria) Valid() bool {
	return c.unscoped || c.tenantID != "" || (c.principalColumn != "" && c.principalID != "")
}

// Tenant returns the tenant every row must belong to, or "".
func (c Criteria) Tenant() string { return c.tenantID }

// Principal returns the principal-link predicate, if any.
func (c Criteria) Principal() (column, id string) {
	return c.principalColumn, c.principalID
}

// Unscoped reports an audited elevated bypass.
func (c Criteria) Unscoped() bool { return c.unscoped }

func (c Criteria) String() string {
	switch {
	case c.unscoped:
		return "unscoped"
	case c.principalColumn != "":
		return fmt.Sprintf("tenant=%q %s=%q", c.tenantID, c.principalColumn, c.principalID)
	default:
		return fmt.Sprintf("tenant=%q", c.tenantID)
	}
}
