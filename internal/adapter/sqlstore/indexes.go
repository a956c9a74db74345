package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/tenantguard/internal/port/database"
)

var _ database.SchemaInspector = (*Store)(nil)

// Indexes lists the indexes of table, including those backing UNIQUE and
// PRIMARY KEY constraints.
func (s *Store) Indexes(ctx context.Context, table string) ([]database.Index, error) {
	switch s.d.Name {
	case SQLite.Name:
		return s.sqliteIndexes(ctx, table)
	default:
		return s.postgresIndexes(ctx, table)
	}
}

func (s *Store) sqliteIndexes(ctx context.Context, table string) ([]database.Index, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT name, "unique" FROM pragma_index_list(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("list indexes of %s: %w", table, err)
	}
	var out []database.Index
	for rows.Next() {
		var idx database.Index
		if err := rows.Scan(&idx.Name, &idx.Unique); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan index: %w", err)
		}
		out = append(out, idx)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The column lookups run after the list is drained; a single-connection
	// pool cannot serve both cursors at once.
	for i := range out {
		cols, err := s.sqliteIndexColumns(ctx, out[i].Name)
		if err != nil {
			return nil, err
		}
		out[i].Columns = cols
	}
	return out, nil
}

func (s *Store) sqliteIndexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, index)
	if err != nil {
		return nil, fmt.Errorf("index info %s: %w", index, err)
	}
	defer func() { _ = rows.Close() }()
	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan index column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

const postgresIndexQuery = `
SELECT i.relname, ix.indisunique,
       array_to_string(ARRAY(
           SELECT a.attname
           FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
           JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
           ORDER BY k.ord
       ), ',')
FROM pg_index ix
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE t.relname = $1 AND n.nspname = current_schema()
ORDER BY i.relname`

func (s *Store) postgresIndexes(ctx context.Context, table string) ([]database.Index, error) {
	rows, err := s.q.QueryContext(ctx, postgresIndexQuery, table)
	if err != nil {
		return nil, fmt.Errorf("list indexes of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	var out []database.Index
	for rows.Next() {
		var idx database.Index
		var cols string
		if err := rows.Scan(&idx.Name, &idx.Unique, &cols); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		if cols != "" {
			idx.Columns = strings.Split(cols, ",")
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}
