// Package sqlstore implements the storage ports over database/sql. The
// same code serves PostgreSQL (via pgx stdlib) and SQLite (modernc); the
// Dialect supplies placeholders, time encoding and locking.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/port/database"
	"github.com/Strob0t/tenantguard/internal/scoped"
)

// Dialect captures the differences between supported databases.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	// LockSQL takes a transaction-scoped lock on its single argument.
	// Empty when write transactions are already exclusive.
	LockSQL string
	// EncodeTime converts a timestamp to its column representation.
	EncodeTime func(time.Time) any
}

// Postgres stores timestamps as TIMESTAMPTZ and serializes quota writers
// with advisory transaction locks.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: sq.Dollar,
	LockSQL:     "SELECT pg_advisory_xact_lock(hashtext($1))",
	EncodeTime:  func(t time.Time) any { return t.UTC() },
}

// SQLite stores timestamps as unix milliseconds. Write transactions are
// opened with BEGIN IMMEDIATE, which already excludes concurrent writers.
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: sq.Question,
	EncodeTime:  func(t time.Time) any { return t.UTC().UnixMilli() },
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs statements against a database or a transaction.
type conn struct {
	q  querier
	d  Dialect
	sb sq.StatementBuilderType
}

// Store implements scoped.Backend and the tenant, principal, audit and
// usage stores.
type Store struct {
	conn
	db *sql.DB
}

var (
	_ database.TenantStore    = (*Store)(nil)
	_ database.PrincipalStore = (*Store)(nil)
	_ database.AuditStore     = (*Store)(nil)
	_ database.UsageStore     = (*Store)(nil)
)

// New creates a Store over db.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{
		conn: conn{q: db, d: d, sb: sq.StatementBuilder.PlaceholderFormat(d.Placeholder)},
		db:   db,
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect { return s.d }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// InTx runs fn in a write transaction. A cancelled context rolls the
// transaction back, reservations included.
func (s *Store) InTx(ctx context.Context, fn func(tx scoped.Tx) error) error {
	return s.inTx(ctx, func(c conn) error { return fn(txConn{c}) })
}

func (s *Store) inTx(ctx context.Context, fn func(c conn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(conn{q: tx, d: s.d, sb: s.sb}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (c conn) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	return res, nil
}

func (c conn) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	return c.q.QueryRowContext(ctx, query, args...), nil
}

func (c conn) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (c conn) encodeTime(t time.Time) any {
	return c.d.EncodeTime(t)
}

// nullTime encodes a zero time as NULL.
func (c conn) nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return c.d.EncodeTime(t)
}

// nullIfEmpty returns nil for empty strings (for nullable reference columns).
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeValue scans TIMESTAMPTZ, unix-millisecond and text timestamps.
type timeValue struct{ dst *time.Time }

func (t timeValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t.dst = time.Time{}
	case time.Time:
		*t.dst = v.UTC()
	case int64:
		*t.dst = time.UnixMilli(v).UTC()
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (t timeValue) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse time %q: %w", s, err)
	}
	*t.dst = parsed.UTC()
	return nil
}

// notFoundWrap maps sql.ErrNoRows to domain.ErrNotFound with the given
// message. Otherwise it wraps the original error.
func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// mapErr translates constraint violations of either driver into domain
// sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: reference violates %s", domain.ErrValidation, pgErr.ConstraintName)
		}
		return err
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", domain.ErrConflict, sqliteErr.Error())
		case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: reference violates a foreign key", domain.ErrValidation)
		}
	}
	return err
}
