// Package sqlite opens embedded SQLite databases and applies the bundled
// migrations. It backs tests, local development and single-node installs.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Register the "sqlite" driver for database/sql
)

//go:embed migrations/*.sql
var migrations embed.FS

// pragmas are applied on every connection. Write transactions begin
// IMMEDIATE so quota checks and their inserts are serialized.
const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

// Open opens the database at path and migrates it.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(strings.TrimPrefix(path, "sqlite://"))
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	return open(ctx, "file:"+path+"?"+pragmas)
}

// OpenMemory opens a private in-memory database and migrates it.
func OpenMemory(ctx context.Context) (*sql.DB, error) {
	return open(ctx, "file::memory:?"+strings.Replace(pragmas, "&_pragma=journal_mode(WAL)", "", 1))
}

func open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: in-memory databases are per connection, and a single
	// writer keeps SQLite free of SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func provider(db *sql.DB) (*goose.Provider, error) {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return nil, fmt.Errorf("migration provider: %w", err)
	}
	return p, nil
}

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	p, err := provider(db)
	if err != nil {
		return err
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the current migration version.
func MigrationVersion(ctx context.Context, db *sql.DB) (int64, error) {
	p, err := provider(db)
	if err != nil {
		return 0, err
	}
	v, err := p.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}
