package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	tgnats "github.com/Strob0t/tenantguard/internal/adapter/nats"
	"github.com/Strob0t/tenantguard/internal/adapter/natskv"
	"github.com/Strob0t/tenantguard/internal/adapter/postgres"
	"github.com/Strob0t/tenantguard/internal/adapter/ristretto"
	"github.com/Strob0t/tenantguard/internal/adapter/sqlite"
	"github.com/Strob0t/tenantguard/internal/adapter/sqlstore"
	"github.com/Strob0t/tenantguard/internal/adapter/tiered"
	"github.com/Strob0t/tenantguard/internal/config"
	"github.com/Strob0t/tenantguard/internal/port/cache"
	"github.com/Strob0t/tenantguard/internal/port/messagequeue"
)

// openDatabase connects the configured backend, applies migrations and
// returns the SQL store with its cleanup.
func openDatabase(ctx context.Context, cfg config.Database, log *zap.Logger) (*sqlstore.Store, func(), error) {
	switch cfg.Driver {
	case "postgres", "":
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		db := postgres.OpenDB(pool)
		if err := postgres.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			pool.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		log.Info("postgres connected, migrations applied")
		return sqlstore.New(db, sqlstore.Postgres), func() {
			_ = db.Close()
			pool.Close()
		}, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		log.Info("sqlite opened, migrations applied", zap.String("path", cfg.DSN))
		return sqlstore.New(db, sqlstore.SQLite), func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// bus is the optional NATS connection. Without a URL every field is nil.
type bus struct {
	queue   *tgnats.Queue
	signals *tgnats.SignalEmitter
}

func connectNATS(ctx context.Context, cfg *config.Config, log *zap.Logger) (*bus, error) {
	if cfg.NATS.URL == "" {
		log.Info("nats disabled: signals stay local, cache is single-level")
		return &bus{}, nil
	}
	q, err := tgnats.Connect(ctx, cfg.NATS.URL, log)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	return &bus{
		queue:   q,
		signals: tgnats.NewSignalEmitter(q, cfg.NATS.SignalSubject, log),
	}, nil
}

func (b *bus) close() {
	if b.queue == nil {
		return
	}
	if err := b.queue.Drain(); err != nil {
		_ = b.queue.Close()
	}
}

// openCache builds a cache level pair: ristretto in process, backed by
// the JetStream KV bucket when NATS is connected. ttl caps both levels.
// With broadcast, deletes reach the in-process level of every node.
func openCache(ctx context.Context, b *bus, sizeMB int64, bucket string, ttl time.Duration, broadcast bool, log *zap.Logger) (cache.Cache, func(), error) {
	l1, err := ristretto.New(sizeMB)
	if err != nil {
		return nil, nil, fmt.Errorf("l1 cache: %w", err)
	}

	var l2 cache.Cache
	if b.queue != nil && bucket != "" {
		kv, err := natskv.Open(ctx, b.queue.JetStream(), bucket, ttl)
		if err != nil {
			l1.Close()
			return nil, nil, fmt.Errorf("l2 cache %s: %w", bucket, err)
		}
		l2 = kv
		log.Info("l2 cache enabled", zap.String("bucket", bucket))
	}

	var opts []tiered.Option
	if broadcast && b.queue != nil {
		opts = append(opts, tiered.WithPeers(b.queue, messagequeue.SubjectCacheInvalidate))
	}
	c := tiered.New(l1, l2, ttl, log, opts...)
	stop, err := c.Listen(ctx)
	if err != nil {
		l1.Close()
		return nil, nil, fmt.Errorf("cache invalidation: %w", err)
	}
	return c, func() {
		stop()
		l1.Close()
	}, nil
}

// idempotencyBucket names the KV bucket of stored responses. They outlive
// resolver entries, so they get a bucket with their own TTL.
func idempotencyBucket(base string) string {
	if base == "" {
		return ""
	}
	return base + "_IDEMPOTENCY"
}
