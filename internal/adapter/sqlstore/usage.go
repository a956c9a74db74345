package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/Strob0t/tenantguard/internal/domain/plan"
)

func (c conn) usage(ctx context.Context, tenantID string, r plan.Resource, window time.Time) (int64, error) {
	row, err := c.queryRow(ctx, c.sb.Select("used").From("usage_counters").Where(sq.Eq{
		"tenant_id":    tenantID,
		"resource":     string(r),
		"window_start": c.encodeTime(window),
	}))
	if err != nil {
		return 0, err
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("usage %s/%s: %w", tenantID, r, err)
	}
	return n, nil
}

func (c conn) addUsage(ctx context.Context, tenantID string, r plan.Resource, window time.Time, delta int64) error {
	b := c.sb.Insert("usage_counters").Columns("tenant_id", "resource", "window_start", "used").
		Values(tenantID, string(r), c.encodeTime(window), delta).
		Suffix("ON CONFLICT (tenant_id, resource, window_start) DO UPDATE SET used = usage_counters.used + excluded.used")
	if _, err := c.exec(ctx, b); err != nil {
		return fmt.Errorf("add usage %s/%s: %w", tenantID, r, err)
	}
	return nil
}

// Usage returns the counter of r in the window starting at window.
func (s *Store) Usage(ctx context.Context, tenantID string, r plan.Resource, window time.Time) (int64, error) {
	return s.usage(ctx, tenantID, r, window)
}

// Consume adds one unit of r if the window's counter is below limit. It
// returns the counter after the attempt and whether the unit was granted.
// A negative limit is unlimited.
func (s *Store) Consume(ctx context.Context, tenantID string, r plan.Resource, window time.Time, limit int64) (int64, bool, error) {
	var used int64
	var ok bool
	err := s.inTx(ctx, func(c conn) error {
		if err := (txConn{c}).Lock(ctx, "usage:"+tenantID+":"+string(r)); err != nil {
			return err
		}
		n, err := c.usage(ctx, tenantID, r, window)
		if err != nil {
			return err
		}
		if limit >= 0 && n >= limit {
			used = n
			return nil
		}
		if err := c.addUsage(ctx, tenantID, r, window, 1); err != nil {
			return err
		}
		used, ok = n+1, true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return used, ok, nil
}

// PruneUsage deletes counters of windows that started before cutoff.
// Lifetime counters, whose window starts at the epoch, are kept.
func (s *Store) PruneUsage(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, s.sb.Delete("usage_counters").Where(sq.And{
		sq.Lt{"window_start": s.encodeTime(cutoff)},
		sq.Gt{"window_start": s.encodeTime(time.Unix(0, 0).UTC())},
	}))
	if err != nil {
		return 0, fmt.Errorf("prune usage: %w", err)
	}
	return res.RowsAffected()
}
