package sqlstore

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/Strob0t/tenantguard/internal/domain/audit"
)

var auditColumns = []string{
	"id", "actor_id", "tenant_id", "action", "target_kind", "target_id",
	"reason", "source_addr", "request_id", "occurred_at",
}

// Append inserts one audit event. The table rejects UPDATE and DELETE.
func (s *Store) Append(ctx context.Context, e audit.Event) error {
	b := s.sb.Insert("audit_events").Columns(auditColumns...).Values(
		e.ID, e.ActorID, nullIfEmpty(e.TenantID), string(e.Action), e.TargetKind, e.TargetID,
		e.Reason, e.SourceAddr, e.RequestID, s.encodeTime(e.OccurredAt),
	)
	if _, err := s.exec(ctx, b); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// QueryAudit returns the events of tenantID in [from, to) in occurrence
// order. An empty tenantID selects events whose tenant was never resolved.
// A zero bound is open.
func (s *Store) QueryAudit(ctx context.Context, tenantID string, from, to time.Time) ([]audit.Event, error) {
	b := s.sb.Select(auditColumns...).From("audit_events").OrderBy("occurred_at", "id")
	if tenantID == "" {
		b = b.Where(sq.Eq{"tenant_id": nil})
	} else {
		b = b.Where(sq.Eq{"tenant_id": tenantID})
	}
	if !from.IsZero() {
		b = b.Where(sq.GtOrEq{"occurred_at": s.encodeTime(from)})
	}
	if !to.IsZero() {
		b = b.Where(sq.Lt{"occurred_at": s.encodeTime(to)})
	}

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		var tid *string
		var action string
		err := rows.Scan(&e.ID, &e.ActorID, &tid, &action, &e.TargetKind, &e.TargetID,
			&e.Reason, &e.SourceAddr, &e.RequestID, timeValue{&e.OccurredAt})
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if tid != nil {
			e.TenantID = *tid
		}
		e.Action = audit.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
