package scoped

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/logger"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// Auditor appends audit events. Implementations never fail the caller.
type Auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// Hook runs inside the write transaction before the row is persisted. A
// returned error rolls the transaction back.
type Hook interface {
	BeforeWrite(ctx context.Context, w *Write) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, w *Write) error

func (f HookFunc) BeforeWrite(ctx context.Context, w *Write) error { return f(ctx, w) }

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, audit.Event) {}

// Store holds what every repository shares: the backend, the write hooks
// and the violation reporting channels.
type Store struct {
	backend Backend
	hooks   []Hook
	auditor Auditor
	signals tenancy.Emitter
	now     func() time.Time
	newID   func() string
}

// Option configures a Store.
type Option func(*Store)

func WithHooks(h ...Hook) Option { return func(s *Store) { s.hooks = append(s.hooks, h...) } }
func WithAuditor(a Auditor) Option { return func(s *Store) { s.auditor = a } }
func WithSignals(e tenancy.Emitter) Option { return func(s *Store) { s.signals = e } }
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }
func WithIDGenerator(f func() string) Option { return func(s *Store) { s.newID = f } }

// NewStore creates a Store over b.
func NewStore(b Backend, opts ...Option) *Store {
	s := &Store{
		backend: b,
		auditor: nopAuditor{},
		signals: tenancy.Nop,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Use appends write hooks. Call it during wiring, before serving traffic.
func (s *Store) Use(h ...Hook) {
	s.hooks = append(s.hooks, h...)
}

// criteria is the scoping hook every query and write passes through.
func (s *Store) criteria(ctx context.Context, sc *Schema) (Criteria, tenancy.Scope, error) {
	scope, err := tenancy.Require(ctx)
	if err != nil {
		return Criteria{}, scope, err
	}
	if scope.Unbound() {
		if sc.PrincipalColumn == "" {
			return Criteria{}, scope, tenancy.Forbidden(scope, "%s is not reachable by %s principals", sc.Table, scope.Principal.Role)
		}
		return Criteria{
			tenantID:        scope.TenantID(),
			principalColumn: sc.PrincipalColumn,
			principalID:     scope.Principal.ID,
		}, scope, nil
	}
	if scope.TenantID() == "" {
		return Criteria{}, scope, tenancy.ContextMissing("scope has no tenant")
	}
	return Criteria{tenantID: scope.TenantID()}, scope, nil
}

// TenantCount counts the scope tenant's rows in sc regardless of principal
// linkage. Quota usage is measured this way.
func (s *Store) TenantCount(ctx context.Context, sc *Schema) (int64, error) {
	scope, err := tenancy.Require(ctx)
	if err != nil {
		return 0, s.fail(ctx, scope, sc, "", err)
	}
	if scope.TenantID() == "" {
		return 0, s.fail(ctx, scope, sc, "", tenancy.ContextMissing("scope has no tenant"))
	}
	n, err := s.backend.Count(ctx, sc, Criteria{tenantID: scope.TenantID()}, Query{})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", sc.Table, err)
	}
	return n, nil
}

// bindTenant stamps an empty tenant from the scope and rejects a tenant
// that differs from it.
func (s *Store) bindTenant(scope tenancy.Scope, sc *Schema, base *Record) error {
	tid := scope.TenantID()
	switch {
	case tid == "" && !scope.Unbound():
		return tenancy.ContextMissing("scope has no tenant")
	case tid == "" && base.TenantID == "":
		return tenancy.ContextMissing("tenant is required")
	case tid == "":
		// Unbound principal writing into the row's declared tenant.
		return nil
	case base.TenantID == "":
		base.TenantID = tid
		return nil
	case base.TenantID != tid:
		return tenancy.CrossTenantWrite(scope, "%s tenant %s does not match scope", sc.Kind, base.TenantID)
	}
	return nil
}

// bindPrincipal ensures unbound principals only write rows linked to
// themselves.
func bindPrincipal(scope tenancy.Scope, sc *Schema, values map[string]any) error {
	if !scope.Unbound() {
		return nil
	}
	if sc.PrincipalColumn == "" {
		return tenancy.Forbidden(scope, "%s is not writable by %s principals", sc.Table, scope.Principal.Role)
	}
	if stringValue(values[sc.PrincipalColumn]) != scope.Principal.ID {
		return tenancy.Forbidden(scope, "%s.%s must reference the acting principal", sc.Table, sc.PrincipalColumn)
	}
	return nil
}

// storeError translates backend failures. A composite unique index
// collision is the authoritative per-tenant uniqueness check.
func storeError(scope tenancy.Scope, sc *Schema, err error) error {
	if errors.Is(err, domain.ErrConflict) {
		if _, ok := tenancy.As(err); !ok {
			return &tenancy.Error{
				Code:        tenancy.CodeUniqueness,
				TenantID:    scope.TenantID(),
				PrincipalID: scope.Principal.ID,
				Reason:      sc.Kind + " already exists",
				Err:         err,
			}
		}
	}
	return err
}

// fail reports tenancy errors as signals and violation events before
// returning err unchanged. It runs outside any transaction so that a
// violation is recorded even though the write rolled back.
func (s *Store) fail(ctx context.Context, scope tenancy.Scope, sc *Schema, targetID string, err error) error {
	te, ok := tenancy.As(err)
	if !ok {
		return err
	}
	if te.TenantID == "" {
		te.TenantID = scope.TenantID()
	}
	if te.PrincipalID == "" {
		te.PrincipalID = scope.Principal.ID
	}
	if te.Resource == "" {
		te.Resource = sc.Kind
	}

	logger.From(ctx).Warn("tenancy violation",
		zap.String("code", string(te.Code)),
		zap.String("table", sc.Table),
		zap.String("tenant_id", te.TenantID),
		zap.String("principal_id", te.PrincipalID),
		zap.String("reason", te.Reason),
	)
	s.signals.Emit(ctx, tenancy.SignalFor(te))

	if te.Code != tenancy.CodeQuotaExceeded {
		s.auditor.Record(ctx, audit.Event{
			ActorID:    actor(scope),
			TenantID:   te.TenantID,
			Action:     audit.ActionViolation,
			TargetKind: sc.Kind,
			TargetID:   targetID,
			Reason:     string(te.Code) + ": " + te.Reason,
		})
	}
	return err
}

func (s *Store) record(ctx context.Context, scope tenancy.Scope, action audit.Action, sc *Schema, base *Record) {
	s.auditor.Record(ctx, audit.Event{
		ActorID:    actor(scope),
		TenantID:   base.TenantID,
		Action:     action,
		TargetKind: sc.Kind,
		TargetID:   base.ID,
	})
}

func actor(scope tenancy.Scope) string {
	if scope.Principal.ID == "" {
		return audit.Anonymous
	}
	return scope.Principal.ID
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case *string:
		if x != nil {
			return *x
		}
	case fmt.Stringer:
		return x.String()
	}
	return ""
}
