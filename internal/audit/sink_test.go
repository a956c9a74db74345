package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgaudit "github.com/Strob0t/tenantguard/internal/audit"
	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/property"
	"github.com/Strob0t/tenantguard/internal/logger"
	"github.com/Strob0t/tenantguard/internal/resilience"
	"github.com/Strob0t/tenantguard/internal/scoped"
	"github.com/Strob0t/tenantguard/internal/testkit"
)

// brokenStore fails every append.
type brokenStore struct {
	mu    sync.Mutex
	calls int
}

func (b *brokenStore) Append(context.Context, audit.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return errors.New("disk full")
}

func (b *brokenStore) QueryAudit(context.Context, string, time.Time, time.Time) ([]audit.Event, error) {
	return nil, nil
}

func TestRecordCompletesFromScope(t *testing.T) {
	db := testkit.Store(t)
	tn := testkit.Tenant(t, db, "acme", testkit.Unlimited)
	ctx := testkit.As(t, tn, principal.RoleManager)
	ctx = logger.WithRequestID(ctx, "req-1")
	sink := tgaudit.NewSink(db)

	sink.Record(ctx, audit.Event{Action: audit.ActionUpdate, TargetKind: "property", TargetID: "p1"})

	events, err := sink.Query(context.Background(), tn.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	e := events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, tn.ID, e.TenantID)
	assert.Contains(t, e.ActorID, "manager-")
	assert.Equal(t, "req-1", e.RequestID)
	assert.False(t, e.OccurredAt.IsZero())
}

func TestRecordWithoutScopeIsAnonymous(t *testing.T) {
	db := testkit.Store(t)
	sink := tgaudit.NewSink(db)

	sink.Record(context.Background(), audit.Event{Action: audit.ActionViolation, Reason: "context_missing"})

	events, err := sink.Query(context.Background(), "", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.Anonymous, events[0].ActorID)
	assert.Empty(t, events[0].TenantID)
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	db := testkit.Store(t)
	sink := tgaudit.NewSink(db)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink.Record(ctx, audit.Event{Action: audit.ActionRequest, TenantID: "t1", ActorID: "u1"})

	events, err := sink.Query(context.Background(), "t1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFailureDoesNotFailBusinessWrite(t *testing.T) {
	db := testkit.Store(t)
	tn := testkit.Tenant(t, db, "acme", testkit.Unlimited)
	ctx := testkit.As(t, tn, principal.RoleOwner)

	var failed []audit.Event
	sink := tgaudit.NewSink(&brokenStore{}, tgaudit.OnFailure(func(e audit.Event, err error) {
		assert.EqualError(t, err, "disk full")
		failed = append(failed, e)
	}))
	store := scoped.NewStore(db, scoped.WithAuditor(sink))
	props := scoped.For(store, property.Properties)

	p := &property.Property{Name: "Harbour View"}
	require.NoError(t, props.Create(ctx, p))

	got, err := props.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Harbour View", got.Name)
	require.Len(t, failed, 1)
	assert.Equal(t, audit.ActionCreate, failed[0].Action)
	assert.Equal(t, p.ID, failed[0].TargetID)
}

func TestBreakerShortCircuits(t *testing.T) {
	broken := &brokenStore{}
	var reasons []error
	sink := tgaudit.NewSink(broken,
		tgaudit.WithBreaker(resilience.NewBreaker(2, time.Hour)),
		tgaudit.OnFailure(func(_ audit.Event, err error) { reasons = append(reasons, err) }),
	)

	for range 5 {
		sink.Record(context.Background(), audit.Event{Action: audit.ActionRequest})
	}
	assert.Equal(t, 2, broken.calls)
	require.Len(t, reasons, 5)
	assert.ErrorIs(t, reasons[4], resilience.ErrCircuitOpen)
}

func TestQueryRejectsInvertedRange(t *testing.T) {
	sink := tgaudit.NewSink(&brokenStore{})
	now := time.Now()
	_, err := sink.Query(context.Background(), "t1", now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
