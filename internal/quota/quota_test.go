package quota_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/tenantguard/internal/adapter/sqlstore"
	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/property"
	"github.com/Strob0t/tenantguard/internal/quota"
	"github.com/Strob0t/tenantguard/internal/scoped"
	"github.com/Strob0t/tenantguard/internal/tenancy"
	"github.com/Strob0t/tenantguard/internal/testkit"
	"github.com/Strob0t/tenantguard/internal/validator"
)

var starter = plan.Plan{
	ID:   "starter",
	Name: "Starter",
	Limits: map[plan.Resource]int64{
		plan.ResourceProperties: 2,
		plan.ResourceMessages:   2,
		plan.ResourceAPICalls:   2,
	},
}

func setup(t *testing.T, extra ...scoped.Hook) (*sqlstore.Store, *scoped.Store, *quota.Service) {
	t.Helper()
	db := testkit.Store(t)
	store := scoped.NewStore(db)
	svc := quota.NewService(store, db, 0.8, property.Meters()...)
	store.Use(validator.New(), quota.NewEnforcer(svc))
	store.Use(extra...)
	return db, store, svc
}

func TestPlanLimitReached(t *testing.T) {
	db, store, svc := setup(t)
	tn := testkit.Tenant(t, db, "acme", starter)
	ctx := testkit.As(t, tn, principal.RoleOwner)
	props := scoped.For(store, property.Properties)

	require.NoError(t, props.Create(ctx, &property.Property{Name: "One"}))
	near, err := svc.IsNearLimit(ctx, tn, plan.ResourceProperties)
	require.NoError(t, err)
	assert.False(t, near)

	require.NoError(t, props.Create(ctx, &property.Property{Name: "Two"}))
	near, err = svc.IsNearLimit(ctx, tn, plan.ResourceProperties)
	require.NoError(t, err)
	assert.True(t, near)

	err = props.Create(ctx, &property.Property{Name: "Three"})
	require.ErrorIs(t, err, tenancy.ErrQuotaExceeded)
	te, ok := tenancy.As(err)
	require.True(t, ok)
	require.NotNil(t, te.Usage)
	assert.Equal(t, plan.Usage{Resource: plan.ResourceProperties, Used: 2, Limit: 2}, *te.Usage)
	assert.Equal(t, "2/2 properties used, upgrade to add more", te.Public())

	n, err := props.Count(ctx, scoped.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, u, err := svc.CanCreate(ctx, tn, plan.ResourceProperties)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, u.Remaining())
}

func TestConcurrentCreatesRespectRemaining(t *testing.T) {
	const n, limit = 12, 5
	db, store, _ := setup(t)
	p := plan.Plan{ID: "five", Name: "Five", Limits: map[plan.Resource]int64{plan.ResourceProperties: limit}}
	tn := testkit.Tenant(t, db, "acme", p)
	ctx := testkit.As(t, tn, principal.RoleOwner)
	props := scoped.For(store, property.Properties)

	var ok, exceeded atomic.Int64
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			err := props.Create(ctx, &property.Property{Name: "Unit " + string(rune('A'+i))})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, tenancy.ErrQuotaExceeded):
				exceeded.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(limit), ok.Load())
	assert.Equal(t, int64(n-limit), exceeded.Load())

	count, err := props.Count(ctx, scoped.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(limit), count)
}

func TestWindowedCounterCommitsWithWrite(t *testing.T) {
	var fail atomic.Bool
	failing := scoped.HookFunc(func(context.Context, *scoped.Write) error {
		if fail.Load() {
			return errors.New("downstream failure")
		}
		return nil
	})
	db, store, svc := setup(t, failing)
	tn := testkit.Tenant(t, db, "acme", starter)
	ctx := testkit.As(t, tn, principal.RoleStaff)
	msgs := scoped.For(store, property.Messages)
	author := "staff-1"

	fail.Store(true)
	require.Error(t, msgs.Create(ctx, &property.Message{AuthorID: author, Body: "hello"}))
	u, err := svc.Usage(ctx, tn, plan.ResourceMessages)
	require.NoError(t, err)
	assert.Zero(t, u.Used, "reservation rolled back with the write")

	fail.Store(false)
	require.NoError(t, msgs.Create(ctx, &property.Message{AuthorID: author, Body: "one"}))
	require.NoError(t, msgs.Create(ctx, &property.Message{AuthorID: author, Body: "two"}))
	err = msgs.Create(ctx, &property.Message{AuthorID: author, Body: "three"})
	assert.ErrorIs(t, err, tenancy.ErrQuotaExceeded)

	u, err = svc.Usage(ctx, tn, plan.ResourceMessages)
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Used)
	assert.True(t, u.IsExhausted())
}

func TestConsumeAPICalls(t *testing.T) {
	db, _, svc := setup(t)
	tn := testkit.Tenant(t, db, "acme", starter)
	ctx := testkit.As(t, tn, principal.RoleService)

	for range 2 {
		_, err := svc.Consume(ctx, tn, plan.ResourceAPICalls)
		require.NoError(t, err)
	}
	u, err := svc.Consume(ctx, tn, plan.ResourceAPICalls)
	require.ErrorIs(t, err, tenancy.ErrQuotaExceeded)
	assert.Equal(t, int64(2), u.Used)

	_, err = svc.Consume(ctx, tn, plan.ResourceProperties)
	assert.Error(t, err, "live resources are not consumed directly")
}

func TestUnlimitedPlan(t *testing.T) {
	db, store, svc := setup(t)
	tn := testkit.Tenant(t, db, "acme", testkit.Unlimited)
	ctx := testkit.As(t, tn, principal.RoleOwner)
	props := scoped.For(store, property.Properties)

	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, props.Create(ctx, &property.Property{Name: name}))
	}
	u, err := svc.Usage(ctx, tn, plan.ResourceProperties)
	require.NoError(t, err)
	assert.True(t, u.Unbounded())
	assert.Equal(t, plan.Unlimited, u.Remaining())
	assert.Equal(t, "3 properties used", u.Message())
}

func TestUsageOfAnotherTenantRefused(t *testing.T) {
	db, _, svc := setup(t)
	acme := testkit.Tenant(t, db, "acme", starter)
	globex := testkit.Tenant(t, db, "globex", starter)
	ctx := testkit.As(t, acme, principal.RoleOwner)

	_, err := svc.Usage(ctx, globex, plan.ResourceProperties)
	assert.ErrorIs(t, err, tenancy.ErrCrossTenantWrite)

	_, err = svc.Usage(context.Background(), acme, plan.ResourceProperties)
	assert.ErrorIs(t, err, tenancy.ErrContextMissing)
}

func TestSnapshot(t *testing.T) {
	db, _, svc := setup(t)
	tn := testkit.Tenant(t, db, "acme", starter)
	ctx := testkit.As(t, tn, principal.RoleOwner)

	snap, err := svc.Snapshot(ctx, tn)
	require.NoError(t, err)
	require.Len(t, snap, len(property.Meters()))
	assert.Equal(t, plan.ResourceProperties, snap[0].Resource)
	assert.Equal(t, int64(2), snap[0].Limit)
}

func TestServiceMetersOnlyConfiguredResources(t *testing.T) {
	db := testkit.Store(t)
	store := scoped.NewStore(db)
	svc := quota.NewService(store, db, 0.8, quota.Meter{Resource: plan.ResourceAPICalls, Window: plan.WindowDaily})
	store.Use(quota.NewEnforcer(svc))

	tn := testkit.Tenant(t, db, "acme", starter)
	ctx := testkit.As(t, tn, principal.RoleOwner)

	_, ok := svc.Meter(plan.ResourceProperties)
	assert.False(t, ok)
	_, err := svc.Usage(ctx, tn, plan.ResourceProperties)
	assert.Error(t, err)

	// Properties are unmetered here, so the starter limit of two is not applied.
	props := scoped.For(store, property.Properties)
	for _, name := range []string{"One", "Two", "Three"} {
		require.NoError(t, props.Create(ctx, &property.Property{Name: name}))
	}

	snap, err := svc.Snapshot(ctx, tn)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, plan.ResourceAPICalls, snap[0].Resource)
}
