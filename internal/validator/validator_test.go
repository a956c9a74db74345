package validator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/tenantguard/internal/adapter/sqlstore"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/property"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
	"github.com/Strob0t/tenantguard/internal/port/database"
	"github.com/Strob0t/tenantguard/internal/scoped"
	"github.com/Strob0t/tenantguard/internal/tenancy"
	"github.com/Strob0t/tenantguard/internal/testkit"
	"github.com/Strob0t/tenantguard/internal/validator"
)

type fixture struct {
	db     *sqlstore.Store
	store  *scoped.Store
	acme   *tenant.Tenant
	globex *tenant.Tenant
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testkit.Store(t)
	return fixture{
		db:     db,
		store:  scoped.NewStore(db, scoped.WithHooks(validator.New())),
		acme:   testkit.Tenant(t, db, "acme", testkit.Unlimited),
		globex: testkit.Tenant(t, db, "globex", testkit.Unlimited),
	}
}

func TestUniquePerTenant(t *testing.T) {
	f := setup(t)
	props := scoped.For(f.store, property.Properties)
	acme := testkit.As(t, f.acme, principal.RoleOwner)
	globex := testkit.As(t, f.globex, principal.RoleOwner)

	require.NoError(t, props.Create(acme, &property.Property{Name: "Harbour View"}))
	require.NoError(t, props.Create(globex, &property.Property{Name: "Harbour View"}), "same name in another tenant")

	err := props.Create(acme, &property.Property{Name: "Harbour View"})
	require.ErrorIs(t, err, tenancy.ErrUniqueness)
	te, ok := tenancy.As(err)
	require.True(t, ok)
	assert.Equal(t, "property name already exists", te.Public())

	n, err := props.Count(acme, scoped.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUniqueOnUpdate(t *testing.T) {
	f := setup(t)
	props := scoped.For(f.store, property.Properties)
	ctx := testkit.As(t, f.acme, principal.RoleManager)

	a := &property.Property{Name: "A"}
	b := &property.Property{Name: "B"}
	require.NoError(t, props.Create(ctx, a))
	require.NoError(t, props.Create(ctx, b))

	b.Units = 12
	require.NoError(t, props.Update(ctx, b), "keeping its own name is not a collision")

	b.Name = "A"
	assert.ErrorIs(t, props.Update(ctx, b), tenancy.ErrUniqueness)
	got, err := props.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Name)
}

func TestReferenceOutsideTenant(t *testing.T) {
	f := setup(t)
	sizes := scoped.For(f.store, property.PlotSizes)
	props := scoped.For(f.store, property.Properties)
	acme := testkit.As(t, f.acme, principal.RoleOwner)
	globex := testkit.As(t, f.globex, principal.RoleOwner)

	foreign := &property.PlotSize{Label: "500sqm", AreaSqm: 500}
	require.NoError(t, sizes.Create(globex, foreign))

	err := props.Create(acme, &property.Property{Name: "Annex", PlotSizeID: foreign.ID})
	require.ErrorIs(t, err, tenancy.ErrCrossTenantWrite)
	te, _ := tenancy.As(err)
	assert.Equal(t, tenancy.AccessDenied, te.Public())

	n, err := props.Count(acme, scoped.Query{})
	require.NoError(t, err)
	assert.Zero(t, n, "no partial write")

	own := &property.PlotSize{Label: "500sqm", AreaSqm: 500}
	require.NoError(t, sizes.Create(acme, own))
	require.NoError(t, props.Create(acme, &property.Property{Name: "Annex", PlotSizeID: own.ID}))
}

func TestTenantState(t *testing.T) {
	f := setup(t)
	props := scoped.For(f.store, property.Properties)
	ctx := context.Background()

	f.acme.ReadOnly = true
	require.NoError(t, f.db.UpdateTenant(ctx, f.acme))
	err := props.Create(testkit.As(t, f.acme, principal.RoleOwner), &property.Property{Name: "X"})
	assert.ErrorIs(t, err, tenancy.ErrReadOnly)

	f.globex.Active = false
	require.NoError(t, f.db.UpdateTenant(ctx, f.globex))
	err = props.Create(testkit.As(t, f.globex, principal.RoleOwner), &property.Property{Name: "X"})
	assert.ErrorIs(t, err, tenancy.ErrInactiveTenant)
}

func TestMissingTenantField(t *testing.T) {
	err := validator.New().BeforeWrite(context.Background(), &scoped.Write{
		Op:     scoped.OpCreate,
		Schema: &property.Properties.Schema,
	})
	assert.ErrorIs(t, err, tenancy.ErrContextMissing)
}

func TestCheckSchemaMigrated(t *testing.T) {
	db := testkit.Store(t)
	defects, err := validator.CheckSchema(context.Background(), db, property.Schemas()...)
	require.NoError(t, err)
	assert.Empty(t, defects)
}

type fakeInspector map[string][]database.Index

func (f fakeInspector) Indexes(_ context.Context, table string) ([]database.Index, error) {
	return f[table], nil
}

func TestCheckSchemaDefects(t *testing.T) {
	inspector := fakeInspector{
		"properties": {
			{Name: "properties_name_key", Columns: []string{"name"}, Unique: true},
		},
	}
	defects, err := validator.CheckSchema(context.Background(), inspector,
		&property.Properties.Schema, &property.PlotSizes.Schema)
	require.True(t, errors.Is(err, validator.ErrSchemaDefects))

	var reasons []string
	for _, d := range defects {
		reasons = append(reasons, d.String())
	}
	assert.Contains(t, reasons, "properties: tenant_id is not indexed")
	assert.Contains(t, reasons, "properties: missing unique index (tenant_id, name)")
	assert.Contains(t, reasons, "properties (properties_name_key): unique index on [name] is global; name must be unique per tenant")
	assert.Contains(t, reasons, "plot_sizes: table has no indexes or does not exist")
}
