package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Strob0t/tenantguard/internal/adapter/ristretto"
	"github.com/Strob0t/tenantguard/internal/adapter/sqlstore"
	"github.com/Strob0t/tenantguard/internal/audit"
	"github.com/Strob0t/tenantguard/internal/config"
	auditdomain "github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/property"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
	"github.com/Strob0t/tenantguard/internal/middleware"
	"github.com/Strob0t/tenantguard/internal/quota"
	"github.com/Strob0t/tenantguard/internal/scoped"
	"github.com/Strob0t/tenantguard/internal/service"
	"github.com/Strob0t/tenantguard/internal/testkit"
	"github.com/Strob0t/tenantguard/internal/validator"
)

var twoProperties = plan.Plan{
	ID:   "two",
	Name: "Two",
	Limits: map[plan.Resource]int64{
		plan.ResourceProperties: 2,
	},
}

type stack struct {
	db     *sqlstore.Store
	auth   *service.AuthService
	router http.Handler
	reg    *prometheus.Registry
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db := testkit.Store(t)
	c, err := ristretto.New(1)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	sink := audit.NewSink(db)
	store := scoped.NewStore(db, scoped.WithAuditor(sink))
	q := quota.NewService(store, db, 0.8, property.Meters()...)
	store.Use(validator.New(), quota.NewEnforcer(q))

	resolver := service.NewResolver(db, db, c, time.Minute, "tenantguard.test")
	authSvc := service.NewAuthService(config.Auth{
		Enabled:   true,
		JWTSecret: "0123456789abcdef0123456789abcdef",
		Issuer:    "tenantguard-test",
		TokenTTL:  time.Hour,
	}, resolver)
	tenants := service.NewTenantService(db, db, sink, resolver, testkit.Unlimited.ID)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	pipeline := middleware.NewPipeline(resolver, q, sink, middleware.WithSignals(metrics))

	h := NewHandlers(store, Handlers{
		Tenants:  tenants,
		Auth:     authSvc,
		Resolver: resolver,
		Quota:    q,
		Audit:    sink,
		Ping:     db.Ping,
	})
	router := NewRouter(h, RouterConfig{
		Log:         zap.NewNop(),
		AuthEnabled: true,
		Authn:       authSvc,
		Pipeline:    pipeline,
		Idempotency: middleware.Idempotency(c, time.Minute),
		Metrics:     metrics,
		Gatherer:    reg,
	})
	return &stack{db: db, auth: authSvc, router: router, reg: reg}
}

// principal persists p and returns a bearer token for it.
func (s *stack) principal(t *testing.T, p principal.Principal) string {
	t.Helper()
	require.NoError(t, s.db.CreatePrincipal(context.Background(), &p))
	token, _, err := s.auth.IssueToken(p)
	require.NoError(t, err)
	return token
}

func (s *stack) do(t *testing.T, token, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestPlanLimitRejectsThirdProperty(t *testing.T) {
	s := newStack(t)
	x := testkit.Tenant(t, s.db, "tenant-x", twoProperties)
	token := s.principal(t, testkit.Member(x.ID, principal.RoleOwner))

	for _, name := range []string{"One", "Two"} {
		rec := s.do(t, token, http.MethodPost, "/api/v1/properties", map[string]any{"name": name})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do(t, token, http.MethodPost, "/api/v1/properties", map[string]any{"name": "Three"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decode[middleware.ErrorBody](t, rec)
	assert.Equal(t, "quota_exceeded", body.Code)
	require.NotNil(t, body.Usage)
	assert.Equal(t, int64(2), body.Usage.Used)
	assert.Equal(t, int64(2), body.Usage.Limit)

	list := decode[[]property.Property](t, s.do(t, token, http.MethodGet, "/api/v1/properties", nil))
	assert.Len(t, list, 2)
}

func TestSameNameInTwoTenants(t *testing.T) {
	s := newStack(t)
	x := testkit.Tenant(t, s.db, "tenant-x", testkit.Unlimited)
	y := testkit.Tenant(t, s.db, "tenant-y", testkit.Unlimited)
	tokenX := s.principal(t, testkit.Member(x.ID, principal.RoleManager))
	tokenY := s.principal(t, testkit.Member(y.ID, principal.RoleManager))

	plot := map[string]any{"label": "Plot-A", "area_sqm": 500}
	require.Equal(t, http.StatusCreated, s.do(t, tokenX, http.MethodPost, "/api/v1/plot-sizes", plot).Code)
	require.Equal(t, http.StatusCreated, s.do(t, tokenY, http.MethodPost, "/api/v1/plot-sizes", plot).Code)

	// Unique within a tenant.
	rec := s.do(t, tokenX, http.MethodPost, "/api/v1/plot-sizes", plot)
	assert.Equal(t, http.StatusConflict, rec.Code)

	list := decode[[]property.PlotSize](t, s.do(t, tokenX, http.MethodGet, "/api/v1/plot-sizes", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "Plot-A", list[0].Label)
	assert.Equal(t, x.ID, list[0].TenantID)
}

func TestGuessedIDOfAnotherTenant(t *testing.T) {
	s := newStack(t)
	x := testkit.Tenant(t, s.db, "tenant-x", testkit.Unlimited)
	y := testkit.Tenant(t, s.db, "tenant-y", testkit.Unlimited)
	tokenX := s.principal(t, testkit.Member(x.ID, principal.RoleStaff))
	tokenY := s.principal(t, testkit.Member(y.ID, principal.RoleStaff))

	created := decode[property.Property](t, s.do(t, tokenY, http.MethodPost, "/api/v1/properties", map[string]any{"name": "Secret Estate"}))
	require.NotEmpty(t, created.ID)

	rec := s.do(t, tokenX, http.MethodGet, "/api/v1/properties/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Secret Estate")
	assert.NotContains(t, rec.Body.String(), y.ID)

	rec = s.do(t, tokenX, http.MethodPut, "/api/v1/properties/"+created.ID, map[string]any{"name": "Mine now"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, tokenX, http.MethodDelete, "/api/v1/properties/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, tokenX, http.MethodGet, "/api/v1/t/tenant-y/properties/"+created.ID, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access denied", decode[middleware.ErrorBody](t, rec).Error)

	// The row is untouched for its owner.
	got := decode[property.Property](t, s.do(t, tokenY, http.MethodGet, "/api/v1/properties/"+created.ID, nil))
	assert.Equal(t, "Secret Estate", got.Name)
}

func TestClientSeesAllocationsAcrossTenants(t *testing.T) {
	s := newStack(t)
	client := testkit.Unbound(principal.RoleClient)
	clientToken := s.principal(t, client)
	other := testkit.Unbound(principal.RoleClient)
	require.NoError(t, s.db.CreatePrincipal(context.Background(), &other))

	for i, slug := range []string{"tenant-x", "tenant-y"} {
		tn := testkit.Tenant(t, s.db, slug, testkit.Unlimited)
		staff := s.principal(t, testkit.Member(tn.ID, principal.RoleStaff))
		prop := decode[property.Property](t, s.do(t, staff, http.MethodPost, "/api/v1/properties", map[string]any{"name": "Estate"}))
		for j, owner := range []string{client.ID, other.ID} {
			rec := s.do(t, staff, http.MethodPost, "/api/v1/allocations", map[string]any{
				"property_id": prop.ID,
				"client_id":   owner,
				"reference":   slug + "-" + string(rune('a'+i)) + string(rune('0'+j)),
			})
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		}
	}

	list := decode[[]property.Allocation](t, s.do(t, clientToken, http.MethodGet, "/api/v1/allocations", nil))
	require.Len(t, list, 2)
	tenants := map[string]bool{}
	for _, a := range list {
		assert.Equal(t, client.ID, a.ClientID)
		tenants[a.TenantID] = true
	}
	assert.Len(t, tenants, 2)

	// Clients never write tenant inventory.
	rec := s.do(t, clientToken, http.MethodPost, "/api/v1/properties", map[string]any{"name": "Nope"})
	assert.GreaterOrEqual(t, rec.Code, 400)
}

func TestOperatorSuspendAndReactivate(t *testing.T) {
	s := newStack(t)
	x := testkit.Tenant(t, s.db, "tenant-x", testkit.Unlimited)
	member := s.principal(t, testkit.Member(x.ID, principal.RoleStaff))
	op := principal.Principal{ID: "op-1", Name: "ops", Role: principal.RoleOperator, Elevated: true, Enabled: true}
	opToken := s.principal(t, op)

	// Members cannot reach operator routes.
	rec := s.do(t, member, http.MethodPost, "/api/v1/tenants/tenant-x/suspend", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, opToken, http.MethodPost, "/api/v1/tenants/tenant-x/suspend", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[tenant.Tenant](t, rec).Active)

	rec = s.do(t, member, http.MethodGet, "/api/v1/properties", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "inactive_tenant", decode[middleware.ErrorBody](t, rec).Code)

	rec = s.do(t, opToken, http.MethodPost, "/api/v1/tenants/tenant-x/reactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, member, http.MethodGet, "/api/v1/properties", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, opToken, http.MethodPost, "/api/v1/tenants/tenant-x/read-only", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, member, http.MethodPost, "/api/v1/properties", map[string]any{"name": "Blocked"})
	assert.Equal(t, http.StatusLocked, rec.Code)

	list := decode[[]tenant.Tenant](t, s.do(t, opToken, http.MethodGet, "/api/v1/tenants", nil))
	require.Len(t, list, 1)
	assert.Equal(t, x.ID, list[0].ID)
}

func TestOperatorCreatesTenant(t *testing.T) {
	s := newStack(t)
	require.NoError(t, s.db.UpsertPlan(context.Background(), testkit.Unlimited))
	opToken := s.principal(t, principal.Principal{ID: "op-1", Name: "ops", Role: principal.RoleOperator, Elevated: true, Enabled: true})

	rec := s.do(t, opToken, http.MethodPost, "/api/v1/tenants", tenant.CreateRequest{Name: "Acme Estates", Slug: "acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[tenant.Tenant](t, rec)
	assert.Equal(t, "acme", created.Slug)
	assert.True(t, created.Active)

	rec = s.do(t, opToken, http.MethodPost, "/api/v1/tenants", tenant.CreateRequest{Name: "Again", Slug: "acme"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUsageAndAuditEndpoints(t *testing.T) {
	s := newStack(t)
	x := testkit.Tenant(t, s.db, "tenant-x", twoProperties)
	owner := s.principal(t, testkit.Member(x.ID, principal.RoleOwner))
	staff := s.principal(t, testkit.Member(x.ID, principal.RoleStaff))

	require.Equal(t, http.StatusCreated, s.do(t, owner, http.MethodPost, "/api/v1/properties", map[string]any{"name": "One"}).Code)

	type usageEntry struct {
		Resource  string `json:"resource"`
		Used      int64  `json:"used"`
		Limit     int64  `json:"limit"`
		Remaining int64  `json:"remaining"`
	}
	usage := decode[struct {
		TenantID string       `json:"tenant_id"`
		Usage    []usageEntry `json:"usage"`
	}](t, s.do(t, staff, http.MethodGet, "/api/v1/usage", nil))
	assert.Equal(t, x.ID, usage.TenantID)
	var props *usageEntry
	for i := range usage.Usage {
		if usage.Usage[i].Resource == string(plan.ResourceProperties) {
			props = &usage.Usage[i]
		}
	}
	require.NotNil(t, props)
	assert.Equal(t, int64(1), props.Used)
	assert.Equal(t, int64(1), props.Remaining)

	rec := s.do(t, staff, http.MethodGet, "/api/v1/audit", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, owner, http.MethodGet, "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []struct {
		Action   string `json:"action"`
		TenantID string `json:"tenant_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	actions := map[string]bool{}
	for _, e := range events {
		assert.Equal(t, x.ID, e.TenantID)
		actions[e.Action] = true
	}
	assert.True(t, actions["create"])
	assert.True(t, actions["request"])

	rec = s.do(t, owner, http.MethodGet, "/api/v1/audit?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOwnerIssuesAPIKey(t *testing.T) {
	s := newStack(t)
	x := testkit.Tenant(t, s.db, "tenant-x", testkit.Unlimited)
	y := testkit.Tenant(t, s.db, "tenant-y", testkit.Unlimited)
	owner := s.principal(t, testkit.Member(x.ID, principal.RoleOwner))

	rec := s.do(t, owner, http.MethodPost, "/api/v1/principals", principal.CreateRequest{Name: "bot", Role: principal.RoleService})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bot := decode[principal.Principal](t, rec)
	assert.Equal(t, x.ID, bot.TenantID)

	rec = s.do(t, owner, http.MethodPost, "/api/v1/principals", principal.CreateRequest{Name: "spy", Role: principal.RoleStaff, TenantID: y.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, owner, http.MethodPost, "/api/v1/principals/"+bot.ID+"/api-keys", principal.CreateAPIKeyRequest{Name: "ci"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	key := decode[principal.CreateAPIKeyResponse](t, rec)
	require.NotEmpty(t, key.PlainKey)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties", http.NoBody)
	req.Header.Set("X-API-Key", key.PlainKey)
	out := httptest.NewRecorder()
	s.router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}

func TestIdempotentCreateReplays(t *testing.T) {
	s := newStack(t)
	x := testkit.Tenant(t, s.db, "tenant-x", testkit.Unlimited)
	token := s.principal(t, testkit.Member(x.ID, principal.RoleOwner))

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/properties", bytes.NewBufferString(`{"name":"Once"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "k-1")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}
	first := post()
	require.Equal(t, http.StatusCreated, first.Code)
	second := post()
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	list := decode[[]property.Property](t, s.do(t, token, http.MethodGet, "/api/v1/properties", nil))
	assert.Len(t, list, 1)

	events, err := s.db.QueryAudit(context.Background(), x.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	counts := map[auditdomain.Action]int{}
	for _, e := range events {
		counts[e.Action]++
	}
	assert.Equal(t, 1, counts[auditdomain.ActionCreate])
	assert.Equal(t, 1, counts[auditdomain.ActionRequest])
	assert.Equal(t, 1, counts[auditdomain.ActionRequestReplayed])
}

func TestInvalidEntitiesAreRejected(t *testing.T) {
	s := newStack(t)
	x := testkit.Tenant(t, s.db, "tenant-x", testkit.Unlimited)
	token := s.principal(t, testkit.Member(x.ID, principal.RoleOwner))

	cases := []struct {
		name string
		path string
		body map[string]any
	}{
		{"property without name", "/api/v1/properties", map[string]any{"name": "", "units": -5}},
		{"property with negative units", "/api/v1/properties", map[string]any{"name": "Estate", "units": -1}},
		{"plot size with blank label", "/api/v1/plot-sizes", map[string]any{"label": "   ", "area_sqm": 0}},
		{"plot size without area", "/api/v1/plot-sizes", map[string]any{"label": "Plot-A", "area_sqm": 0}},
		{"allocation without reference", "/api/v1/allocations", map[string]any{"client_id": "c1"}},
		{"message without body", "/api/v1/messages", map[string]any{"body": ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, token, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	prop := decode[property.Property](t, s.do(t, token, http.MethodPost, "/api/v1/properties", map[string]any{"name": "Estate", "units": 3}))
	rec := s.do(t, token, http.MethodPut, "/api/v1/properties/"+prop.ID, map[string]any{"name": "Estate", "units": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	got := decode[property.Property](t, s.do(t, token, http.MethodGet, "/api/v1/properties/"+prop.ID, nil))
	assert.Equal(t, int64(3), got.Units)
	for _, path := range []string{"/api/v1/properties", "/api/v1/plot-sizes", "/api/v1/allocations", "/api/v1/messages"} {
		n := len(decode[[]json.RawMessage](t, s.do(t, token, http.MethodGet, path, nil)))
		if path == "/api/v1/properties" {
			assert.Equal(t, 1, n, path)
		} else {
			assert.Zero(t, n, path)
		}
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, "", http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = s.do(t, "", http.MethodGet, "/api/v1/properties", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, "", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenantguard_http_requests_total")
}
