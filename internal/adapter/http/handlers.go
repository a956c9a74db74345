package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/tenantguard/internal/audit"
	"github.com/Strob0t/tenantguard/internal/domain/property"
	"github.com/Strob0t/tenantguard/internal/quota"
	"github.com/Strob0t/tenantguard/internal/scoped"
	"github.com/Strob0t/tenantguard/internal/service"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// Handlers holds the HTTP handlers and the services they call.
type Handlers struct {
	Tenants  *service.TenantService
	Auth     *service.AuthService
	Resolver *service.Resolver
	Quota    *quota.Service
	Audit    *audit.Sink
	// Ping reports backend health for /health.
	Ping func(ctx context.Context) error

	properties  *scoped.Repo[*property.Property]
	plotSizes   *scoped.Repo[*property.PlotSize]
	allocations *scoped.Repo[*property.Allocation]
	messages    *scoped.Repo[*property.Message]
}

// NewHandlers binds the scoped repositories of store.
func NewHandlers(store *scoped.Store, h Handlers) *Handlers {
	h.properties = scoped.For(store, property.Properties)
	h.plotSizes = scoped.For(store, property.PlotSizes)
	h.allocations = scoped.For(store, property.Allocations)
	h.messages = scoped.For(store, property.Messages)
	return &h
}

// HandleHealth reports liveness and backend reachability.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// Usage returns the scope tenant's usage of every metered resource.
func (h *Handlers) Usage(w http.ResponseWriter, r *http.Request) {
	scope, err := tenantScope(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	usage, err := h.Quota.Snapshot(r.Context(), scope.Tenant)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	type entry struct {
		Resource  string `json:"resource"`
		Used      int64  `json:"used"`
		Limit     int64  `json:"limit"`
		Remaining int64  `json:"remaining"`
		NearLimit bool   `json:"near_limit"`
	}
	out := make([]entry, 0, len(usage))
	for _, u := range usage {
		out = append(out, entry{
			Resource:  string(u.Resource),
			Used:      u.Used,
			Limit:     u.Limit,
			Remaining: u.Remaining(),
			NearLimit: u.IsNearLimit(h.Quota.Threshold()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": scope.TenantID(), "plan_id": scope.Tenant.PlanID, "usage": out})
}

// ListAudit returns the scope tenant's audit events in [from, to). Both
// bounds are RFC 3339 and optional.
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	scope, err := tenantScope(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	from, okFrom := parseTime(r.URL.Query().Get("from"))
	to, okTo := parseTime(r.URL.Query().Get("to"))
	if !okFrom || !okTo {
		writeError(w, http.StatusBadRequest, "from and to must be RFC 3339 timestamps")
		return
	}
	events, err := h.Audit.Query(r.Context(), scope.TenantID(), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// tenantScope returns the active scope, which must carry a tenant.
func tenantScope(ctx context.Context) (tenancy.Scope, error) {
	scope, err := tenancy.Require(ctx)
	if err != nil {
		return scope, err
	}
	if scope.Tenant == nil {
		return scope, tenancy.ContextMissing("route requires a tenant")
	}
	return scope, nil
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, s)
	return t.UTC(), err == nil
}
