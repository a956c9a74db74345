package http

import (
	"net/http"
	"time"

	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
)

// ---------------------------------------------------------------------------
// Operator routes. They run in an elevated scope without a tenant; the
// target tenant is named by the {tenant} slug.
// ---------------------------------------------------------------------------

type planChange struct {
	PlanID string `json:"plan_id"`
}

type domainRequest struct {
	Host string `json:"host"`
}

// ListTenants returns every tenant.
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	items, err := h.Tenants.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []tenant.Tenant{}
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateTenant creates a tenant.
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tenant.CreateRequest](w, r, defaultBodyLimit)
	if !ok {
		return
	}
	t, err := h.Tenants.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTenant returns the tenant named by {tenant}.
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tenants.GetBySlug(r.Context(), urlParam(r, "tenant"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateTenant applies a partial update.
func (h *Handlers) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	h.withTenant(w, r, func(t *tenant.Tenant) (any, error) {
		req, ok := readJSON[tenant.UpdateRequest](w, r, defaultBodyLimit)
		if !ok {
			return nil, nil
		}
		return h.Tenants.Update(r.Context(), t.ID, req)
	})
}

// SuspendTenant deactivates a tenant. Its data is kept.
func (h *Handlers) SuspendTenant(w http.ResponseWriter, r *http.Request) {
	h.withTenant(w, r, func(t *tenant.Tenant) (any, error) {
		return h.Tenants.Suspend(r.Context(), t.ID)
	})
}

// ReactivateTenant reactivates a suspended tenant.
func (h *Handlers) ReactivateTenant(w http.ResponseWriter, r *http.Request) {
	h.withTenant(w, r, func(t *tenant.Tenant) (any, error) {
		return h.Tenants.Reactivate(r.Context(), t.ID)
	})
}

// SetTenantReadOnly toggles read-only mode. An empty body enables it.
func (h *Handlers) SetTenantReadOnly(w http.ResponseWriter, r *http.Request) {
	h.withTenant(w, r, func(t *tenant.Tenant) (any, error) {
		body := struct {
			ReadOnly *bool `json:"read_only"`
		}{}
		if r.ContentLength != 0 {
			if !decodeInto(w, r, defaultBodyLimit, &body) {
				return nil, nil
			}
		}
		readOnly := body.ReadOnly == nil || *body.ReadOnly
		return h.Tenants.SetReadOnly(r.Context(), t.ID, readOnly)
	})
}

// ChangeTenantPlan moves a tenant to another plan.
func (h *Handlers) ChangeTenantPlan(w http.ResponseWriter, r *http.Request) {
	h.withTenant(w, r, func(t *tenant.Tenant) (any, error) {
		req, ok := readJSON[planChange](w, r, defaultBodyLimit)
		if !ok {
			return nil, nil
		}
		if req.PlanID == "" {
			writeError(w, http.StatusBadRequest, "plan_id is required")
			return nil, nil
		}
		return h.Tenants.ChangePlan(r.Context(), t.ID, req.PlanID)
	})
}

// AddTenantDomain registers a custom host for a tenant.
func (h *Handlers) AddTenantDomain(w http.ResponseWriter, r *http.Request) {
	h.withTenant(w, r, func(t *tenant.Tenant) (any, error) {
		req, ok := readJSON[domainRequest](w, r, defaultBodyLimit)
		if !ok {
			return nil, nil
		}
		return h.Tenants.AddDomain(r.Context(), t.ID, req.Host)
	})
}

// withTenant loads the {tenant} slug and writes fn's result. fn returns a
// nil result and nil error after writing its own response.
func (h *Handlers) withTenant(w http.ResponseWriter, r *http.Request, fn func(t *tenant.Tenant) (any, error)) {
	t, err := h.Tenants.GetBySlug(r.Context(), urlParam(r, "tenant"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := fn(t)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if res != nil {
		writeJSON(w, http.StatusOK, res)
	}
}

// ---------------------------------------------------------------------------
// Principals and credentials
// ---------------------------------------------------------------------------

// CreatePrincipal registers a principal. Inside a tenant scope the
// principal defaults to that tenant.
func (h *Handlers) CreatePrincipal(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[principal.CreateRequest](w, r, defaultBodyLimit)
	if !ok {
		return
	}
	bindable := req.Role != principal.RoleOperator && !(principal.Principal{Role: req.Role}).Unbound()
	if scope, err := tenantScope(r.Context()); err == nil && req.TenantID == "" && bindable {
		req.TenantID = scope.TenantID()
	}
	p, err := h.Tenants.CreatePrincipal(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// IssueAPIKey creates an API key for the principal in {id}. The plain key
// is only returned by this call.
func (h *Handlers) IssueAPIKey(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[principal.CreateAPIKeyRequest](w, r, defaultBodyLimit)
	if !ok {
		return
	}
	res, err := h.Tenants.IssueAPIKey(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// IssueToken signs a bearer token for the principal in {id}.
func (h *Handlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	p, err := h.Resolver.Principal(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !p.Enabled {
		writeError(w, http.StatusConflict, "principal is disabled")
		return
	}
	token, exp, err := h.Auth.IssueToken(*p)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}
