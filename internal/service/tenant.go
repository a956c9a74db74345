package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
	"github.com/Strob0t/tenantguard/internal/logger"
	"github.com/Strob0t/tenantguard/internal/port/database"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// Auditor records audit events. *audit.Sink implements it.
type Auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// TenantService manages tenant lifecycle, principals and API keys. Every
// operation requires an active scope; lifecycle changes require the
// elevated grant.
type TenantService struct {
	store       database.TenantStore
	principals  database.PrincipalStore
	auditor     Auditor
	resolver    *Resolver
	defaultPlan string
	now         func() time.Time
}

// NewTenantService creates a new TenantService. New tenants without a plan
// get defaultPlan.
func NewTenantService(store database.TenantStore, principals database.PrincipalStore, auditor Auditor, resolver *Resolver, defaultPlan string) *TenantService {
	return &TenantService{
		store:       store,
		principals:  principals,
		auditor:     auditor,
		resolver:    resolver,
		defaultPlan: defaultPlan,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func requireElevated(ctx context.Context) (tenancy.Scope, error) {
	scope, err := tenancy.Require(ctx)
	if err != nil {
		return scope, err
	}
	if !scope.Elevated {
		return scope, tenancy.Forbidden(scope, "tenant administration requires elevated access")
	}
	return scope, nil
}

// Create validates and creates a new active tenant.
func (s *TenantService) Create(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	if _, err := requireElevated(ctx); err != nil {
		return nil, err
	}
	if req.PlanID == "" {
		req.PlanID = s.defaultPlan
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	p, err := s.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown plan %q", domain.ErrValidation, req.PlanID)
		}
		return nil, err
	}

	now := s.now()
	t := &tenant.Tenant{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Slug:         req.Slug,
		Active:       true,
		PlanID:       p.ID,
		Plan:         *p,
		Subscription: tenant.SubscriptionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !req.TrialEndsAt.IsZero() {
		t.Subscription = tenant.SubscriptionTrialing
		t.TrialEndsAt = req.TrialEndsAt.UTC()
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		return nil, fmt.Errorf("create tenant %s: %w", t.Slug, err)
	}

	s.record(ctx, audit.ActionTenantCreated, t.ID, "tenant", t.ID, "slug "+t.Slug)
	logger.From(ctx).Info("tenant created", zap.String("tenant_id", t.ID), zap.String("slug", t.Slug))
	return t, nil
}

// Get returns a tenant by ID.
func (s *TenantService) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	if _, err := requireElevated(ctx); err != nil {
		return nil, err
	}
	return s.store.GetTenant(ctx, id)
}

// GetBySlug returns a tenant by slug.
func (s *TenantService) GetBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	if _, err := requireElevated(ctx); err != nil {
		return nil, err
	}
	return s.store.GetTenantBySlug(ctx, slug)
}

// List returns all tenants.
func (s *TenantService) List(ctx context.Context) ([]tenant.Tenant, error) {
	if _, err := requireElevated(ctx); err != nil {
		return nil, err
	}
	return s.store.ListTenants(ctx)
}

// Update applies the supplied fields of req. Deactivation is recorded as a
// suspension.
func (s *TenantService) Update(ctx context.Context, id string, req tenant.UpdateRequest) (*tenant.Tenant, error) {
	if _, err := requireElevated(ctx); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	t, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	var changed []string
	action := audit.ActionTenantUpdated
	if name := strings.TrimSpace(req.Name); name != "" && name != t.Name {
		t.Name = name
		changed = append(changed, "name")
	}
	if req.Active != nil && *req.Active != t.Active {
		t.Active = *req.Active
		if t.Active {
			changed = append(changed, "reactivated")
		} else {
			changed = append(changed, "suspended")
			action = audit.ActionTenantSuspended
		}
	}
	if req.ReadOnly != nil && *req.ReadOnly != t.ReadOnly {
		t.ReadOnly = *req.ReadOnly
		changed = append(changed, fmt.Sprintf("read_only=%t", t.ReadOnly))
	}
	if req.PlanID != "" && req.PlanID != t.PlanID {
		p, err := s.store.GetPlan(ctx, req.PlanID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown plan %q", domain.ErrValidation, req.PlanID)
			}
			return nil, err
		}
		t.PlanID, t.Plan = p.ID, *p
		changed = append(changed, "plan="+p.ID)
	}
	if req.Subscription != "" && req.Subscription != t.Subscription {
		t.Subscription = req.Subscription
		changed = append(changed, "subscription="+string(t.Subscription))
	}
	if req.DeletionDeadline != nil && !req.DeletionDeadline.Equal(t.DeletionDeadline) {
		t.DeletionDeadline = req.DeletionDeadline.UTC()
		changed = append(changed, "deletion_deadline")
	}
	if len(changed) == 0 {
		return t, nil
	}

	t.UpdatedAt = s.now()
	if err := s.store.UpdateTenant(ctx, t); err != nil {
		return nil, err
	}
	if err := s.resolver.Invalidate(ctx, t.ID); err != nil {
		logger.From(ctx).Warn("tenant cache invalidation failed", zap.String("tenant_id", t.ID), zap.Error(err))
	}
	s.record(ctx, action, t.ID, "tenant", t.ID, strings.Join(changed, ", "))
	return t, nil
}

// Suspend deactivates a tenant. Its data stays in place.
func (s *TenantService) Suspend(ctx context.Context, id string) (*tenant.Tenant, error) {
	inactive := false
	return s.Update(ctx, id, tenant.UpdateRequest{Active: &inactive})
}

// Reactivate re-enables a suspended tenant.
func (s *TenantService) Reactivate(ctx context.Context, id string) (*tenant.Tenant, error) {
	active := true
	return s.Update(ctx, id, tenant.UpdateRequest{Active: &active})
}

// SetReadOnly toggles read-only mode.
func (s *TenantService) SetReadOnly(ctx context.Context, id string, readOnly bool) (*tenant.Tenant, error) {
	return s.Update(ctx, id, tenant.UpdateRequest{ReadOnly: &readOnly})
}

// ChangePlan moves a tenant to planID.
func (s *TenantService) ChangePlan(ctx context.Context, id, planID string) (*tenant.Tenant, error) {
	return s.Update(ctx, id, tenant.UpdateRequest{PlanID: planID})
}

// AddDomain registers a custom host name for a tenant.
func (s *TenantService) AddDomain(ctx context.Context, id, host string) (*tenant.Domain, error) {
	if _, err := requireElevated(ctx); err != nil {
		return nil, err
	}
	host = normalizeHost(host)
	if host == "" || !strings.Contains(host, ".") {
		return nil, fmt.Errorf("%w: invalid host %q", domain.ErrValidation, host)
	}
	if _, err := s.store.GetTenant(ctx, id); err != nil {
		return nil, err
	}
	d := tenant.Domain{Host: host, TenantID: id, CreatedAt: s.now()}
	if err := s.store.AddDomain(ctx, d); err != nil {
		return nil, fmt.Errorf("add domain %s: %w", host, err)
	}
	s.record(ctx, audit.ActionTenantUpdated, id, "tenant_domain", host, "domain added")
	return &d, nil
}

// CreatePrincipal registers a principal. Only elevated operators may create
// unbound, operator or elevated principals; tenant owners may add members
// to their own tenant.
func (s *TenantService) CreatePrincipal(ctx context.Context, req principal.CreateRequest) (*principal.Principal, error) {
	scope, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}
	p := &principal.Principal{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		Name:      strings.TrimSpace(req.Name),
		Role:      req.Role,
		Elevated:  req.Elevated,
		Enabled:   true,
		CreatedAt: s.now(),
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if !scope.Elevated {
		owner := scope.Principal.Role == principal.RoleOwner && scope.Principal.MemberOf(p.TenantID)
		if !owner || p.Elevated || p.TenantID == "" {
			return nil, tenancy.Forbidden(scope, "principal creation outside own tenant")
		}
	}
	if err := s.principals.CreatePrincipal(ctx, p); err != nil {
		return nil, fmt.Errorf("create principal: %w", err)
	}
	s.record(ctx, audit.ActionCreate, p.TenantID, "principal", p.ID, "role "+string(p.Role))
	return p, nil
}

// IssueAPIKey creates an API key for a tenant-bound principal. The plain
// key is returned once; only its SHA-256 hash is stored.
func (s *TenantService) IssueAPIKey(ctx context.Context, principalID string, req principal.CreateAPIKeyRequest) (*principal.CreateAPIKeyResponse, error) {
	scope, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	p, err := s.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if p.TenantID == "" {
		return nil, fmt.Errorf("%w: api keys require a tenant-bound principal", domain.ErrValidation)
	}
	if !scope.Elevated {
		admin := scope.Principal.Role == principal.RoleOwner || scope.Principal.Role == principal.RoleManager
		if !admin || !scope.Principal.MemberOf(p.TenantID) {
			return nil, tenancy.Forbidden(scope, "api key for another tenant's principal")
		}
	}

	plainKey, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	now := s.now()
	key := principal.APIKey{
		ID:          generateID(),
		TenantID:    p.TenantID,
		PrincipalID: p.ID,
		Name:        req.Name,
		Prefix:      plainKey[:12], // "tgk_" + 8 chars
		KeyHash:     HashAPIKey(plainKey),
		CreatedAt:   now,
	}
	if req.ExpiresIn > 0 {
		key.ExpiresAt = now.Add(time.Duration(req.ExpiresIn) * time.Second)
	}
	if err := s.principals.CreateAPIKey(ctx, &key); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}

	s.record(ctx, audit.ActionAPIKeyIssued, key.TenantID, "api_key", key.ID, "prefix "+key.Prefix)
	return &principal.CreateAPIKeyResponse{APIKey: key, PlainKey: plainKey}, nil
}

func (s *TenantService) record(ctx context.Context, action audit.Action, tenantID, kind, targetID, reason string) {
	s.auditor.Record(ctx, audit.Event{
		TenantID:   tenantID,
		Action:     action,
		TargetKind: kind,
		TargetID:   targetID,
		Reason:     reason,
	})
}

func generateID() string {
	return uuid.NewString()
}
