package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
	"github.com/Strob0t/tenantguard/internal/port/cache"
	"github.com/Strob0t/tenantguard/internal/port/database"
)

// Resolver answers the read-only lookups tenant resolution needs: tenants
// by id, slug and host, principals, and API keys by hash. Results are
// cached for ttl and concurrent misses for the same key share one load.
// Misses are not cached.
type Resolver struct {
	tenants    database.TenantStore
	principals database.PrincipalStore
	cache      cache.Cache
	ttl        time.Duration
	baseDomain string
	group      singleflight.Group
}

// NewResolver creates a Resolver. Hosts of the form <slug>.<baseDomain>
// resolve by slug; other hosts resolve through registered custom domains.
func NewResolver(tenants database.TenantStore, principals database.PrincipalStore, c cache.Cache, ttl time.Duration, baseDomain string) *Resolver {
	return &Resolver{
		tenants:    tenants,
		principals: principals,
		cache:      c,
		ttl:        ttl,
		baseDomain: strings.ToLower(strings.TrimPrefix(baseDomain, ".")),
	}
}

func tenantKey(id string) string { return cache.Key("tenant", "id", id) }

// Tenant returns the tenant with id.
func (r *Resolver) Tenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	t, err := lookup(ctx, r, tenantKey(id), func(ctx context.Context) (tenant.Tenant, error) {
		t, err := r.tenants.GetTenant(ctx, id)
		if err != nil {
			return tenant.Tenant{}, err
		}
		return *t, nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TenantBySlug returns the tenant with slug.
func (r *Resolver) TenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	if !tenant.ValidSlug(slug) {
		return nil, fmt.Errorf("tenant %q: %w", slug, domain.ErrNotFound)
	}
	id, err := lookup(ctx, r, cache.Key("tenant", "slug", slug), func(ctx context.Context) (string, error) {
		t, err := r.tenants.GetTenantBySlug(ctx, slug)
		if err != nil {
			return "", err
		}
		return t.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return r.Tenant(ctx, id)
}

// TenantByHost resolves a request host: a subdomain of the base domain by
// slug, anything else as a custom domain. The bare base domain resolves to
// no tenant.
func (r *Resolver) TenantByHost(ctx context.Context, host string) (*tenant.Tenant, error) {
	host = normalizeHost(host)
	if host == "" || host == r.baseDomain {
		return nil, fmt.Errorf("host %q: %w", host, domain.ErrNotFound)
	}
	if r.baseDomain != "" {
		if label, ok := strings.CutSuffix(host, "."+r.baseDomain); ok {
			if strings.Contains(label, ".") {
				return nil, fmt.Errorf("host %q: %w", host, domain.ErrNotFound)
			}
			return r.TenantBySlug(ctx, label)
		}
	}
	id, err := lookup(ctx, r, cache.Key("tenant", "host", host), func(ctx context.Context) (string, error) {
		return r.tenants.TenantIDByHost(ctx, host)
	})
	if err != nil {
		return nil, err
	}
	return r.Tenant(ctx, id)
}

// Principal returns the principal with id.
func (r *Resolver) Principal(ctx context.Context, id string) (*principal.Principal, error) {
	p, err := lookup(ctx, r, cache.Key("principal", id), func(ctx context.Context) (principal.Principal, error) {
		p, err := r.principals.GetPrincipal(ctx, id)
		if err != nil {
			return principal.Principal{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// apiKeyEntry is the cached form of an API key. KeyHash is excluded from
// the domain type's JSON.
type apiKeyEntry struct {
	Key  principal.APIKey `json:"key"`
	Hash string           `json:"hash"`
}

// APIKey returns the key record matching the plain key. Expiry is left to
// the caller.
func (r *Resolver) APIKey(ctx context.Context, plain string) (*principal.APIKey, error) {
	hash := HashAPIKey(plain)
	e, err := lookup(ctx, r, cache.Key("apikey", hash), func(ctx context.Context) (apiKeyEntry, error) {
		k, err := r.principals.GetAPIKeyByHash(ctx, hash)
		if err != nil {
			return apiKeyEntry{}, err
		}
		return apiKeyEntry{Key: *k, Hash: k.KeyHash}, nil
	})
	if err != nil {
		return nil, err
	}
	e.Key.KeyHash = e.Hash
	return &e.Key, nil
}

// Invalidate drops the cached tenant record so the next lookup sees
// lifecycle changes. A tiered cache with peers also drops the in-process
// copy on other nodes. Slug and host entries map to the immutable id and
// stay valid.
func (r *Resolver) Invalidate(ctx context.Context, tenantID string) error {
	return r.cache.Delete(ctx, tenantKey(tenantID))
}

// InvalidatePrincipal drops a cached principal.
func (r *Resolver) InvalidatePrincipal(ctx context.Context, id string) error {
	return r.cache.Delete(ctx, cache.Key("principal", id))
}

// lookup reads key from the cache or loads it once for all concurrent
// callers and caches the result.
func lookup[T any](ctx context.Context, r *Resolver, key string, load func(context.Context) (T, error)) (T, error) {
	var v T
	if data, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		if json.Unmarshal(data, &v) == nil {
			return v, nil
		}
	}

	res, err, _ := r.group.Do(key, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(loaded); err == nil {
			_ = r.cache.Set(ctx, key, data, r.ttl)
		}
		return loaded, nil
	})
	if err != nil {
		return v, err
	}
	return res.(T), nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
