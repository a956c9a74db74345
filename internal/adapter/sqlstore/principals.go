package sqlstore

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Strob0t/tenantguard/internal/domain/principal"
)

var principalColumns = []string{"id", "tenant_id", "name", "role", "elevated", "enabled", "created_at"}

// CreatePrincipal inserts p. Unbound and operator principals have a NULL
// tenant.
func (s *Store) CreatePrincipal(ctx context.Context, p *principal.Principal) error {
	b := s.sb.Insert("principals").Columns(principalColumns...).Values(
		p.ID, nullIfEmpty(p.TenantID), p.Name, string(p.Role), p.Elevated, p.Enabled, s.encodeTime(p.CreatedAt),
	)
	if _, err := s.exec(ctx, b); err != nil {
		return fmt.Errorf("create principal %s: %w", p.ID, err)
	}
	return nil
}

// GetPrincipal loads a principal by ID.
func (s *Store) GetPrincipal(ctx context.Context, id string) (*principal.Principal, error) {
	row, err := s.queryRow(ctx, s.sb.Select(principalColumns...).From("principals").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	var p principal.Principal
	var tenantID *string
	var role string
	if err := row.Scan(&p.ID, &tenantID, &p.Name, &role, &p.Elevated, &p.Enabled, timeValue{&p.CreatedAt}); err != nil {
		return nil, notFoundWrap(err, "get principal %s", id)
	}
	if tenantID != nil {
		p.TenantID = *tenantID
	}
	p.Role = principal.Role(role)
	return &p, nil
}

var apiKeyColumns = []string{"id", "tenant_id", "principal_id", "name", "prefix", "key_hash", "expires_at", "created_at"}

// CreateAPIKey stores the hashed key.
func (s *Store) CreateAPIKey(ctx context.Context, k *principal.APIKey) error {
	b := s.sb.Insert("api_keys").Columns(apiKeyColumns...).Values(
		k.ID, k.TenantID, k.PrincipalID, k.Name, k.Prefix, k.KeyHash,
		s.nullTime(k.ExpiresAt), s.encodeTime(k.CreatedAt),
	)
	if _, err := s.exec(ctx, b); err != nil {
		return fmt.Errorf("create api key %s: %w", k.Name, err)
	}
	return nil
}

// GetAPIKeyByHash looks up a key by the SHA-256 hash of its plain text.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*principal.APIKey, error) {
	row, err := s.queryRow(ctx, s.sb.Select(apiKeyColumns...).From("api_keys").Where(sq.Eq{"key_hash": hash}))
	if err != nil {
		return nil, err
	}
	var k principal.APIKey
	err = row.Scan(&k.ID, &k.TenantID, &k.PrincipalID, &k.Name, &k.Prefix, &k.KeyHash,
		timeValue{&k.ExpiresAt}, timeValue{&k.CreatedAt})
	if err != nil {
		return nil, notFoundWrap(err, "get api key")
	}
	return &k, nil
}
