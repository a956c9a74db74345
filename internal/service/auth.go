package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Strob0t/tenantguard/internal/config"
	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
)

// ErrUnauthenticated is returned for any credential that does not identify
// an enabled principal. Callers see no further detail.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims is the bearer token payload. The subject is the principal ID.
type Claims struct {
	TenantID string         `json:"tenant_id,omitempty"`
	Role     principal.Role `json:"role"`
	Elevated bool           `json:"elevated,omitempty"`
	jwt.RegisteredClaims
}

// AuthService issues and verifies principal credentials: HS256 bearer
// tokens and hashed API keys.
type AuthService struct {
	cfg      config.Auth
	secret   []byte
	resolver *Resolver
	now      func() time.Time
}

// NewAuthService creates an AuthService. cfg.JWTSecret must already be
// validated by the config loader.
func NewAuthService(cfg config.Auth, resolver *Resolver) *AuthService {
	return &AuthService{
		cfg:      cfg,
		secret:   []byte(cfg.JWTSecret),
		resolver: resolver,
		now:      time.Now,
	}
}

// IssueToken signs a token for p valid for the configured TTL. The elevated
// claim is set only when p holds the grant.
func (s *AuthService) IssueToken(p principal.Principal) (string, time.Time, error) {
	if err := p.Validate(); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	now := s.now()
	exp := now.Add(s.cfg.TokenTTL)
	claims := Claims{
		TenantID: p.TenantID,
		Role:     p.Role,
		Elevated: p.Elevated,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        generateID(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// VerifyToken checks the signature, issuer and expiry of token and returns
// the current principal. A token whose tenant or role no longer matches the
// stored principal is rejected. The returned principal is elevated only if
// both the token and the stored grant say so.
func (s *AuthService) VerifyToken(ctx context.Context, token string) (principal.Principal, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	var claims Claims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return principal.Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	p, err := s.enabledPrincipal(ctx, claims.Subject)
	if err != nil {
		return principal.Principal{}, err
	}
	if p.TenantID != claims.TenantID || p.Role != claims.Role {
		return principal.Principal{}, fmt.Errorf("%w: stale token", ErrUnauthenticated)
	}
	p.Elevated = p.Elevated && claims.Elevated
	return p, nil
}

// AuthenticateAPIKey resolves a raw API key to its principal and key
// record. API keys never carry the elevated grant.
func (s *AuthService) AuthenticateAPIKey(ctx context.Context, rawKey string) (principal.Principal, *principal.APIKey, error) {
	key, err := s.resolver.APIKey(ctx, rawKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return principal.Principal{}, nil, fmt.Errorf("%w: unknown api key", ErrUnauthenticated)
		}
		return principal.Principal{}, nil, err
	}
	if key.Expired(s.now()) {
		return principal.Principal{}, nil, fmt.Errorf("%w: api key expired", ErrUnauthenticated)
	}
	p, err := s.enabledPrincipal(ctx, key.PrincipalID)
	if err != nil {
		return principal.Principal{}, nil, err
	}
	if p.TenantID != key.TenantID {
		return principal.Principal{}, nil, fmt.Errorf("%w: api key tenant mismatch", ErrUnauthenticated)
	}
	p.Elevated = false
	return p, key, nil
}

func (s *AuthService) enabledPrincipal(ctx context.Context, id string) (principal.Principal, error) {
	p, err := s.resolver.Principal(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return principal.Principal{}, fmt.Errorf("%w: unknown principal", ErrUnauthenticated)
		}
		return principal.Principal{}, err
	}
	if !p.Enabled {
		return principal.Principal{}, fmt.Errorf("%w: principal disabled", ErrUnauthenticated)
	}
	return *p, nil
}

// --- Helpers ---

// HashAPIKey returns the stored form of a plain API key.
func HashAPIKey(plain string) string {
	h := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(h[:])
}

// generateAPIKey returns a new plain key with the tgk_ prefix.
func generateAPIKey() (string, error) {
	raw, err := generateRandomToken(32)
	if err != nil {
		return "", err
	}
	return principal.APIKeyPrefix + raw, nil
}

func generateRandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
