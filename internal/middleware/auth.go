package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/logger"
	"github.com/Strob0t/tenantguard/internal/service"
)

type principalCtxKey struct{}
type apiKeyCtxKey struct{}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Authenticator verifies request credentials. *service.AuthService
// implements it.
type Authenticator interface {
	VerifyToken(ctx context.Context, token string) (principal.Principal, error)
	AuthenticateAPIKey(ctx context.Context, rawKey string) (principal.Principal, *principal.APIKey, error)
}

var _ Authenticator = (*service.AuthService)(nil)

// Authenticate returns middleware that resolves the request principal from
// an X-API-Key header or a bearer token. When enabled is false every
// request runs as the elevated system principal "dev".
func Authenticate(authn Authenticator, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if !enabled {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal.System("dev"))))
				return
			}

			ctx := r.Context()
			var (
				p   principal.Principal
				key *principal.APIKey
				err error
			)
			if raw := r.Header.Get("X-API-Key"); raw != "" {
				p, key, err = authn.AuthenticateAPIKey(ctx, raw)
			} else {
				token, ok := bearerToken(r)
				if !ok {
					WriteError(w, r, service.ErrUnauthenticated)
					return
				}
				p, err = authn.VerifyToken(ctx, token)
			}
			if err != nil {
				logger.From(ctx).Info("authentication failed", zap.Error(err))
				WriteError(w, r, err)
				return
			}

			ctx = WithPrincipal(ctx, p)
			if key != nil {
				ctx = context.WithValue(ctx, apiKeyCtxKey{}, key)
			}
			ctx = logger.With(ctx, zap.String("principal_id", p.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// WithPrincipal stores p as the authenticated principal.
func WithPrincipal(ctx context.Context, p principal.Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, &p)
}

// PrincipalFromContext returns the authenticated principal.
func PrincipalFromContext(ctx context.Context) (principal.Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(*principal.Principal)
	if !ok || p == nil {
		return principal.Principal{}, false
	}
	return *p, true
}

// APIKeyFromContext returns the API key used for authentication, or nil for
// bearer tokens.
func APIKeyFromContext(ctx context.Context) *principal.APIKey {
	key, _ := ctx.Value(apiKeyCtxKey{}).(*principal.APIKey)
	return key
}
