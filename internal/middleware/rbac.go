package middleware

import (
	"net/http"

	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/service"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// RequireRole returns middleware that restricts access to principals with
// one of the given roles. Elevated principals always pass.
func RequireRole(roles ...principal.Role) func(http.Handler) http.Handler {
	allowed := make(map[principal.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, r, service.ErrUnauthenticated)
				return
			}
			if !allowed[p.Role] && !p.Elevated {
				WriteError(w, r, tenancy.Forbidden(tenancy.Scope{Principal: p}, "role %s not allowed", p.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireElevated returns middleware that admits only principals holding
// the elevated grant.
func RequireElevated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			WriteError(w, r, service.ErrUnauthenticated)
			return
		}
		if !p.Has(principal.CapElevated) {
			WriteError(w, r, tenancy.Forbidden(tenancy.Scope{Principal: p}, "elevated grant required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
