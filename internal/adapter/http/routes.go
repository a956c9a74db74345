package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	tgotel "github.com/Strob0t/tenantguard/internal/adapter/otel"
	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/middleware"
)

// RouterConfig carries the middleware the router is assembled from.
type RouterConfig struct {
	Log            *zap.Logger
	ServiceName    string
	CORSOrigin     string
	RequestTimeout time.Duration
	AuthEnabled    bool
	Authn          middleware.Authenticator
	Pipeline       *middleware.Pipeline
	RateLimiter    *middleware.RateLimiter
	Idempotency    func(http.Handler) http.Handler
	Metrics        *Metrics
	Gatherer       prometheus.Gatherer
}

// NewRouter builds the HTTP surface. SecurityHeaders is outermost so its
// headers are present on every outcome, including rejections.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID(cfg.Log))
	r.Use(chimw.Recoverer)
	r.Use(CORS(cfg.CORSOrigin))
	r.Use(Logger)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", h.HandleHealth)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Authn, cfg.AuthEnabled))
		MountRoutes(r, h, cfg)
	})

	if cfg.ServiceName == "" {
		return r
	}
	return tgotel.HTTPMiddleware(cfg.ServiceName)(r)
}

// MountRoutes registers all API routes on the given chi router. Routes
// below /api/v1/t/{tenant} repeat the tenant routes with an explicit
// tenant segment.
func MountRoutes(r chi.Router, h *Handlers, cfg RouterConfig) {
	p := cfg.Pipeline
	r.Route("/api/v1", func(r chi.Router) {
		// Operator
		r.Route("/tenants", func(r chi.Router) {
			r.Use(p.Operator)
			r.Get("/", h.ListTenants)
			r.Post("/", h.CreateTenant)
			r.Get("/{tenant}", h.GetTenant)
			r.Put("/{tenant}", h.UpdateTenant)
			r.Post("/{tenant}/suspend", h.SuspendTenant)
			r.Post("/{tenant}/reactivate", h.ReactivateTenant)
			r.Post("/{tenant}/read-only", h.SetTenantReadOnly)
			r.Post("/{tenant}/plan", h.ChangeTenantPlan)
			r.Post("/{tenant}/domains", h.AddTenantDomain)
		})

		r.Group(func(r chi.Router) {
			r.Use(p.Handler)
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.Handler)
			}
			if cfg.Idempotency != nil {
				r.Use(cfg.Idempotency)
			}
			tenantRoutes(r, h, p)
			r.Route("/t/{"+middleware.TenantParam+"}", func(r chi.Router) {
				tenantRoutes(r, h, p)
			})
		})
	})
}

func tenantRoutes(r chi.Router, h *Handlers, p *middleware.Pipeline) {
	r.Get("/usage", h.Usage)
	r.With(middleware.RequireRole(principal.RoleOwner, principal.RoleManager)).Get("/audit", h.ListAudit)

	// Properties
	r.Get("/properties", h.ListProperties())
	r.With(p.Meter(plan.ResourceProperties)).Post("/properties", h.CreateProperty())
	r.Get("/properties/{id}", h.GetProperty())
	r.Put("/properties/{id}", h.UpdateProperty())
	r.Delete("/properties/{id}", h.DeleteProperty())
	r.Get("/properties/{id}/allocations", h.PropertyAllocations())

	// Plot sizes
	r.Get("/plot-sizes", h.ListPlotSizes())
	r.With(p.Meter(plan.ResourcePlotSizes)).Post("/plot-sizes", h.CreatePlotSize())
	r.Get("/plot-sizes/{id}", h.GetPlotSize())

	// Allocations
	r.Get("/allocations", h.ListAllocations())
	r.With(p.Meter(plan.ResourceAllocations)).Post("/allocations", h.CreateAllocation())
	r.Get("/allocations/{id}", h.GetAllocation())

	// Messages
	r.Get("/messages", h.ListMessages())
	r.With(p.Meter(plan.ResourceMessages)).Post("/messages", h.CreateMessage)

	// Principals and credentials
	r.With(middleware.RequireRole(principal.RoleOwner)).Post("/principals", h.CreatePrincipal)
	r.With(middleware.RequireRole(principal.RoleOwner, principal.RoleManager)).Post("/principals/{id}/api-keys", h.IssueAPIKey)
	r.With(middleware.RequireElevated).Post("/principals/{id}/token", h.IssueToken)
}
