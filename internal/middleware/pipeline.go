package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	tgotel "github.com/Strob0t/tenantguard/internal/adapter/otel"
	"github.com/Strob0t/tenantguard/internal/domain"
	"github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
	"github.com/Strob0t/tenantguard/internal/logger"
	"github.com/Strob0t/tenantguard/internal/quota"
	"github.com/Strob0t/tenantguard/internal/service"
	"github.com/Strob0t/tenantguard/internal/tenancy"
)

// TenantParam is the chi route parameter carrying an explicit tenant slug.
const TenantParam = "tenant"

// State is the position of a request in the policy pipeline.
type State int32

const (
	StateUnscoped State = iota
	StateTenantIdentified
	StateValidated
	StateAuthorized
	StateExecuting
	StateCompleted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateUnscoped:
		return "unscoped"
	case StateTenantIdentified:
		return "tenant_identified"
	case StateValidated:
		return "validated"
	case StateAuthorized:
		return "authorized"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type stateCtxKey struct{}

type stateTracker struct{ v atomic.Int32 }

// StateFromContext returns the pipeline state of the request in ctx.
// Requests that never entered the pipeline report StateUnscoped.
func StateFromContext(ctx context.Context) State {
	st, ok := ctx.Value(stateCtxKey{}).(*stateTracker)
	if !ok {
		return StateUnscoped
	}
	return State(st.v.Load())
}

// TenantResolver identifies tenants. *service.Resolver implements it.
type TenantResolver interface {
	Tenant(ctx context.Context, id string) (*tenant.Tenant, error)
	TenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
	TenantByHost(ctx context.Context, host string) (*tenant.Tenant, error)
}

var _ TenantResolver = (*service.Resolver)(nil)

// Auditor records audit events. *audit.Sink implements it.
type Auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// Pipeline is the policy middleware that establishes, enforces and clears
// the tenant scope of every API request.
type Pipeline struct {
	resolver      TenantResolver
	quota         *quota.Service
	auditor       Auditor
	signals       tenancy.Emitter
	metrics       *tgotel.Metrics
	meterAPICalls bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSignals sets the emitter receiving policy signals.
func WithSignals(e tenancy.Emitter) PipelineOption {
	return func(p *Pipeline) { p.signals = e }
}

// WithMetrics records pipeline metrics on m.
func WithMetrics(m *tgotel.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithAPICallMetering consumes one api_calls unit per scoped request.
func WithAPICallMetering(enabled bool) PipelineOption {
	return func(p *Pipeline) { p.meterAPICalls = enabled }
}

// NewPipeline creates the policy pipeline.
func NewPipeline(resolver TenantResolver, q *quota.Service, auditor Auditor, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		resolver: resolver,
		quota:    q,
		auditor:  auditor,
		signals:  tenancy.Nop,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// request carries one request through the stages.
type request struct {
	p       *Pipeline
	w       http.ResponseWriter
	r       *http.Request
	state   *stateTracker
	started time.Time
	code    string
}

func (rq *request) transition(ctx context.Context, s State) {
	from := State(rq.state.v.Swap(int32(s)))
	logger.From(ctx).Debug("pipeline state",
		zap.Stringer("from", from),
		zap.Stringer("to", s),
	)
}

// reject ends the request with err. Isolation failures and role
// violations are recorded as violation events; quota rejections only as
// signals.
func (rq *request) reject(ctx context.Context, scope tenancy.Scope, err error) {
	rq.transition(ctx, StateRejected)
	if te, ok := tenancy.As(err); ok {
		rq.code = string(te.Code)
		if te.Resource == "" {
			te.Resource = routePattern(rq.r)
		}
		logger.From(ctx).Warn("request rejected",
			zap.String("code", string(te.Code)),
			zap.String("tenant_id", te.TenantID),
			zap.String("principal_id", te.PrincipalID),
			zap.String("reason", te.Reason),
		)
		switch te.Code {
		case tenancy.CodeInactiveTenant, tenancy.CodeReadOnly:
			// Tenant state, not a violation.
		case tenancy.CodeQuotaExceeded:
			rq.p.signals.Emit(ctx, tenancy.SignalFor(te))
		default:
			rq.p.signals.Emit(ctx, tenancy.SignalFor(te))
			rq.p.auditor.Record(ctx, audit.Event{
				ActorID:    actorOf(scope.Principal),
				TenantID:   te.TenantID,
				Action:     audit.ActionViolation,
				TargetKind: "request",
				Reason:     string(te.Code) + ": " + te.Reason,
				SourceAddr: clientIP(rq.r),
			})
		}
	} else {
		rq.code = "error"
	}
	if rq.p.metrics != nil {
		rq.p.metrics.Rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("code", rq.code)))
	}
	WriteError(rq.w, rq.r.WithContext(ctx), err)
}

// Handler runs the pipeline around next: identify the tenant, validate the
// scope, enforce tenant state and quota, execute, audit, then release.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rq := &request{p: p, w: w, r: r, state: &stateTracker{}, started: time.Now()}
		ctx := context.WithValue(r.Context(), stateCtxKey{}, rq.state)
		ctx, span := tgotel.StartPipelineSpan(ctx, r.Method, routePattern(r))
		defer span.End()

		pr, ok := PrincipalFromContext(ctx)
		if !ok {
			rq.reject(ctx, tenancy.Scope{}, service.ErrUnauthenticated)
			return
		}
		scope := tenancy.Scope{Principal: pr, Elevated: pr.Has(principal.CapElevated)}

		// Identify.
		t, err := p.identify(ctx, r, pr)
		if err != nil {
			rq.reject(ctx, scope, err)
			return
		}
		scope.Tenant = t
		rq.transition(ctx, StateTenantIdentified)

		// Validate.
		ctx, release, err := tenancy.Begin(ctx, scope)
		if err != nil {
			rq.reject(ctx, scope, err)
			return
		}
		defer release()
		if p.metrics != nil {
			p.metrics.ScopesActive.Add(ctx, 1)
			defer p.metrics.ScopesActive.Add(context.WithoutCancel(ctx), -1)
		}
		ctx = logger.With(ctx, zap.String("tenant_id", scope.TenantID()))
		tgotel.AnnotateScope(ctx, scope.TenantID(), pr.ID, scope.Elevated)
		if t != nil && !pr.MemberOf(t.ID) && !scope.Unbound() {
			p.auditor.Record(ctx, audit.Event{
				Action:     audit.ActionElevatedAccess,
				TargetKind: "tenant",
				TargetID:   t.ID,
				Reason:     r.Method + " " + r.URL.Path,
				SourceAddr: clientIP(r),
			})
		}
		rq.transition(ctx, StateValidated)

		// Enforce.
		if err := p.enforce(ctx, r, scope); err != nil {
			rq.reject(ctx, scope, err)
			return
		}
		rq.transition(ctx, StateAuthorized)

		// Execute.
		rq.transition(ctx, StateExecuting)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		if mutating(r.Method) && sw.status < http.StatusBadRequest {
			action := audit.ActionRequest
			if sw.Header().Get(headerReplayed) == "true" {
				// A stored response; the mutation was recorded on the first attempt.
				action = audit.ActionRequestReplayed
			}
			p.auditor.Record(ctx, audit.Event{
				Action:     action,
				TargetKind: "request",
				Reason:     r.Method + " " + routePattern(r),
				SourceAddr: clientIP(r),
			})
		}
		if sw.status >= http.StatusBadRequest {
			rq.transition(ctx, StateRejected)
		} else {
			rq.transition(ctx, StateCompleted)
		}
		if p.metrics != nil {
			p.metrics.PipelineSeconds.Record(ctx, time.Since(rq.started).Seconds(),
				metric.WithAttributes(attribute.String("method", r.Method)))
		}
	})
}

// identify resolves the request tenant from the route segment, the
// principal's home tenant, the host, then the API key. A nil tenant is
// returned only when no source names one; Begin decides whether that is
// allowed.
func (p *Pipeline) identify(ctx context.Context, r *http.Request, pr principal.Principal) (*tenant.Tenant, error) {
	if slug := chi.URLParam(r, TenantParam); slug != "" {
		t, err := p.resolver.TenantBySlug(ctx, slug)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, tenancy.Forbidden(tenancy.Scope{Principal: pr}, "unknown tenant %q", slug)
		}
		return t, err
	}
	if pr.TenantID != "" {
		t, err := p.resolver.Tenant(ctx, pr.TenantID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, tenancy.ContextMissing("home tenant of principal not found")
		}
		return t, err
	}
	t, err := p.resolver.TenantByHost(ctx, r.Host)
	switch {
	case err == nil:
		return t, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	if key := APIKeyFromContext(ctx); key != nil && key.TenantID != "" {
		return p.resolver.Tenant(ctx, key.TenantID)
	}
	return nil, nil
}

// enforce applies tenant state, role and api_calls metering.
func (p *Pipeline) enforce(ctx context.Context, r *http.Request, scope tenancy.Scope) error {
	t := scope.Tenant
	write := mutating(r.Method)
	if t != nil && !t.Active {
		return tenancy.InactiveTenant(scope, "tenant %s is suspended", t.ID)
	}
	if write && t != nil && t.ReadOnly {
		return tenancy.ReadOnly(scope, "tenant %s is read-only", t.ID)
	}
	if write && !scope.Principal.CanWrite() {
		return tenancy.Forbidden(scope, "role %s may not write", scope.Principal.Role)
	}
	if p.meterAPICalls && t != nil && p.quota != nil {
		if _, err := p.quota.Consume(ctx, t, plan.ResourceAPICalls); err != nil {
			return err
		}
	}
	return nil
}

// Meter returns route middleware that rejects creates of resource once the
// tenant's plan is exhausted. The quota write hook remains authoritative.
func (p *Pipeline) Meter(resource plan.Resource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || p.quota == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			scope, ok := tenancy.FromContext(ctx)
			if !ok || scope.Tenant == nil {
				next.ServeHTTP(w, r)
				return
			}
			okCreate, u, err := p.quota.CanCreate(ctx, scope.Tenant, resource)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			if !okCreate {
				rq := &request{p: p, w: w, r: r, state: &stateTracker{}}
				if st, found := ctx.Value(stateCtxKey{}).(*stateTracker); found {
					rq.state = st
				}
				rq.reject(ctx, scope, quota.Exceeded(scope, scope.Tenant.ID, u))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Operator wraps next for platform operator routes that act on tenants
// from outside them. It requires the elevated grant and runs next in an
// elevated scope without a tenant.
func (p *Pipeline) Operator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		pr, ok := PrincipalFromContext(ctx)
		if !ok {
			WriteError(w, r, service.ErrUnauthenticated)
			return
		}
		scope := tenancy.Scope{Principal: pr, Elevated: true}
		ctx, release, err := tenancy.Begin(ctx, scope)
		if err != nil {
			rq := &request{p: p, w: w, r: r, state: &stateTracker{}}
			rq.reject(ctx, scope, err)
			return
		}
		defer release()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusWriter records the response status.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusWriter) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	s.wrote = true
	return s.ResponseWriter.Write(b)
}

func (s *statusWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func actorOf(p principal.Principal) string {
	if p.ID == "" {
		return audit.Anonymous
	}
	return p.ID
}

// clientIP returns the host part of RemoteAddr. Proxy headers are trusted
// only through chi's RealIP middleware mounted by the router.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
