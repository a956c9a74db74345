package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	tghttp "github.com/Strob0t/tenantguard/internal/adapter/http"
	tgotel "github.com/Strob0t/tenantguard/internal/adapter/otel"
	"github.com/Strob0t/tenantguard/internal/audit"
	"github.com/Strob0t/tenantguard/internal/config"
	domainaudit "github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/domain/property"
	"github.com/Strob0t/tenantguard/internal/logger"
	"github.com/Strob0t/tenantguard/internal/middleware"
	"github.com/Strob0t/tenantguard/internal/quota"
	"github.com/Strob0t/tenantguard/internal/resilience"
	"github.com/Strob0t/tenantguard/internal/scoped"
	"github.com/Strob0t/tenantguard/internal/service"
	"github.com/Strob0t/tenantguard/internal/tenancy"
	"github.com/Strob0t/tenantguard/internal/validator"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		zap.L().Error("fatal", zap.Error(err))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	log.Info("config loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("log_level", cfg.Logging.Level),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	db, closeDB, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeDB()

	if cfg.Database.CheckSchema {
		defects, err := validator.CheckSchema(ctx, db, property.Schemas()...)
		for _, d := range defects {
			log.Error("schema defect", zap.String("defect", d.String()))
		}
		if err != nil {
			return fmt.Errorf("schema check: %w", err)
		}
		log.Info("schema check passed")
	}

	shutdownOTEL, err := tgotel.Setup(ctx, cfg.OTEL, log)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			log.Warn("otel shutdown", zap.Error(err))
		}
	}()
	otelMetrics, err := tgotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	mq, err := connectNATS(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer mq.close()

	c, closeCache, err := openCache(ctx, mq, cfg.Cache.L1MaxSizeMB, cfg.Cache.L2Bucket, cfg.Cache.TTL, true, log)
	if err != nil {
		return err
	}
	defer closeCache()
	idem, closeIdem, err := openCache(ctx, mq, cfg.Cache.L1MaxSizeMB, idempotencyBucket(cfg.Cache.L2Bucket), cfg.Idempotency.TTL, false, log)
	if err != nil {
		return err
	}
	defer closeIdem()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := tghttp.NewMetrics(reg)

	signals := tenancy.Emitters{tenancy.LogEmitter(log), httpMetrics, otelMetrics}
	if mq.signals != nil {
		signals = append(signals, mq.signals)
	}

	// --- Services ---

	sink := audit.NewSink(db,
		audit.WithBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
			resilience.OnStateChange(func(from, to resilience.State) {
				log.Warn("audit store breaker", zap.String("from", string(from)), zap.String("to", string(to)))
			}),
		)),
		audit.OnFailure(func(e domainaudit.Event, err error) {
			log.Error("audit event dropped",
				zap.String("action", string(e.Action)),
				zap.String("tenant_id", e.TenantID),
				zap.Error(err),
			)
		}),
	)

	store := scoped.NewStore(db, scoped.WithAuditor(sink), scoped.WithSignals(signals))
	quotaSvc := quota.NewService(store, db, cfg.Quota.NearLimitThreshold, property.Meters()...)
	store.Use(validator.New(), quota.NewEnforcer(quotaSvc))

	resolver := service.NewResolver(db, db, c, cfg.Cache.TTL, cfg.Server.BaseDomain)
	authSvc := service.NewAuthService(cfg.Auth, resolver)
	tenantSvc := service.NewTenantService(db, db, sink, resolver, cfg.Quota.DefaultPlan)
	sweeper := service.NewRetentionSweeper(db, db, tenantSvc, cfg.Retention.Interval, log)

	// --- HTTP ---

	pipeline := middleware.NewPipeline(resolver, quotaSvc, sink,
		middleware.WithSignals(signals),
		middleware.WithMetrics(otelMetrics),
		middleware.WithAPICallMetering(cfg.Quota.MeterAPICalls),
	)
	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	handlers := tghttp.NewHandlers(store, tghttp.Handlers{
		Tenants:  tenantSvc,
		Auth:     authSvc,
		Resolver: resolver,
		Quota:    quotaSvc,
		Audit:    sink,
		Ping:     db.Ping,
	})
	router := tghttp.NewRouter(handlers, tghttp.RouterConfig{
		Log:            log,
		ServiceName:    cfg.OTEL.ServiceName,
		CORSOrigin:     cfg.Server.CORSOrigin,
		RequestTimeout: cfg.Server.RequestTimeout,
		AuthEnabled:    cfg.Auth.Enabled,
		Authn:          authSvc,
		Pipeline:       pipeline,
		RateLimiter:    limiter,
		Idempotency:    middleware.Idempotency(idem, cfg.Idempotency.TTL),
		Metrics:        httpMetrics,
		Gatherer:       reg,
	})
	if !cfg.Auth.Enabled {
		log.Warn("authentication disabled: every request runs as the system operator")
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
