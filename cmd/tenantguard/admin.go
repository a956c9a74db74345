package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/Strob0t/tenantguard/internal/adapter/ristretto"
	"github.com/Strob0t/tenantguard/internal/adapter/sqlstore"
	"github.com/Strob0t/tenantguard/internal/audit"
	"github.com/Strob0t/tenantguard/internal/config"
	domainaudit "github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/domain/plan"
	"github.com/Strob0t/tenantguard/internal/domain/principal"
	"github.com/Strob0t/tenantguard/internal/domain/property"
	"github.com/Strob0t/tenantguard/internal/domain/tenant"
	"github.com/Strob0t/tenantguard/internal/logger"
	"github.com/Strob0t/tenantguard/internal/service"
	"github.com/Strob0t/tenantguard/internal/tenancy"
	"github.com/Strob0t/tenantguard/internal/validator"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "upsert-plans":
		return runAdminUpsertPlans(args[1:])
	case "create-tenant":
		return runAdminCreateTenant(args[1:])
	case "create-principal":
		return runAdminCreatePrincipal(args[1:])
	case "issue-token":
		return runAdminIssueToken(args[1:])
	case "check-schema":
		return runAdminCheckSchema(args[1:])
	case "export-audit":
		return runAdminExportAudit(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: tenantguard admin <command> [options]

Commands:
  upsert-plans      Create or replace plans from a YAML file
  create-tenant     Create a tenant
  create-principal  Register a principal
  issue-token       Sign a bearer token for a principal
  check-schema      Verify per-tenant unique indexes
  export-audit      Export a tenant's audit events as JSON lines
  help              Show this help message

Examples:
  tenantguard admin upsert-plans --file plans.yaml
  tenantguard admin create-tenant --name "Acme Estates" --slug acme --plan starter
  tenantguard admin create-principal --name ops --role operator --elevated
  tenantguard admin create-principal --name "Jo Owner" --role owner --tenant acme
  tenantguard admin issue-token --principal 6f1c...
  tenantguard admin export-audit --tenant acme --from 2026-01-01T00:00:00Z
`)
}

// adminDeps are the services admin commands run against. Every call runs
// in an elevated scope without a tenant, as the admin system principal.
type adminDeps struct {
	cfg      *config.Config
	db       *sqlstore.Store
	resolver *service.Resolver
	tenants  *service.TenantService
	auth     *service.AuthService
	audit    *audit.Sink
	cleanup  func()
}

func loadAdminDeps() (*adminDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logCfg := cfg.Logging
	logCfg.Level = "warn"
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	db, closeDB, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	c, err := ristretto.New(1)
	if err != nil {
		closeDB()
		return nil, err
	}

	sink := audit.NewSink(db, audit.OnFailure(func(e domainaudit.Event, err error) {
		log.Error("audit event dropped", zap.String("action", string(e.Action)), zap.Error(err))
	}))
	resolver := service.NewResolver(db, db, c, cfg.Cache.TTL, cfg.Server.BaseDomain)
	return &adminDeps{
		cfg:      cfg,
		db:       db,
		resolver: resolver,
		tenants:  service.NewTenantService(db, db, sink, resolver, cfg.Quota.DefaultPlan),
		auth:     service.NewAuthService(cfg.Auth, resolver),
		audit:    sink,
		cleanup: func() {
			c.Close()
			closeDB()
			_ = log.Sync()
		},
	}, nil
}

func (d *adminDeps) run(fn func(ctx context.Context) error) error {
	scope := tenancy.Scope{Principal: principal.System("admin"), Elevated: true}
	return tenancy.Run(context.Background(), scope, fn)
}

// planFile is the YAML layout read by upsert-plans.
type planFile struct {
	Plans []plan.Plan `yaml:"plans"`
}

func runAdminUpsertPlans(args []string) error {
	fs := flag.NewFlagSet("upsert-plans", flag.ContinueOnError)
	file := fs.String("file", "plans.yaml", "YAML file with a plans list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	plans, err := readPlanFile(*file)
	if err != nil {
		return err
	}

	d, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer d.cleanup()

	for _, p := range plans {
		if err := d.db.UpsertPlan(context.Background(), p); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Plan upserted: %s (%d limits)\n", p.ID, len(p.Limits))
	}
	return nil
}

// readPlanFile parses and validates a plans YAML file.
func readPlanFile(path string) ([]plan.Plan, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(pf.Plans) == 0 {
		return nil, fmt.Errorf("%s defines no plans", path)
	}
	for _, p := range pf.Plans {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("plan %q: %w", p.ID, err)
		}
	}
	return pf.Plans, nil
}

func runAdminCreateTenant(args []string) error {
	fs := flag.NewFlagSet("create-tenant", flag.ContinueOnError)
	name := fs.String("name", "", "tenant display name (required)")
	slug := fs.String("slug", "", "tenant slug (required)")
	planID := fs.String("plan", "", "plan id (defaults to quota.default_plan)")
	trialDays := fs.Int("trial-days", 0, "start a trial of this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *slug == "" {
		return fmt.Errorf("--name and --slug are required")
	}

	d, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer d.cleanup()

	req := tenant.CreateRequest{Name: *name, Slug: *slug, PlanID: *planID}
	if *trialDays > 0 {
		req.TrialEndsAt = time.Now().UTC().AddDate(0, 0, *trialDays)
	}
	var t *tenant.Tenant
	err = d.run(func(ctx context.Context) error {
		t, err = d.tenants.Create(ctx, req)
		return err
	})
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Tenant created: %s (id=%s, plan=%s)\n", t.Slug, t.ID, t.PlanID)
	return nil
}

func runAdminCreatePrincipal(args []string) error {
	fs := flag.NewFlagSet("create-principal", flag.ContinueOnError)
	name := fs.String("name", "", "principal name (required)")
	role := fs.String("role", "", "owner|manager|staff|service|client|marketer|operator (required)")
	slug := fs.String("tenant", "", "tenant slug for tenant-bound roles")
	elevated := fs.Bool("elevated", false, "grant audited access to every tenant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *role == "" {
		return fmt.Errorf("--name and --role are required")
	}

	d, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer d.cleanup()

	var p *principal.Principal
	err = d.run(func(ctx context.Context) error {
		req := principal.CreateRequest{Name: *name, Role: principal.Role(*role), Elevated: *elevated}
		if *slug != "" {
			t, err := d.tenants.GetBySlug(ctx, *slug)
			if err != nil {
				return err
			}
			req.TenantID = t.ID
		}
		p, err = d.tenants.CreatePrincipal(ctx, req)
		return err
	})
	if err != nil {
		return fmt.Errorf("create principal: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Principal created: %s (id=%s, role=%s, elevated=%t)\n", p.Name, p.ID, p.Role, p.Elevated)
	return nil
}

func runAdminIssueToken(args []string) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	id := fs.String("principal", "", "principal id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--principal is required")
	}

	d, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer d.cleanup()

	p, err := d.resolver.Principal(context.Background(), *id)
	if err != nil {
		return fmt.Errorf("load principal: %w", err)
	}
	if !p.Enabled {
		return fmt.Errorf("principal %s is disabled", p.ID)
	}
	token, exp, err := d.auth.IssueToken(*p)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Token for %s expires %s\n", p.ID, exp.UTC().Format(time.RFC3339))
	fmt.Println(token)
	return nil
}

func runAdminCheckSchema(args []string) error {
	fs := flag.NewFlagSet("check-schema", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer d.cleanup()

	defects, err := validator.CheckSchema(context.Background(), d.db, property.Schemas()...)
	for _, def := range defects {
		fmt.Println(def.String())
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Schema OK: %d tables checked\n", len(property.Schemas()))
	return nil
}

func runAdminExportAudit(args []string) error {
	fs := flag.NewFlagSet("export-audit", flag.ContinueOnError)
	slug := fs.String("tenant", "", "tenant slug (required)")
	fromS := fs.String("from", "", "start, RFC 3339 (inclusive)")
	toS := fs.String("to", "", "end, RFC 3339 (exclusive)")
	format := fs.String("format", "", "jsonl|table (default: table on a terminal, jsonl otherwise)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *slug == "" {
		return fmt.Errorf("--tenant is required")
	}
	from, err := parseFlagTime(*fromS)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseFlagTime(*toS)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	if *format == "" {
		*format = "jsonl"
		if term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec // fd fits in int
			*format = "table"
		}
	}

	d, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer d.cleanup()

	var events []domainaudit.Event
	err = d.run(func(ctx context.Context) error {
		t, err := d.tenants.GetBySlug(ctx, *slug)
		if err != nil {
			return err
		}
		events, err = d.audit.Query(ctx, t.ID, from, to)
		return err
	})
	if err != nil {
		return fmt.Errorf("export audit: %w", err)
	}

	return writeAudit(os.Stdout, *format, events)
}

// writeAudit renders events as JSON lines or an aligned table.
func writeAudit(out io.Writer, format string, events []domainaudit.Event) error {
	switch format {
	case "jsonl":
		enc := json.NewEncoder(out)
		for i := range events {
			if err := enc.Encode(events[i]); err != nil {
				return err
			}
		}
		return nil
	case "table":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "OCCURRED_AT\tACTOR\tACTION\tTARGET\tREASON")
		for i := range events {
			e := &events[i]
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\t%s\n",
				e.OccurredAt.Format(time.RFC3339), e.ActorID, e.Action, e.TargetKind, e.TargetID, e.Reason)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func parseFlagTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
