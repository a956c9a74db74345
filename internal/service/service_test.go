package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/tenantguard/internal/adapter/ristretto"
	"github.com/Strob0t/tenantguard/internal/adapter/sqlstore"
	"github.com/Strob0t/tenantguard/internal/config"
	"github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/testkit"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAuditor) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	db       *sqlstore.Store
	resolver *Resolver
	auth     *AuthService
	tenants  *TenantService
	auditor  *recordingAuditor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testkit.Store(t)
	c, err := ristretto.New(1)
	if err != nil {
		t.Fatalf("ristretto: %v", err)
	}
	t.Cleanup(c.Close)

	f := &fixture{db: db, auditor: &recordingAuditor{}}
	f.resolver = NewResolver(db, db, c, time.Minute, "tenantguard.test")
	f.auth = NewAuthService(config.Auth{
		Enabled:   true,
		JWTSecret: "test-secret-key-must-be-long-enough",
		Issuer:    "tenantguard",
		TokenTTL:  15 * time.Minute,
	}, f.resolver)
	f.tenants = NewTenantService(db, db, f.auditor, f.resolver, testkit.Unlimited.ID)
	if err := db.UpsertPlan(context.Background(), testkit.Unlimited); err != nil {
		t.Fatalf("upsert plan: %v", err)
	}
	return f
}

func contains(actions []audit.Action, want audit.Action) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}
