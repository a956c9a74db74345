package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	domainaudit "github.com/Strob0t/tenantguard/internal/domain/audit"
	"github.com/Strob0t/tenantguard/internal/domain/plan"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestReadPlanFile(t *testing.T) {
	path := writeFile(t, `
plans:
  - id: starter
    name: Starter
    limits:
      properties: 2
      messages: 100
  - id: unlimited
    name: Unlimited
`)
	plans, err := readPlanFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(plans))
	}
	if got := plans[0].Limit(plan.ResourceProperties); got != 2 {
		t.Fatalf("properties limit = %d, want 2", got)
	}
	if got := plans[1].Limit(plan.ResourceMessages); got != plan.Unlimited {
		t.Fatalf("messages limit = %d, want unlimited", got)
	}
}

func TestReadPlanFileRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty", "plans: []\n", "defines no plans"},
		{"missing name", "plans:\n  - id: x\n", "name is required"},
		{"bad limit", "plans:\n  - id: x\n    name: X\n    limits:\n      properties: -2\n", ">= -1"},
		{"bad yaml", "plans: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readPlanFile(writeFile(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
	if _, err := readPlanFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWriteAudit(t *testing.T) {
	events := []domainaudit.Event{{
		ID:         "e1",
		ActorID:    "u1",
		TenantID:   "t1",
		Action:     domainaudit.ActionCreate,
		TargetKind: "property",
		TargetID:   "p1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}

	var jsonl bytes.Buffer
	if err := writeAudit(&jsonl, "jsonl", events); err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	var got domainaudit.Event
	if err := json.Unmarshal(jsonl.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "e1" || got.TargetID != "p1" {
		t.Fatalf("unexpected event %+v", got)
	}

	var table bytes.Buffer
	if err := writeAudit(&table, "table", events); err != nil {
		t.Fatalf("table: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(table.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "property/p1") {
		t.Fatalf("unexpected table:\n%s", table.String())
	}

	if err := writeAudit(&table, "csv", events); err == nil {
		t.Fatal("expected error for an unknown format")
	}
}
