package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Strob0t/tenantguard/internal/config"
)

func TestNew(t *testing.T) {
	l, err := New(config.Logging{Level: "debug", Service: "test-svc"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level enabled")
	}
}

func TestNewDevelopment(t *testing.T) {
	l, err := New(config.Logging{Level: "warn", Service: "test-svc", Development: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info disabled at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"warning", "warn"},
		{"error", "error"},
		{"unknown", "info"},
		{"", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
}

func TestFromCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := Into(context.Background(), zap.New(core))
	ctx = With(ctx, zap.String("tenant_id", "t-1"))

	From(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["tenant_id"]; got != "t-1" {
		t.Errorf("expected tenant_id t-1, got %v", got)
	}
}

func TestFromFallsBackToGlobal(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatal("expected global logger fallback")
	}
}
