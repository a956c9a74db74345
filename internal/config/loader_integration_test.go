package config

import (
	"os"
	"path/filepath"
	"testing"
)

// Exercises the full LoadFrom pipeline: defaults < YAML < dotenv/ENV.

func TestLoadFrom_FullHierarchy(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
logging:
  level: "debug"
auth:
  jwt_secret: "`+testSecret+`"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TENANTGUARD_PORT", "7070")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env should win over YAML, got port %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("YAML should win over defaults, got level %s", cfg.Logging.Level)
	}
	if cfg.Rate.Burst != 100 {
		t.Errorf("defaults should fill the rest, got burst %d", cfg.Rate.Burst)
	}
}

func TestLoadFrom_Dotenv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte(
		"TENANTGUARD_JWT_SECRET="+testSecret+"\nTENANTGUARD_BASE_DOMAIN=lettings.test\n",
	), 0o644); err != nil {
		t.Fatal(err)
	}
	// Process env wins over the dotenv file.
	t.Setenv("TENANTGUARD_BASE_DOMAIN", "override.test")
	// Registered so the dotenv-injected value is removed after the test.
	t.Setenv("TENANTGUARD_JWT_SECRET", "")
	os.Unsetenv("TENANTGUARD_JWT_SECRET")

	cfg, err := LoadFrom(filepath.Join(dir, "absent.yaml"), envPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("expected secret from dotenv, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Server.BaseDomain != "override.test" {
		t.Errorf("expected process env to win, got %s", cfg.Server.BaseDomain)
	}
}

func TestLoadFrom_MissingDotenvIgnored(t *testing.T) {
	t.Setenv("TENANTGUARD_AUTH_ENABLED", "false")
	if _, err := LoadFrom("/nonexistent.yaml", "/nonexistent/.env"); err != nil {
		t.Fatalf("missing files should not error, got %v", err)
	}
}

func TestLoadFrom_ValidationFailure(t *testing.T) {
	t.Setenv("TENANTGUARD_AUTH_ENABLED", "true")
	t.Setenv("TENANTGUARD_JWT_SECRET", "too-short")
	if _, err := LoadFrom("/nonexistent.yaml"); err == nil {
		t.Fatal("expected validation error for short secret")
	}
}
