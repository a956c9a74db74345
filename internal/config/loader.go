package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tenantguard.yaml"

// DefaultEnvFile is the dotenv file merged into the environment before the
// ENV layer is applied. Variables already set in the process win.
const DefaultEnvFile = ".env"

const minJWTSecretLen = 32

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML and .env files are optional; missing files are not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile, DefaultEnvFile)
}

// LoadFrom returns a Config loaded from the given YAML path and dotenv
// files using the hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string, envFiles ...string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadDotenv(envFiles...); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}
	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadDotenv merges existing dotenv files into the process environment.
// godotenv.Load never overrides variables that are already set.
func loadDotenv(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TENANTGUARD_PORT")
	setString(&cfg.Server.CORSOrigin, "TENANTGUARD_CORS_ORIGIN")
	setString(&cfg.Server.BaseDomain, "TENANTGUARD_BASE_DOMAIN")
	setDuration(&cfg.Server.RequestTimeout, "TENANTGUARD_REQUEST_TIMEOUT")

	setString(&cfg.Database.Driver, "TENANTGUARD_DB_DRIVER")
	setString(&cfg.Database.DSN, "DATABASE_URL")
	setInt32(&cfg.Database.MaxConns, "TENANTGUARD_DB_MAX_CONNS")
	setInt32(&cfg.Database.MinConns, "TENANTGUARD_DB_MIN_CONNS")
	setDuration(&cfg.Database.MaxConnLifetime, "TENANTGUARD_DB_MAX_CONN_LIFETIME")
	setDuration(&cfg.Database.MaxConnIdleTime, "TENANTGUARD_DB_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Database.HealthCheck, "TENANTGUARD_DB_HEALTH_CHECK")
	setBool(&cfg.Database.CheckSchema, "TENANTGUARD_DB_CHECK_SCHEMA")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SignalSubject, "TENANTGUARD_SIGNAL_SUBJECT")

	setString(&cfg.Logging.Level, "TENANTGUARD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TENANTGUARD_LOG_SERVICE")
	setBool(&cfg.Logging.Development, "TENANTGUARD_LOG_DEVELOPMENT")

	setBool(&cfg.Auth.Enabled, "TENANTGUARD_AUTH_ENABLED")
	setString(&cfg.Auth.JWTSecret, "TENANTGUARD_JWT_SECRET")
	setString(&cfg.Auth.Issuer, "TENANTGUARD_JWT_ISSUER")
	setDuration(&cfg.Auth.TokenTTL, "TENANTGUARD_TOKEN_TTL")

	setInt(&cfg.Breaker.MaxFailures, "TENANTGUARD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TENANTGUARD_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "TENANTGUARD_RATE_RPS")
	setInt(&cfg.Rate.Burst, "TENANTGUARD_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "TENANTGUARD_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "TENANTGUARD_RATE_MAX_IDLE_TIME")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "TENANTGUARD_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "TENANTGUARD_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.TTL, "TENANTGUARD_CACHE_TTL")
	setDuration(&cfg.Idempotency.TTL, "TENANTGUARD_IDEMPOTENCY_TTL")

	// Quota
	setFloat64(&cfg.Quota.NearLimitThreshold, "TENANTGUARD_QUOTA_NEAR_LIMIT")
	setString(&cfg.Quota.DefaultPlan, "TENANTGUARD_QUOTA_DEFAULT_PLAN")
	setBool(&cfg.Quota.MeterAPICalls, "TENANTGUARD_QUOTA_METER_API_CALLS")

	setDuration(&cfg.Retention.Interval, "TENANTGUARD_RETENTION_INTERVAL")

	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "TENANTGUARD_OTEL_INSECURE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if cfg.Database.MaxConns < 1 {
		return errors.New("database.max_conns must be >= 1")
	}
	if cfg.Auth.Enabled && len(cfg.Auth.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLen)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Quota.NearLimitThreshold <= 0 || cfg.Quota.NearLimitThreshold > 1 {
		return errors.New("quota.near_limit_threshold must be in (0, 1]")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
