package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "TOLLGATE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TOLLGATE_SECTION_FIELD (e.g., TOLLGATE_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from defaults, which lets a
// container be configured from the environment alone.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefaultConfig()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	// Overrides may set window_seconds after defaults already filled window.
	if v := os.Getenv(EnvPrefix + "QUOTA_WINDOW_SECONDS"); v != "" && os.Getenv(EnvPrefix+"QUOTA_WINDOW") == "" {
		if s, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Quota.WindowSeconds = s
			cfg.Quota.Window = time.Duration(s) * time.Second
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Unparseable values are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envInt("SERVER_MAX_HEADER_BYTES", &cfg.Server.MaxHeaderBytes)
	envBool("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	envString("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)
	envString("SERVER_TLS_MIN_VERSION", &cfg.Server.TLS.MinVersion)

	// Upstream overrides
	envString("UPSTREAM_URL", &cfg.Upstream.URL)
	envDuration("UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)

	// Quota overrides
	envDuration("QUOTA_WINDOW", &cfg.Quota.Window)
	envInt64("QUOTA_GUEST_MAX_REQUESTS", &cfg.Quota.GuestMaxRequests)
	envInt64("QUOTA_USER_MAX_REQUESTS", &cfg.Quota.UserMaxRequests)
	envString("QUOTA_MODE", &cfg.Quota.Mode)
	envString("QUOTA_FINGERPRINT_HEADER", &cfg.Quota.FingerprintHeader)

	// Storage overrides
	envString("STORAGE_BACKEND", &cfg.Storage.Backend)
	envInt("STORAGE_MEMORY_MAX_ENTRIES", &cfg.Storage.Memory.MaxEntries)
	envString("STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	envDuration("STORAGE_SQLITE_BUSY_TIMEOUT", &cfg.Storage.SQLite.BusyTimeout)
	envString("STORAGE_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)
	envInt("STORAGE_POSTGRES_MAX_OPEN_CONNS", &cfg.Storage.Postgres.MaxOpenConns)
	envString("STORAGE_REDIS_ADDRESS", &cfg.Storage.Redis.Address)
	envString("STORAGE_REDIS_PASSWORD", &cfg.Storage.Redis.Password)
	envInt("STORAGE_REDIS_DB", &cfg.Storage.Redis.DB)
	envString("STORAGE_REDIS_KEY_PREFIX", &cfg.Storage.Redis.KeyPrefix)

	// Sweeper overrides
	envBool("SWEEPER_ENABLED", &cfg.Sweeper.Enabled)
	envString("SWEEPER_SCHEDULE", &cfg.Sweeper.Schedule)
	envInt("SWEEPER_TTL_MULTIPLIER", &cfg.Sweeper.TTLMultiplier)
	if val := os.Getenv(EnvPrefix + "SWEEPER_NAMESPACES"); val != "" {
		var namespaces []string
		for _, ns := range strings.Split(val, ",") {
			if ns = strings.TrimSpace(ns); ns != "" {
				namespaces = append(namespaces, ns)
			}
		}
		cfg.Sweeper.Namespaces = namespaces
	}

	// Auth overrides
	envString("AUTH_JWT_SECRET", &cfg.Auth.JWT.Secret)
	envString("AUTH_JWT_JWKS_URL", &cfg.Auth.JWT.JWKSURL)
	envString("AUTH_JWT_ISSUER", &cfg.Auth.JWT.Issuer)
	envString("AUTH_JWT_AUDIENCE", &cfg.Auth.JWT.Audience)
	envString("AUTH_JWT_NAME_CLAIM", &cfg.Auth.JWT.NameClaim)

	// Secrets overrides
	envString("SECRETS_ENV_PREFIX", &cfg.Secrets.EnvPrefix)
	envString("SECRETS_DIR", &cfg.Secrets.Dir)
	envDuration("SECRETS_CACHE_TTL", &cfg.Secrets.CacheTTL)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envString("TELEMETRY_TRACING_SERVICE_NAME", &cfg.Telemetry.Tracing.ServiceName)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(name string, dst *int64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}
