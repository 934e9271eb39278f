package config

import (
	"time"

	"mercator-hq/tollgate/pkg/quota"
)

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 120 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSReload       = 5 * time.Minute

	// Upstream defaults
	DefaultUpstreamTimeout = 90 * time.Second

	// Quota defaults
	DefaultQuotaWindow            = quota.DefaultWindow
	DefaultQuotaGuestMaxRequests  = quota.DefaultGuestMaxRequests
	DefaultQuotaUserMaxRequests   = quota.DefaultUserMaxRequests
	DefaultQuotaMode              = string(quota.ModeOptimistic)
	DefaultQuotaFingerprintHeader = "X-Fingerprint"

	// Storage defaults
	DefaultStorageBackend            = "sqlite"
	DefaultMemoryMaxEntries          = 100000
	DefaultSQLitePath                = "data/quota.db"
	DefaultSQLiteBusyTimeout         = 5 * time.Second
	DefaultSQLiteCheckpointInterval  = 5 * time.Minute
	DefaultPostgresMaxOpenConns      = 10
	DefaultPostgresConnectTimeout    = 5 * time.Second
	DefaultRedisAddress              = "localhost:6379"
	DefaultRedisKeyPrefix            = "tollgate"
	DefaultSweeperEnabled            = true
	DefaultSweeperSchedule           = "@every 1h"
	DefaultSweeperTTLMultiplier      = 2
	DefaultSweeperRedisDeletesPerSec = 500
	DefaultJWTNameClaim              = "name"
	DefaultJWTRefreshInterval        = 15 * time.Minute
	DefaultSecretsEnvPrefix          = "TOLLGATE_SECRET_"
	DefaultSecretsCacheTTL           = 5 * time.Minute

	// Telemetry defaults
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsEnabled     = true
	DefaultMetricsPath        = "/metrics"
	DefaultTracingEnabled     = false
	DefaultTracingServiceName = "tollgate"
	DefaultTracingSampleRatio = 0.1
)

// DefaultSweeperNamespaces is the namespace list swept when none is set.
var DefaultSweeperNamespaces = []string{string(quota.NamespaceGuest)}

// newConfig returns a Config whose boolean fields already hold their
// defaults. YAML decoding only overwrites keys present in the document, so
// an omitted key keeps its default while an explicit false still wins.
func newConfig() *Config {
	return &Config{
		Sweeper: SweeperConfig{Enabled: DefaultSweeperEnabled},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
			Tracing: TracingConfig{Enabled: DefaultTracingEnabled},
		},
	}
}

// NewDefaultConfig returns a complete configuration with every default
// applied. Upstream.URL is left empty and must be supplied.
func NewDefaultConfig() *Config {
	cfg := newConfig()
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyQuotaDefaults(&cfg.Quota)
	applyStorageDefaults(&cfg.Storage)
	applySweeperDefaults(&cfg.Sweeper)

	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if cfg.Auth.JWT.NameClaim == "" {
		cfg.Auth.JWT.NameClaim = DefaultJWTNameClaim
	}
	if cfg.Auth.JWT.RefreshInterval == 0 {
		cfg.Auth.JWT.RefreshInterval = DefaultJWTRefreshInterval
	}
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}
	if cfg.Secrets.CacheTTL == 0 {
		cfg.Secrets.CacheTTL = DefaultSecretsCacheTTL
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxHeaderBytes == 0 {
		s.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if s.TLS.MinVersion == "" {
		s.TLS.MinVersion = DefaultTLSMinVersion
	}
	if s.TLS.ReloadInterval == 0 {
		s.TLS.ReloadInterval = DefaultTLSReload
	}
}

func applyQuotaDefaults(q *QuotaConfig) {
	if q.Window == 0 {
		if q.WindowSeconds != 0 {
			q.Window = time.Duration(q.WindowSeconds) * time.Second
		} else {
			q.Window = DefaultQuotaWindow
		}
	}
	if q.GuestMaxRequests == 0 {
		q.GuestMaxRequests = DefaultQuotaGuestMaxRequests
	}
	if q.UserMaxRequests == 0 {
		q.UserMaxRequests = DefaultQuotaUserMaxRequests
	}
	if q.Mode == "" {
		q.Mode = DefaultQuotaMode
	}
	if q.FingerprintHeader == "" {
		q.FingerprintHeader = DefaultQuotaFingerprintHeader
	}
}

func applyStorageDefaults(s *StorageConfig) {
	if s.Backend == "" {
		s.Backend = DefaultStorageBackend
	}
	if s.Memory.MaxEntries == 0 {
		s.Memory.MaxEntries = DefaultMemoryMaxEntries
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = DefaultSQLitePath
	}
	if s.SQLite.BusyTimeout == 0 {
		s.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if s.SQLite.CheckpointInterval == 0 {
		s.SQLite.CheckpointInterval = DefaultSQLiteCheckpointInterval
	}
	if s.Postgres.MaxOpenConns == 0 {
		s.Postgres.MaxOpenConns = DefaultPostgresMaxOpenConns
	}
	if s.Postgres.ConnectTimeout == 0 {
		s.Postgres.ConnectTimeout = DefaultPostgresConnectTimeout
	}
	if s.Redis.Address == "" {
		s.Redis.Address = DefaultRedisAddress
	}
	if s.Redis.KeyPrefix == "" {
		s.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
}

func applySweeperDefaults(s *SweeperConfig) {
	if s.Schedule == "" {
		s.Schedule = DefaultSweeperSchedule
	}
	if s.TTLMultiplier == 0 {
		s.TTLMultiplier = DefaultSweeperTTLMultiplier
	}
	if len(s.Namespaces) == 0 {
		s.Namespaces = append([]string(nil), DefaultSweeperNamespaces...)
	}
	if s.RedisDeletesPerSecond == 0 {
		s.RedisDeletesPerSecond = DefaultSweeperRedisDeletesPerSec
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
}
