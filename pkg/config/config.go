package config

import (
	"time"

	"mercator-hq/tollgate/pkg/quota"
)

// Config is the root configuration structure for tollgate.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `yaml:"server"`

	// Upstream is the analysis service guarded by the quota gate.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Quota contains the limits and gating mode.
	Quota QuotaConfig `yaml:"quota"`

	// Storage selects and configures the quota store backend.
	Storage StorageConfig `yaml:"storage"`

	// Sweeper controls the background deletion of expired records.
	Sweeper SweeperConfig `yaml:"sweeper"`

	// Auth configures bearer token verification.
	Auth AuthConfig `yaml:"auth"`

	// Secrets configures resolution of ${secret:name} references.
	Secrets SecretsConfig `yaml:"secrets"`

	// Telemetry contains logging, metrics and tracing settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// ListenAddress is the address the gateway listens on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. It must cover the upstream call.
	// Default: 120s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1MB
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// TLS terminates TLS on the listener when enabled.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures the listener certificate.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// ReloadInterval is how often the certificate files are checked for
	// renewal.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// UpstreamConfig describes the protected operation.
type UpstreamConfig struct {
	// URL is the base URL of the analysis service. Required.
	URL string `yaml:"url"`

	// Timeout bounds a single upstream call. A timed out call is not charged.
	// Default: 90s
	Timeout time.Duration `yaml:"timeout"`
}

// QuotaConfig contains the quota policy.
type QuotaConfig struct {
	// Window is the length of one counting window.
	// Default: 24h
	Window time.Duration `yaml:"window"`

	// WindowSeconds is an alternative to Window for deployments that
	// configure the window in seconds. Window wins when both are set.
	WindowSeconds int64 `yaml:"window_seconds"`

	// GuestMaxRequests is the per-window ceiling for guests.
	// Default: 5
	GuestMaxRequests int64 `yaml:"guest_max_requests"`

	// UserMaxRequests is the per-window ceiling for signed-in users.
	// Default: 50
	UserMaxRequests int64 `yaml:"user_max_requests"`

	// Mode is "optimistic" or "strict".
	// Default: "optimistic"
	Mode string `yaml:"mode"`

	// FingerprintHeader carries the guest fingerprint.
	// Default: "X-Fingerprint"
	FingerprintHeader string `yaml:"fingerprint_header"`
}

// Limits converts the quota section into engine limits.
func (q QuotaConfig) Limits() quota.Limits {
	return quota.Limits{
		Window:           q.Window,
		GuestMaxRequests: q.GuestMaxRequests,
		UserMaxRequests:  q.UserMaxRequests,
	}
}

// StorageConfig selects the quota store.
type StorageConfig struct {
	// Backend is one of "memory", "sqlite", "postgres" or "redis".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	Memory   MemoryStorageConfig   `yaml:"memory"`
	SQLite   SQLiteStorageConfig   `yaml:"sqlite"`
	Postgres PostgresStorageConfig `yaml:"postgres"`
	Redis    RedisStorageConfig    `yaml:"redis"`
}

// MemoryStorageConfig configures the in-process store.
type MemoryStorageConfig struct {
	// MaxEntries bounds the number of records per store (0 = unlimited).
	// Default: 100000
	MaxEntries int `yaml:"max_entries"`
}

// SQLiteStorageConfig configures the SQLite store.
type SQLiteStorageConfig struct {
	// Path is the database file.
	// Default: "data/quota.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long a writer waits for the database lock.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// PostgresStorageConfig configures the PostgreSQL store.
type PostgresStorageConfig struct {
	// DSN is a lib/pq connection string. Required for the postgres backend.
	DSN string `yaml:"dsn"`

	// MaxOpenConns bounds the connection pool.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// ConnectTimeout bounds the startup ping.
	// Default: 5s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RedisStorageConfig configures the Redis store.
type RedisStorageConfig struct {
	// Address is host:port of the Redis server.
	// Default: "localhost:6379"
	Address string `yaml:"address"`

	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix prefixes every key.
	// Default: "tollgate"
	KeyPrefix string `yaml:"key_prefix"`
}

// SweeperConfig controls expired record deletion.
type SweeperConfig struct {
	// Enabled runs the sweeper inside "tollgate run".
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor.
	// Default: "@every 1h"
	Schedule string `yaml:"schedule"`

	// TTLMultiplier is how many windows past its start a record is kept.
	// Default: 2
	TTLMultiplier int `yaml:"ttl_multiplier"`

	// Namespaces lists the namespaces to sweep.
	// Default: ["guest"]
	Namespaces []string `yaml:"namespaces"`

	// RedisDeletesPerSecond paces deletions on the Redis backend (0 = unpaced).
	// Default: 500
	RedisDeletesPerSecond int `yaml:"redis_deletes_per_second"`
}

// AuthConfig configures identity resolution.
type AuthConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig configures bearer token verification. With neither Secret nor
// JWKSURL set every caller is treated as a guest.
type JWTConfig struct {
	// Secret is an HS256 shared secret.
	Secret string `yaml:"secret"`

	// JWKSURL is a JSON Web Key Set endpoint.
	JWKSURL string `yaml:"jwks_url"`

	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	// NameClaim is the claim used as the display label.
	// Default: "name"
	NameClaim string `yaml:"name_claim"`

	// RefreshInterval is the minimum JWKS refresh interval.
	// Default: 15m
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// Enabled reports whether token verification is configured.
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.JWKSURL != ""
}

// SecretsConfig configures where ${secret:name} references are looked up.
// References are resolved in auth.jwt.secret, storage.postgres.dsn and
// storage.redis.password.
type SecretsConfig struct {
	// EnvPrefix prefixes the environment variable for each secret name.
	// Default: "TOLLGATE_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir holds one file per secret. Optional.
	Dir string `yaml:"dir"`

	// CacheTTL is how long a resolved secret is reused.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled exposes the Prometheus endpoint.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "tollgate"
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `yaml:"insecure"`
}
