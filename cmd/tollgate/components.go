package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/identity"
	"mercator-hq/tollgate/pkg/quota"
	"mercator-hq/tollgate/pkg/quota/retention"
	"mercator-hq/tollgate/pkg/quota/storage"
	"mercator-hq/tollgate/pkg/security/secrets"
)

// loadConfig loads the configuration named by --config, installs it as
// the process-wide configuration and resolves secret references.
func loadConfig(ctx context.Context) (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.GetConfig()
	if err := resolveSecrets(ctx, cfg, slog.Default()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSecrets replaces ${secret:name} references in the credential
// fields of cfg.
func resolveSecrets(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	fields := map[string]*string{
		"auth.jwt.secret":        &cfg.Auth.JWT.Secret,
		"storage.postgres.dsn":   &cfg.Storage.Postgres.DSN,
		"storage.redis.password": &cfg.Storage.Redis.Password,
	}

	referenced := false
	for _, field := range fields {
		if secrets.HasReference(*field) {
			referenced = true
			break
		}
	}
	if !referenced {
		return nil
	}

	manager, err := secrets.New(secrets.Config{
		EnvPrefix: cfg.Secrets.EnvPrefix,
		Dir:       cfg.Secrets.Dir,
		CacheTTL:  cfg.Secrets.CacheTTL,
	}, logger)
	if err != nil {
		return cli.NewConfigError("secrets.dir", err.Error())
	}
	defer manager.Close()

	if err := manager.ResolveFields(ctx, fields); err != nil {
		return cli.NewConfigError("secrets", err.Error())
	}
	return nil
}

// openStore opens the quota store selected by cfg.Storage.Backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (quota.Store, error) {
	s := cfg.Storage

	logger.Info("opening quota store", "backend", s.Backend)

	switch s.Backend {
	case "memory":
		return storage.NewMemoryBackendWithConfig(storage.MemoryBackendConfig{
			MaxEntries: s.Memory.MaxEntries,
		}), nil

	case "sqlite":
		if dir := filepath.Dir(s.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		backend, err := storage.NewSQLiteBackendWithConfig(storage.SQLiteBackendConfig{
			DBPath:             s.SQLite.Path,
			BusyTimeout:        s.SQLite.BusyTimeout,
			CheckpointInterval: s.SQLite.CheckpointInterval,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil

	case "postgres":
		backend, err := storage.NewPostgresBackend(storage.PostgresBackendConfig{
			DSN:            s.Postgres.DSN,
			MaxOpenConns:   s.Postgres.MaxOpenConns,
			ConnectTimeout: s.Postgres.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil

	case "redis":
		backend, err := storage.NewRedisBackend(ctx, storage.RedisBackendConfig{
			Address:          s.Redis.Address,
			Password:         s.Redis.Password,
			DB:               s.Redis.DB,
			KeyPrefix:        s.Redis.KeyPrefix,
			DeletesPerSecond: cfg.Sweeper.RedisDeletesPerSecond,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil

	default:
		return nil, cli.NewConfigError("storage.backend", fmt.Sprintf("unsupported backend %q", s.Backend))
	}
}

// newEngine builds the quota engine. reg may be nil to skip metrics.
func newEngine(cfg *config.Config, store quota.Store, logger *slog.Logger, reg prometheus.Registerer) (*quota.Engine, *quota.Metrics, error) {
	mode, err := quota.ParseMode(cfg.Quota.Mode)
	if err != nil {
		return nil, nil, cli.NewConfigError("quota.mode", err.Error())
	}

	var m *quota.Metrics
	if reg != nil {
		m = quota.NewMetrics(reg)
	}

	engine := quota.NewEngine(store, quota.EngineConfig{
		Limits:  cfg.Quota.Limits(),
		Mode:    mode,
		Logger:  logger,
		Metrics: m,
	})
	return engine, m, nil
}

// newResolver builds the identity resolver. Without JWT settings every
// caller is a guest.
func newResolver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*identity.Resolver, error) {
	jwtCfg := cfg.Auth.JWT
	if !jwtCfg.Enabled() {
		logger.Warn("no JWT verification configured, every caller is treated as a guest")
		return identity.NewResolver(nil, logger), nil
	}

	verifier, err := identity.NewJWTVerifier(ctx, identity.JWTConfig{
		Secret:          jwtCfg.Secret,
		JWKSURL:         jwtCfg.JWKSURL,
		Issuer:          jwtCfg.Issuer,
		Audience:        jwtCfg.Audience,
		NameClaim:       jwtCfg.NameClaim,
		RefreshInterval: jwtCfg.RefreshInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT verifier: %w", err)
	}
	return identity.NewResolver(verifier, logger), nil
}

// sweeperConfig converts the sweeper section. namespaces overrides the
// configured list when non-empty.
func sweeperConfig(cfg *config.Config, namespaces []string, scheduled bool) (*retention.Config, error) {
	if len(namespaces) == 0 {
		namespaces = cfg.Sweeper.Namespaces
	}

	rc := &retention.Config{TTLMultiplier: cfg.Sweeper.TTLMultiplier}
	for _, name := range namespaces {
		ns, err := quota.ParseNamespace(name)
		if err != nil {
			return nil, cli.NewConfigError("sweeper.namespaces", err.Error())
		}
		rc.Namespaces = append(rc.Namespaces, ns)
	}
	if scheduled {
		rc.Schedule = cfg.Sweeper.Schedule
	}
	return rc, nil
}
