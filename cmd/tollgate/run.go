package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/quota"
	"mercator-hq/tollgate/pkg/quota/retention"
	sectls "mercator-hq/tollgate/pkg/security/tls"
	"mercator-hq/tollgate/pkg/server"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// telemetryFlushTimeout bounds the final span export on exit.
const telemetryFlushTimeout = 5 * time.Second

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Tollgate gateway",
	Long: `Start the Tollgate gateway with the specified configuration.

The gateway gates POST /v1/analyze per identity and forwards admitted calls to
the configured upstream. It also serves GET /v1/usage, /health, /ready and
/metrics. Expired guest records are swept on the configured schedule, and
changes to the quota section of the config file are applied without a
restart.

Examples:
  # Start with a config file
  tollgate run --config /etc/tollgate/tollgate.yaml

  # Configure entirely from the environment
  TOLLGATE_UPSTREAM_URL=http://analysis:9000/v1/analyze tollgate run

  # Override listen address
  tollgate run --listen 0.0.0.0:8080

  # Validate config without starting the gateway
  tollgate run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	})
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SignalContext(cmd.Context(), logger)
	defer stop()

	return cli.NewCommandError("run", serve(ctx, cfg, logger))
}

// serve wires every component and blocks until ctx is cancelled or one of
// the long-running components fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting tollgate",
		"version", Version,
		"config", cfgFile,
		"backend", cfg.Storage.Backend,
		"mode", cfg.Quota.Mode,
	)

	tp, err := tracing.New(ctx, cfg.Telemetry.Tracing, Version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	collector := metrics.NewCollector(nil)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open quota store: %w", err)
	}
	defer store.Close()

	engine, quotaMetrics, err := newEngine(cfg, store, logger, collector.Registry())
	if err != nil {
		return err
	}

	resolver, err := newResolver(ctx, cfg, logger)
	if err != nil {
		return err
	}

	checker := health.New(0)
	checker.RegisterAdvisoryCheck("quota_store", store.Ping)

	var tlsConfig *tls.Config
	if cfg.Server.TLS.Enabled {
		tlsConfig, err = sectls.Setup(ctx, sectls.Config{
			CertFile:       cfg.Server.TLS.CertFile,
			KeyFile:        cfg.Server.TLS.KeyFile,
			MinVersion:     cfg.Server.TLS.MinVersion,
			ReloadInterval: cfg.Server.TLS.ReloadInterval,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to set up TLS: %w", err)
		}
	}

	srv, err := server.New(server.Options{
		Config:   cfg,
		Engine:   engine,
		Resolver: resolver,
		Health:   checker,
		Metrics:  collector,
		TLS:      tlsConfig,
		Version:  versionInfo(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if cfg.Sweeper.Enabled {
		sweeperCfg, err := sweeperConfig(cfg, nil, true)
		if err != nil {
			return err
		}
		sweeper := retention.NewSweeper(engine, sweeperCfg, quotaMetrics)
		if err := sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sweeper: %w", err)
		}
		defer sweeper.Stop()

		if next := sweeper.NextSweep(); next != nil {
			logger.Info("expiry sweeper scheduled", "next_sweep", next)
		}
	}

	var watcher *config.Watcher
	if cfgFile != "" {
		watcher, err = config.NewWatcher(cfgFile, 0, logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Watch(gctx, func(next *config.Config) {
				applyReload(engine, next, logger)
			})
		})
	}

	return g.Wait()
}

// applyReload applies the hot-reloadable parts of a new configuration.
// Only the quota limits are swapped live; everything else needs a restart.
func applyReload(engine *quota.Engine, next *config.Config, logger *slog.Logger) {
	engine.SetLimits(next.Quota.Limits())

	if next.Quota.Mode != string(engine.Mode()) {
		logger.Warn("quota mode change requires a restart",
			"running", engine.Mode(),
			"configured", next.Quota.Mode,
		)
	}
}
