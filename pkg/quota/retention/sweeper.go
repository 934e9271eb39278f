package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/tollgate/pkg/quota"
)

// Config contains configuration for the expiry sweeper.
type Config struct {
	// Namespaces lists the namespaces to sweep.
	// Default: guest only
	Namespaces []quota.Namespace

	// TTLMultiplier is how many windows a record outlives its start.
	// Default: 2
	TTLMultiplier int

	// Schedule is a cron expression or descriptor for scheduled sweeps.
	// Empty disables the scheduler; Sweep can still be called directly.
	Schedule string
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() *Config {
	return &Config{
		Namespaces:    []quota.Namespace{quota.NamespaceGuest},
		TTLMultiplier: 2,
		Schedule:      "@every 1h",
	}
}

// Sweeper removes expired quota records from the engine's store.
type Sweeper struct {
	engine    *quota.Engine
	config    *Config
	metrics   *quota.Metrics
	logger    *slog.Logger
	scheduler *Scheduler
}

// NewSweeper creates a sweeper for the engine's store. The window is read
// from the engine on every sweep so reloaded limits apply immediately.
// metrics may be nil.
func NewSweeper(engine *quota.Engine, config *Config, metrics *quota.Metrics) *Sweeper {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Namespaces) == 0 {
		config.Namespaces = []quota.Namespace{quota.NamespaceGuest}
	}
	if config.TTLMultiplier <= 0 {
		config.TTLMultiplier = 2
	}

	s := &Sweeper{
		engine:  engine,
		config:  config,
		metrics: metrics,
		logger:  slog.Default().With("component", "quota.retention"),
	}
	s.scheduler = NewScheduler(s)
	return s
}

// Result reports what one sweep removed.
type Result struct {
	// Cutoff is the window start before which records were deleted.
	Cutoff time.Time

	// Deleted counts removed records per namespace.
	Deleted map[quota.Namespace]int
}

// Total returns the number of records deleted across namespaces.
func (r Result) Total() int {
	total := 0
	for _, n := range r.Deleted {
		total += n
	}
	return total
}

// Sweep deletes records older than TTLMultiplier windows in every configured
// namespace. A failing namespace does not stop the others; all failures are
// returned joined.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	limits := s.engine.Limits()
	ttl := time.Duration(s.config.TTLMultiplier) * limits.Window
	cutoff := s.engine.Now().Add(-ttl)

	result := Result{
		Cutoff:  cutoff,
		Deleted: make(map[quota.Namespace]int, len(s.config.Namespaces)),
	}

	var errs []error
	for _, ns := range s.config.Namespaces {
		deleted, err := s.engine.Store().Cleanup(ctx, ns, cutoff)
		result.Deleted[ns] = deleted
		s.metrics.RecordSwept(ns, deleted)

		if err != nil {
			s.metrics.RecordStoreError("sweep")
			errs = append(errs, fmt.Errorf("sweep %s: %w", ns, err))
			continue
		}

		s.logger.Debug("swept namespace",
			"namespace", ns,
			"deleted_count", deleted,
			"cutoff", cutoff,
		)
	}

	if total := result.Total(); total > 0 {
		s.logger.Info("expired quota records swept",
			"total_deleted", total,
			"ttl", ttl.String(),
		)
	}

	return result, errors.Join(errs...)
}

// Start begins scheduled sweeping.
func (s *Sweeper) Start(ctx context.Context) error {
	return s.scheduler.Start(ctx)
}

// Stop stops scheduled sweeping and waits for a running sweep.
func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}

// NextSweep returns the next scheduled sweep time, or nil if not scheduled.
func (s *Sweeper) NextSweep() *time.Time {
	return s.scheduler.NextRun()
}
