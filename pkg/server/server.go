package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/identity"
	"mercator-hq/tollgate/pkg/quota"
	"mercator-hq/tollgate/pkg/server/middleware"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

// Options wires the server's collaborators.
type Options struct {
	// Config is the full configuration. Server, Upstream, Quota and
	// Telemetry.Metrics are read.
	Config *config.Config

	Engine   *quota.Engine
	Resolver *identity.Resolver

	// Health is optional; a checker with a quota store probe is created
	// when nil.
	Health *health.Checker

	// Metrics is optional; nil disables request metrics and /metrics.
	Metrics *metrics.Collector

	// TLS terminates TLS on the listener when non-nil.
	TLS *tls.Config

	Version health.VersionInfo
	Logger  *slog.Logger
}

// Server is the usage-gating HTTP server.
type Server struct {
	config       config.ServerConfig
	tlsConfig    *tls.Config
	handler      http.Handler
	logger       *slog.Logger
	httpServer   *http.Server
	listener     net.Listener
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New builds the server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("quota engine is required")
	}
	if opts.Resolver == nil {
		opts.Resolver = identity.NewResolver(nil, opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Health == nil {
		opts.Health = health.New(0)
		opts.Health.RegisterAdvisoryCheck("quota_store", opts.Engine.Store().Ping)
	}

	var requestMetrics *metrics.RequestMetrics
	if opts.Metrics != nil {
		requestMetrics = opts.Metrics.RequestMetrics
	}

	upstream, err := NewUpstream(opts.Config.Upstream.URL, opts.Config.Upstream.Timeout, requestMetrics, opts.Logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:       opts.Config.Server,
		tlsConfig:    opts.TLS,
		logger:       opts.Logger.With("component", "server"),
		shutdownChan: make(chan struct{}),
	}
	s.handler = setupRoutes(opts, upstream, requestMetrics)
	return s, nil
}

// setupRoutes configures the router and middleware chain.
func setupRoutes(opts Options, upstream http.Handler, m *metrics.RequestMetrics) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recovery(opts.Logger),
		middleware.RequestID,
		tracing.HTTPMiddleware,
		middleware.Logging(opts.Logger, m),
	)

	r.Get("/health", opts.Health.LivenessHandler())
	r.Get("/ready", opts.Health.ReadinessHandler())
	r.Get("/version", health.VersionHandler(opts.Version))
	if opts.Metrics != nil && opts.Config.Telemetry.Metrics.Enabled {
		r.Handle(opts.Config.Telemetry.Metrics.Path, opts.Metrics.Handler())
	}

	gate := NewGate(opts.Engine, m, opts.Logger)
	r.Route("/v1", func(r chi.Router) {
		r.Use(identity.Middleware(opts.Resolver, opts.Config.Quota.FingerprintHeader))

		r.With(gate.Middleware).Post("/analyze", upstream.ServeHTTP)
		r.Get("/usage", usageHandler(opts.Engine))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
	})

	return r
}

// Start listens on the configured address and serves until ctx is
// cancelled, Shutdown is called, or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", ln.Addr().String(), "tls", s.tlsConfig != nil)

		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	case <-s.shutdownChan:
		return nil
	}
}

// Shutdown gracefully stops the server, waiting up to the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		close(s.shutdownChan)

		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}
