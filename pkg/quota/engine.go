package quota

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "mercator-hq/tollgate/pkg/quota"

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Limits is the initial policy. It is normalized on construction.
	Limits Limits

	// Mode selects optimistic or strict gating. Default: optimistic.
	Mode Mode

	// Logger receives component logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *Metrics

	// Tracer is optional; defaults to the global OpenTelemetry provider.
	Tracer trace.Tracer

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}

// Engine applies the failure policy around the Evaluator and Committer and
// supplies them with the current limits and clock.
//
// Engine is safe for concurrent use. It holds no per-identity state.
type Engine struct {
	store     Store
	evaluator *Evaluator
	committer *Committer

	limits atomic.Pointer[Limits]
	mode   Mode
	clock  func() time.Time

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewEngine creates an Engine over the given store.
func NewEngine(store Store, cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeOptimistic
	}

	e := &Engine{
		store:     store,
		evaluator: NewEvaluator(store, logger),
		committer: NewCommitter(store, logger),
		mode:      mode,
		clock:     clock,
		logger:    logger.With("component", "quota.engine"),
		metrics:   cfg.Metrics,
		tracer:    tracer,
	}

	limits := cfg.Limits.Normalize(e.logger)
	e.limits.Store(&limits)
	return e
}

// Limits returns the policy currently in effect.
func (e *Engine) Limits() Limits {
	return *e.limits.Load()
}

// SetLimits swaps the policy. Existing records pick up the new ceilings the
// next time they are touched.
func (e *Engine) SetLimits(limits Limits) {
	limits = limits.Normalize(e.logger)
	previous := e.limits.Swap(&limits)

	if previous != nil && *previous != limits {
		e.logger.Info("quota limits updated",
			"window", limits.Window.String(),
			"guest_max_requests", limits.GuestMaxRequests,
			"user_max_requests", limits.UserMaxRequests,
			"previous_guest_max_requests", previous.GuestMaxRequests,
			"previous_user_max_requests", previous.UserMaxRequests,
		)
	}
}

// Mode returns the gating mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Store returns the underlying store.
func (e *Engine) Store() Store {
	return e.store
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.clock()
}

// CheckQuota evaluates id without consuming anything. If the store cannot be
// read the request is admitted and a warning is logged.
func (e *Engine) CheckQuota(ctx context.Context, id Identity) Decision {
	decision := e.evaluate(ctx, id, "check")
	e.metrics.RecordCheck(id.Namespace, decision)
	return decision
}

// Usage evaluates id for display purposes. It behaves like CheckQuota but is
// not counted as a gate decision.
func (e *Engine) Usage(ctx context.Context, id Identity) Decision {
	return e.evaluate(ctx, id, "usage")
}

func (e *Engine) evaluate(ctx context.Context, id Identity, operation string) Decision {
	ctx, span := e.tracer.Start(ctx, "quota."+operation, trace.WithAttributes(
		attribute.String("quota.namespace", string(id.Namespace)),
	))
	defer span.End()

	start := time.Now()
	defer func() { e.metrics.ObserveDuration(operation, time.Since(start)) }()

	decision, err := e.evaluator.Evaluate(ctx, id, e.Limits(), e.clock())
	if err != nil {
		decision.FailedOpen = true
		e.metrics.RecordStoreError(operation)
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
		e.logger.WarnContext(ctx, "quota store unavailable, failing open",
			"identity", id.String(),
			"operation", operation,
			"error", err,
		)
	}

	span.SetAttributes(
		attribute.Bool("quota.allowed", decision.Allowed),
		attribute.Int64("quota.used", decision.Used),
		attribute.Int64("quota.limit", decision.Limit),
	)
	return decision
}

// RecordUsage commits one unit for id. It must only be called after the
// protected operation succeeded. A store failure drops the increment and is
// logged; it is never reported to the caller.
func (e *Engine) RecordUsage(ctx context.Context, id Identity) {
	ctx, span := e.tracer.Start(ctx, "quota.record", trace.WithAttributes(
		attribute.String("quota.namespace", string(id.Namespace)),
	))
	defer span.End()

	start := time.Now()
	defer func() { e.metrics.ObserveDuration("record", time.Since(start)) }()

	record, err := e.committer.Commit(ctx, id, e.Limits(), e.clock())
	if err != nil {
		e.metrics.RecordCommit(id.Namespace, false)
		e.metrics.RecordStoreError("record")
		span.RecordError(err)
		span.SetStatus(codes.Error, "increment dropped")
		e.logger.ErrorContext(ctx, "failed to record quota usage, increment dropped",
			"identity", id.String(),
			"error", err,
		)
		return
	}

	e.metrics.RecordCommit(id.Namespace, true)
	span.SetAttributes(
		attribute.Int64("quota.used", record.Used),
		attribute.Int64("quota.limit", record.Limit),
	)
}

// Acquire gates one protected operation according to the engine's mode. A
// nil Ticket means the request was denied. Otherwise exactly one of
// Ticket.Commit or Ticket.Abort must be called once the operation finished.
func (e *Engine) Acquire(ctx context.Context, id Identity) (*Ticket, Decision) {
	if e.mode != ModeStrict {
		decision := e.CheckQuota(ctx, id)
		if !decision.Allowed {
			return nil, decision
		}
		return &Ticket{engine: e, identity: id}, decision
	}

	ctx, span := e.tracer.Start(ctx, "quota.reserve", trace.WithAttributes(
		attribute.String("quota.namespace", string(id.Namespace)),
	))
	defer span.End()

	start := time.Now()
	defer func() { e.metrics.ObserveDuration("reserve", time.Since(start)) }()

	reservation, decision, err := e.committer.Reserve(ctx, id, e.Limits(), e.clock())
	if err != nil {
		decision.FailedOpen = true
		e.metrics.RecordStoreError("reserve")
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
		e.logger.WarnContext(ctx, "quota store unavailable, failing open",
			"identity", id.String(),
			"error", err,
		)
	}

	e.metrics.RecordCheck(id.Namespace, decision)
	span.SetAttributes(attribute.Bool("quota.allowed", decision.Allowed))
	if !decision.Allowed {
		return nil, decision
	}
	return &Ticket{engine: e, identity: id, reservation: reservation}, decision
}

// Ticket is an admitted protected operation awaiting its outcome.
type Ticket struct {
	engine      *Engine
	identity    Identity
	reservation *Reservation
	once        sync.Once
}

// Identity returns the identity the ticket was issued to.
func (t *Ticket) Identity() Identity {
	return t.identity
}

// Commit charges the operation. In strict mode the unit was already taken by
// the reservation and nothing further is written.
func (t *Ticket) Commit(ctx context.Context) {
	t.once.Do(func() {
		if t.reservation != nil {
			t.engine.metrics.RecordCommit(t.identity.Namespace, true)
			return
		}
		t.engine.RecordUsage(ctx, t.identity)
	})
}

// Abort discards the operation. In strict mode the reserved unit is given
// back; the release runs even if ctx was cancelled.
func (t *Ticket) Abort(ctx context.Context) {
	t.once.Do(func() {
		if t.reservation == nil {
			return
		}

		e := t.engine
		ctx = context.WithoutCancel(ctx)
		if err := e.committer.Release(ctx, t.reservation); err != nil {
			e.metrics.RecordStoreError("release")
			e.logger.ErrorContext(ctx, "failed to release quota reservation",
				"identity", t.identity.String(),
				"error", err,
			)
			return
		}
		e.metrics.RecordRelease(t.identity.Namespace)
	})
}
