package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/tollgate/pkg/identity"
	"mercator-hq/tollgate/pkg/quota"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// Rate limit headers set on every gated response.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// Gate admits or refuses requests to the protected operation.
//
// An admitted request is charged only when the wrapped handler answered 2xx
// and the client was still connected when it finished. Every other outcome,
// including a handler that panics, aborts the charge. In strict mode that
// gives the reserved unit back.
type Gate struct {
	engine  *quota.Engine
	metrics *metrics.RequestMetrics
	logger  *slog.Logger
}

// NewGate creates a gate over engine. m may be nil.
func NewGate(engine *quota.Engine, m *metrics.RequestMetrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		engine:  engine,
		metrics: m,
		logger:  logger.With("component", "server.gate"),
	}
}

// Middleware returns the gate as chi-compatible middleware. It must run
// after identity.Middleware.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := resolutionFrom(r.Context())
		ctx := logging.WithIdentity(r.Context(), res.Identity.String())
		r = r.WithContext(ctx)

		ticket, decision := g.engine.Acquire(ctx, res.Identity)
		now := g.engine.Now()

		if ticket == nil {
			g.deny(w, r, res, decision, now)
			return
		}

		setRateLimitHeaders(w.Header(), decision.Limit, decision.Remaining()-1, decision.ResetTime)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			// The reverse proxy panics with http.ErrAbortHandler when the
			// upstream is cut off mid-response. That operation never completed.
			if p := recover(); p != nil {
				g.logger.WarnContext(ctx, "protected operation interrupted, not charged",
					"status", rec.status,
				)
				ticket.Abort(context.WithoutCancel(ctx))
				panic(p)
			}
		}()
		next.ServeHTTP(rec, r)

		// The outcome write must land even though the request is over.
		outcomeCtx := context.WithoutCancel(ctx)
		if rec.status >= 200 && rec.status < 300 && ctx.Err() == nil {
			ticket.Commit(outcomeCtx)
			return
		}

		g.logger.DebugContext(ctx, "protected operation not charged",
			"status", rec.status,
			"cancelled", ctx.Err() != nil,
		)
		ticket.Abort(outcomeCtx)
	})
}

func (g *Gate) deny(w http.ResponseWriter, r *http.Request, res identity.Resolution, decision quota.Decision, now time.Time) {
	wait := decision.RetryAfter(now)
	retryAfter := int64(math.Ceil(wait.Seconds()))

	g.metrics.RecordDenial(string(res.Identity.Namespace))
	g.logger.InfoContext(r.Context(), "usage limit reached",
		"used", decision.Used,
		"limit", decision.Limit,
		"reset_time", decision.ResetTime,
	)

	h := w.Header()
	setRateLimitHeaders(h, decision.Limit, 0, decision.ResetTime)
	h.Set(HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))

	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      fmt.Sprintf("Usage limit reached. Try again in %s.", quota.FormatWait(wait)),
		RetryAfter: retryAfter,
	})
}

func setRateLimitHeaders(h http.Header, limit, remaining int64, reset time.Time) {
	if remaining < 0 {
		remaining = 0
	}
	h.Set(HeaderRateLimitLimit, strconv.FormatInt(limit, 10))
	h.Set(HeaderRateLimitRemaining, strconv.FormatInt(remaining, 10))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(reset.Unix(), 10))
}

// resolutionFrom returns the request's resolution, or the shared unknown
// guest when identity.Middleware did not run.
func resolutionFrom(ctx context.Context) identity.Resolution {
	if res, ok := identity.FromContext(ctx); ok {
		return res
	}
	return identity.Resolution{
		Identity: quota.Guest(identity.UnknownFingerprint),
		Label:    identity.GuestLabel,
	}
}

// statusRecorder captures the status code written by the protected handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
