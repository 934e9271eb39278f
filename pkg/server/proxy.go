package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

type upstreamStartKey struct{}

// Upstream forwards the protected operation to the analysis service.
type Upstream struct {
	target  *url.URL
	timeout time.Duration
	proxy   *httputil.ReverseProxy
	metrics *metrics.RequestMetrics
	logger  *slog.Logger
}

// NewUpstream creates a reverse proxy to rawURL. Requests are sent to that
// exact URL; only the incoming query string is carried over. A zero timeout
// means no limit beyond the client's own.
func NewUpstream(rawURL string, timeout time.Duration, m *metrics.RequestMetrics, logger *slog.Logger) (*Upstream, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: must be absolute", rawURL)
	}
	if logger == nil {
		logger = slog.Default()
	}

	u := &Upstream{
		target:  target,
		timeout: timeout,
		metrics: m,
		logger:  logger.With("component", "server.upstream"),
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	u.proxy = &httputil.ReverseProxy{
		Rewrite:        u.rewrite,
		Transport:      transport,
		FlushInterval:  -1,
		ModifyResponse: u.modifyResponse,
		ErrorHandler:   u.handleError,
	}
	return u, nil
}

// ServeHTTP implements http.Handler.
func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, upstreamStartKey{}, time.Now())

	u.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func (u *Upstream) rewrite(pr *httputil.ProxyRequest) {
	out := pr.Out.URL
	out.Scheme = u.target.Scheme
	out.Host = u.target.Host
	out.Path = u.target.Path
	out.RawPath = u.target.RawPath
	if u.target.RawQuery != "" && pr.In.URL.RawQuery != "" {
		out.RawQuery = u.target.RawQuery + "&" + pr.In.URL.RawQuery
	} else if u.target.RawQuery != "" {
		out.RawQuery = u.target.RawQuery
	}
	pr.Out.Host = u.target.Host

	pr.SetXForwarded()
	tracing.Inject(pr.Out.Context(), pr.Out.Header)
}

func (u *Upstream) modifyResponse(resp *http.Response) error {
	outcome := metrics.OutcomeSuccess
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = metrics.OutcomeFailed
		u.logger.WarnContext(resp.Request.Context(), "upstream answered with an error",
			"status", resp.StatusCode,
		)
	}
	u.metrics.RecordUpstream(outcome, elapsed(resp.Request.Context()))
	return nil
}

func (u *Upstream) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	duration := elapsed(ctx)

	switch {
	case errors.Is(err, context.Canceled):
		u.metrics.RecordUpstream(metrics.OutcomeCanceled, duration)
		u.logger.InfoContext(ctx, "client went away during upstream call")
		// 499: client closed request.
		w.WriteHeader(499)

	case errors.Is(err, context.DeadlineExceeded):
		u.metrics.RecordUpstream(metrics.OutcomeError, duration)
		u.logger.ErrorContext(ctx, "upstream call timed out", "timeout", u.timeout)
		writeError(w, http.StatusGatewayTimeout, "The analysis service did not answer in time.")

	default:
		u.metrics.RecordUpstream(metrics.OutcomeError, duration)
		u.logger.ErrorContext(ctx, "upstream call failed", "error", err)
		writeError(w, http.StatusBadGateway, "The analysis service is unavailable.")
	}
}

func elapsed(ctx context.Context) time.Duration {
	if start, ok := ctx.Value(upstreamStartKey{}).(time.Time); ok {
		return time.Since(start)
	}
	return 0
}
