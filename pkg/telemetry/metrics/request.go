package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RequestMetrics tracks HTTP traffic through the gateway.
//
// Metrics:
//   - tollgate_http_requests_total: requests by route, method and status code
//   - tollgate_http_request_duration_seconds: end to end latency by route
//   - tollgate_http_requests_in_flight: requests currently being served
//   - tollgate_upstream_requests_total: protected operations by outcome
//   - tollgate_upstream_duration_seconds: upstream latency
//   - tollgate_gate_denials_total: requests refused with 429 by namespace
type RequestMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	inFlight         prometheus.Gauge
	upstreamTotal    *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
	denials          *prometheus.CounterVec
}

// NewRequestMetrics registers request metrics with reg.
func NewRequestMetrics(reg prometheus.Registerer) *RequestMetrics {
	factory := promauto.With(reg)

	return &RequestMetrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"route", "method", "code"},
		),

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"route"},
		),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tollgate_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		}),

		upstreamTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_upstream_requests_total",
				Help: "Total number of protected operations by outcome",
			},
			[]string{"outcome"},
		),

		upstreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "tollgate_upstream_duration_seconds",
			Help: "Duration of upstream analysis calls in seconds",
			// Analysis calls are LLM-bound: 100ms to 2min.
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		denials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_gate_denials_total",
				Help: "Total number of requests refused because the quota was exhausted",
			},
			[]string{"namespace"},
		),
	}
}

// RecordRequest records a completed HTTP request.
func (rm *RequestMetrics) RecordRequest(route, method string, code int, duration time.Duration) {
	if rm == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	rm.requestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	rm.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func (rm *RequestMetrics) TrackInFlight() func() {
	if rm == nil {
		return func() {}
	}
	rm.inFlight.Inc()
	return rm.inFlight.Dec
}

// Upstream outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// RecordUpstream records a protected operation and how it ended.
func (rm *RequestMetrics) RecordUpstream(outcome string, duration time.Duration) {
	if rm == nil {
		return
	}
	rm.upstreamTotal.WithLabelValues(outcome).Inc()
	rm.upstreamDuration.Observe(duration.Seconds())
}

// RecordDenial records a 429 for a namespace.
func (rm *RequestMetrics) RecordDenial(namespace string) {
	if rm == nil {
		return
	}
	rm.denials.WithLabelValues(namespace).Inc()
}
