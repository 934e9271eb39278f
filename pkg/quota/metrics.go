package quota

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the quota engine. Labels never carry
// identity keys; fingerprints are unbounded.
//
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	checks      *prometheus.CounterVec
	commits     *prometheus.CounterVec
	releases    *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	swept       *prometheus.CounterVec
}

// NewMetrics registers the quota collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_quota_checks_total",
				Help: "Total number of quota evaluations",
			},
			[]string{"namespace", "result"},
		),

		commits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_quota_commits_total",
				Help: "Total number of usage commits",
			},
			[]string{"namespace", "result"},
		),

		releases: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_quota_releases_total",
				Help: "Total number of strict-mode reservations given back",
			},
			[]string{"namespace"},
		),

		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_quota_store_errors_total",
				Help: "Total number of quota store failures absorbed by the failure policy",
			},
			[]string{"operation"},
		),

		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_quota_operation_duration_seconds",
				Help:    "Duration of quota operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // 100µs to 1.6s
			},
			[]string{"operation"},
		),

		swept: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_quota_swept_records_total",
				Help: "Total number of expired records deleted by the sweeper",
			},
			[]string{"namespace"},
		),
	}
}

// RecordCheck records the outcome of an evaluation.
func (m *Metrics) RecordCheck(ns Namespace, d Decision) {
	if m == nil {
		return
	}
	result := "allowed"
	switch {
	case d.FailedOpen:
		result = "failed_open"
	case !d.Allowed:
		result = "denied"
	}
	m.checks.WithLabelValues(string(ns), result).Inc()
}

// RecordCommit records a usage commit.
func (m *Metrics) RecordCommit(ns Namespace, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "dropped"
	}
	m.commits.WithLabelValues(string(ns), result).Inc()
}

// RecordRelease records a released reservation.
func (m *Metrics) RecordRelease(ns Namespace) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(string(ns)).Inc()
}

// RecordStoreError records a store failure for an operation.
func (m *Metrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation).Inc()
}

// ObserveDuration records how long an operation took.
func (m *Metrics) ObserveDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordSwept records records deleted by the sweeper.
func (m *Metrics) RecordSwept(ns Namespace, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.WithLabelValues(string(ns)).Add(float64(n))
}
