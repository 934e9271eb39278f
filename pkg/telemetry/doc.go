// Package telemetry groups the observability packages used by tollgate.
//
// # Components
//
//   - logging: slog construction with request-scoped attributes and
//     redaction of credentials
//   - metrics: the Prometheus registry plus HTTP request collectors
//   - tracing: OpenTelemetry provider setup and W3C context propagation
//   - health: liveness, readiness and version endpoints
//
// Quota-specific collectors live next to the engine in pkg/quota.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	if err != nil {
//		return err
//	}
//
//	collector := metrics.NewCollector(nil)
//	checker := health.New(0)
//	checker.RegisterAdvisoryCheck("quota_store", store.Ping)
package telemetry
