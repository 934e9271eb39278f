// Package tracing configures OpenTelemetry for tollgate.
//
// New installs a global tracer provider exporting over OTLP/gRPC when
// tracing is enabled, and leaves the no-op provider in place otherwise. The
// quota engine and HTTP server obtain tracers through otel.Tracer, so
// neither depends on this package.
//
// Trace context arriving from clients is extracted by HTTPMiddleware and
// forwarded to the upstream analysis service with Inject.
package tracing
