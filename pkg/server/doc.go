// Package server provides the tollgate HTTP server.
//
// # Routes
//
//	POST /v1/analyze   quota gate, then reverse proxy to the analysis service
//	GET  /v1/usage     the caller's usage in the current window
//	GET  /health       liveness
//	GET  /ready        readiness (quota store ping, advisory)
//	GET  /version      build information
//	GET  /metrics      Prometheus exposition (path configurable)
//
// Both /v1 routes resolve the caller with identity.Middleware first: a
// verified bearer token selects the user namespace, anything else the guest
// fingerprint sent in the configured header.
//
// # Gating
//
// A refused request gets 429 with a Retry-After header and a JSON body:
//
//	{"error": "Usage limit reached. Try again in 3 hours.", "retry_after": 10800}
//
// An admitted request is charged only when the analysis service answered
// 2xx and the client did not disconnect first. Every gated response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
//
// # Basic Usage
//
//	srv, err := server.New(server.Options{
//	    Config:   cfg,
//	    Engine:   engine,
//	    Resolver: resolver,
//	    Metrics:  collector,
//	    Logger:   logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx) // returns after ctx is cancelled and requests drain
package server
