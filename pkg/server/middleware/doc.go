// Package middleware holds the HTTP middleware shared by every tollgate
// route: request IDs, request logging with Prometheus accounting, and
// panic recovery.
//
// The server installs them on its chi router, outermost first:
//
//	Recovery → RequestID → tracing.HTTPMiddleware → Logging → handler
//
// Logging must run inside the router so the matched route pattern is known
// when the request completes.
package middleware
