package identity

import (
	"context"
	"net/http"
)

type contextKey string

const resolutionContextKey contextKey = "tollgate_identity"

// Middleware resolves every request and stores the Resolution in its
// context. It never rejects a request.
func Middleware(resolver *Resolver, fingerprintHeader string) func(http.Handler) http.Handler {
	if fingerprintHeader == "" {
		fingerprintHeader = DefaultFingerprintHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := resolver.Resolve(r.Context(),
				r.Header.Get("Authorization"),
				r.Header.Get(fingerprintHeader),
			)
			next.ServeHTTP(w, r.WithContext(WithResolution(r.Context(), res)))
		})
	}
}

// WithResolution returns a context carrying res.
func WithResolution(ctx context.Context, res Resolution) context.Context {
	return context.WithValue(ctx, resolutionContextKey, res)
}

// FromContext returns the Resolution stored by Middleware.
func FromContext(ctx context.Context) (Resolution, bool) {
	res, ok := ctx.Value(resolutionContextKey).(Resolution)
	return res, ok
}
