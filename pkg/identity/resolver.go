package identity

import (
	"context"
	"log/slog"
	"strings"

	"mercator-hq/tollgate/pkg/quota"
)

const (
	// UnknownFingerprint is the shared guest bucket for clients that send no
	// fingerprint.
	UnknownFingerprint = "unknown"

	// GuestLabel is the display label of every guest.
	GuestLabel = "guest"

	// DefaultFingerprintHeader carries the client fingerprint.
	DefaultFingerprintHeader = "X-Fingerprint"
)

// Resolution is the outcome of resolving one request.
type Resolution struct {
	Identity quota.Identity

	// Label is the username for users and "guest" otherwise.
	Label string

	// Authenticated reports whether a bearer token was verified.
	Authenticated bool
}

// Resolver maps request credentials to a quota identity.
type Resolver struct {
	verifier Verifier
	logger   *slog.Logger
}

// NewResolver creates a resolver. A nil verifier treats every request as a
// guest.
func NewResolver(verifier Verifier, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		verifier: verifier,
		logger:   logger.With("component", "identity.resolver"),
	}
}

// Resolve returns the identity for an Authorization header value and a
// fingerprint header value. Either may be empty. A verified bearer token
// wins over the fingerprint; anything else resolves to a guest.
func (r *Resolver) Resolve(ctx context.Context, authorization, fingerprint string) Resolution {
	if token, ok := bearerToken(authorization); ok && r.verifier != nil {
		claims, err := r.verifier.Verify(ctx, token)
		if err == nil {
			return Resolution{
				Identity:      quota.User(claims.Subject),
				Label:         claims.Label,
				Authenticated: true,
			}
		}

		r.logger.DebugContext(ctx, "bearer token rejected, resolving as guest",
			"error", err,
		)
	}

	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		fingerprint = UnknownFingerprint
	}

	return Resolution{
		Identity: quota.Guest(fingerprint),
		Label:    GuestLabel,
	}
}

// bearerToken extracts the token from "Bearer <token>". The scheme is
// matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}
