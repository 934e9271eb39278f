// Package identity resolves the quota identity of an inbound request.
//
// A request carrying a verifiable bearer token is attributed to the token's
// subject as quota.User(subject). Everything else is a guest keyed by the
// client-supplied fingerprint header, or by the shared "unknown" bucket when
// no fingerprint was sent. Resolution never fails: an invalid or expired
// token degrades to the guest identity instead of rejecting the request.
//
// # Usage
//
//	verifier, err := identity.NewJWTVerifier(ctx, identity.JWTConfig{
//	    Secret: os.Getenv("TOLLGATE_JWT_SECRET"),
//	})
//	if err != nil {
//	    return err
//	}
//
//	resolver := identity.NewResolver(verifier, logger)
//	r.Use(identity.Middleware(resolver, "X-Fingerprint"))
//
//	// Inside a handler:
//	res, _ := identity.FromContext(r.Context())
package identity
