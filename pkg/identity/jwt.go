package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claims are the verified facts about a bearer token.
type Claims struct {
	// Subject is the account's primary key.
	Subject string

	// Label is the human-readable name shown in usage summaries.
	Label string
}

// Verifier checks a bearer token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// JWTConfig configures a JWTVerifier. Exactly one of Secret and JWKSURL must
// be set.
type JWTConfig struct {
	// Secret verifies HS256-signed tokens.
	Secret string

	// JWKSURL is fetched and cached to verify asymmetrically signed tokens.
	JWKSURL string

	// Issuer and Audience are checked when non-empty.
	Issuer   string
	Audience string

	// NameClaim holds the display label. Default: "name"
	NameClaim string

	// RefreshInterval is the minimum JWKS refresh interval.
	// Default: 15 minutes
	RefreshInterval time.Duration

	// AcceptableSkew tolerates clock drift on exp/nbf/iat.
	// Default: 30 seconds
	AcceptableSkew time.Duration
}

// ErrNoSubject is returned for tokens without a "sub" claim.
var ErrNoSubject = errors.New("token has no subject")

// JWTVerifier validates JWT bearer tokens with lestrrat-go/jwx.
type JWTVerifier struct {
	secret  []byte
	jwksURL string
	cache   *jwk.Cache

	issuer    string
	audience  string
	nameClaim string
	skew      time.Duration
}

// NewJWTVerifier creates a verifier. With a JWKS URL the key set is fetched
// once up front so misconfiguration surfaces at startup, then refreshed in
// the background for the lifetime of ctx.
func NewJWTVerifier(ctx context.Context, cfg JWTConfig) (*JWTVerifier, error) {
	if (cfg.Secret == "") == (cfg.JWKSURL == "") {
		return nil, fmt.Errorf("exactly one of jwt secret and jwks url must be set")
	}
	if cfg.NameClaim == "" {
		cfg.NameClaim = "name"
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}
	if cfg.AcceptableSkew <= 0 {
		cfg.AcceptableSkew = 30 * time.Second
	}

	v := &JWTVerifier{
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		nameClaim: cfg.NameClaim,
		skew:      cfg.AcceptableSkew,
	}

	if cfg.Secret != "" {
		v.secret = []byte(cfg.Secret)
		return v, nil
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	v.jwksURL = cfg.JWKSURL
	v.cache = cache
	return v, nil
}

// Verify validates signature, expiry and the configured issuer/audience.
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParseOption{
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.skew),
	}

	if v.cache != nil {
		keyset, err := v.cache.Get(ctx, v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}
		opts = append(opts, jwt.WithKeySet(keyset))
	} else {
		opts = append(opts, jwt.WithKey(jwa.HS256, v.secret))
	}

	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	subject := token.Subject()
	if subject == "" {
		return nil, ErrNoSubject
	}

	return &Claims{
		Subject: subject,
		Label:   v.label(token),
	}, nil
}

// label picks the display name: the configured claim, then
// preferred_username, then the subject.
func (v *JWTVerifier) label(token jwt.Token) string {
	for _, claim := range []string{v.nameClaim, "preferred_username"} {
		if value, ok := token.Get(claim); ok {
			if s, ok := value.(string); ok && s != "" {
				return s
			}
		}
	}
	return token.Subject()
}
