package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const testSecret = "test-secret-at-least-32-bytes-long!!"

// newToken builds an unsigned token for subject with a one hour lifetime.
func newToken(t testing.TB, subject string, claims map[string]any) jwt.Token {
	t.Helper()

	token := jwt.New()
	set := map[string]any{
		jwt.IssuedAtKey:   time.Now(),
		jwt.ExpirationKey: time.Now().Add(time.Hour),
	}
	if subject != "" {
		set[jwt.SubjectKey] = subject
	}
	for k, v := range claims {
		set[k] = v
	}
	for k, v := range set {
		if err := token.Set(k, v); err != nil {
			t.Fatalf("Failed to set claim %s: %v", k, err)
		}
	}
	return token
}

func signHS256(t testing.TB, token jwt.Token, secret string) string {
	t.Helper()

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(secret)))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return string(signed)
}

// newJWKSServer serves a fresh RSA public key and returns the private key.
func newJWKSServer(t testing.TB) (*httptest.Server, jwk.Key) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	private, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("Failed to wrap private key: %v", err)
	}
	public, err := jwk.FromRaw(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("Failed to wrap public key: %v", err)
	}
	for _, key := range []jwk.Key{private, public} {
		if err := key.Set(jwk.KeyIDKey, "test-key-id"); err != nil {
			t.Fatalf("Failed to set kid: %v", err)
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
			t.Fatalf("Failed to set alg: %v", err)
		}
	}

	keyset := jwk.NewSet()
	if err := keyset.AddKey(public); err != nil {
		t.Fatalf("Failed to build key set: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	t.Cleanup(server.Close)

	return server, private
}
