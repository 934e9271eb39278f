package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/tollgate/internal/testcert"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/identity"
	"mercator-hq/tollgate/pkg/quota"
	"mercator-hq/tollgate/pkg/quota/storage"
	sectls "mercator-hq/tollgate/pkg/security/tls"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

const testSecret = "server-test-secret-at-least-32-bytes"

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeUpstream answers every call with status and counts the calls. With
// truncate set it promises a body it never finishes and drops the connection.
type fakeUpstream struct {
	*httptest.Server
	calls    atomic.Int64
	status   atomic.Int64
	truncate atomic.Bool
	last     atomic.Pointer[http.Request]
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	f := &fakeUpstream{}
	f.status.Store(http.StatusOK)
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.last.Store(r.Clone(context.Background()))
		w.Header().Set("Content-Type", "application/json")
		if f.truncate.Load() {
			w.Header().Set("Content-Length", "1000")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, `{"resu`)
			w.(http.Flusher).Flush()
			if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
				conn.Close()
			}
			return
		}
		w.WriteHeader(int(f.status.Load()))
		_, _ = io.WriteString(w, `{"result":"ok"}`)
	}))
	t.Cleanup(f.Close)
	return f
}

type testEnv struct {
	handler  http.Handler
	store    *storage.MemoryBackend
	engine   *quota.Engine
	clock    *testClock
	upstream *fakeUpstream
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T, mode quota.Mode) *testEnv {
	t.Helper()

	upstream := newFakeUpstream(t)

	cfg := config.NewDefaultConfig()
	cfg.Upstream.URL = upstream.URL + "/v1/analyze"
	cfg.Quota.GuestMaxRequests = 2
	cfg.Quota.UserMaxRequests = 5
	cfg.Quota.Mode = string(mode)

	registry := prometheus.NewRegistry()
	clock := &testClock{now: epoch}
	store := storage.NewMemoryBackend()
	engine := quota.NewEngine(store, quota.EngineConfig{
		Limits:  cfg.Quota.Limits(),
		Mode:    mode,
		Logger:  logging.Discard(),
		Metrics: quota.NewMetrics(registry),
		Clock:   clock.Now,
	})

	verifier, err := identity.NewJWTVerifier(context.Background(), identity.JWTConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("failed to create verifier: %v", err)
	}

	srv, err := New(Options{
		Config:   cfg,
		Engine:   engine,
		Resolver: identity.NewResolver(verifier, logging.Discard()),
		Metrics:  metrics.NewCollector(registry),
		Version:  health.NewVersionInfo("test", "abc123", "now"),
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	return &testEnv{
		handler:  srv.Handler(),
		store:    store,
		engine:   engine,
		clock:    clock,
		upstream: upstream,
		registry: registry,
	}
}

func userToken(t *testing.T, subject, name string) string {
	t.Helper()

	token := jwt.New()
	for k, v := range map[string]any{
		jwt.SubjectKey:    subject,
		jwt.ExpirationKey: time.Now().Add(time.Hour),
		"name":            name,
	} {
		if err := token.Set(k, v); err != nil {
			t.Fatalf("failed to set claim %s: %v", k, err)
		}
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return string(signed)
}

func (e *testEnv) analyze(t *testing.T, fingerprint, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	if fingerprint != "" {
		req.Header.Set(identity.DefaultFingerprintHeader, fingerprint)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) usage(t *testing.T, fingerprint, token string) UsageResponse {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	if fingerprint != "" {
		req.Header.Set(identity.DefaultFingerprintHeader, fingerprint)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("usage: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp UsageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("usage: invalid JSON: %v", err)
	}
	return resp
}

func TestAnalyze_GuestLimit(t *testing.T) {
	for _, mode := range []quota.Mode{quota.ModeOptimistic, quota.ModeStrict} {
		t.Run(string(mode), func(t *testing.T) {
			env := newTestEnv(t, mode)

			for i := 1; i <= 2; i++ {
				w := env.analyze(t, "fp-1", "")
				if w.Code != http.StatusOK {
					t.Fatalf("request %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
				}
				if got := w.Header().Get(HeaderRateLimitRemaining); got != strconv.Itoa(2-i) {
					t.Errorf("request %d: expected remaining %d, got %s", i, 2-i, got)
				}
			}

			w := env.analyze(t, "fp-1", "")
			if w.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", w.Code)
			}
			if got := w.Header().Get(HeaderRetryAfter); got != strconv.Itoa(int(quota.DefaultWindow/time.Second)) {
				t.Errorf("expected Retry-After of a full window, got %s", got)
			}
			if got := w.Header().Get(HeaderRateLimitRemaining); got != "0" {
				t.Errorf("expected remaining 0, got %s", got)
			}

			var body ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if !strings.HasPrefix(body.Error, "Usage limit reached. Try again in ") {
				t.Errorf("unexpected error message %q", body.Error)
			}

			if got := env.upstream.calls.Load(); got != 2 {
				t.Errorf("expected 2 upstream calls, got %d", got)
			}

			// A different fingerprint has its own bucket.
			if w := env.analyze(t, "fp-2", ""); w.Code != http.StatusOK {
				t.Errorf("expected fresh guest to be admitted, got %d", w.Code)
			}
		})
	}
}

func TestAnalyze_WindowResets(t *testing.T) {
	env := newTestEnv(t, quota.ModeOptimistic)

	env.analyze(t, "fp-1", "")
	env.analyze(t, "fp-1", "")
	if w := env.analyze(t, "fp-1", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	env.clock.Advance(quota.DefaultWindow)

	if w := env.analyze(t, "fp-1", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 after the window closed, got %d", w.Code)
	}
	if got := env.usage(t, "fp-1", "").Used; got != 1 {
		t.Errorf("expected a fresh window with 1 use, got %d", got)
	}
}

func TestAnalyze_UpstreamFailureIsNotCharged(t *testing.T) {
	for _, mode := range []quota.Mode{quota.ModeOptimistic, quota.ModeStrict} {
		t.Run(string(mode), func(t *testing.T) {
			env := newTestEnv(t, mode)
			env.upstream.status.Store(http.StatusInternalServerError)

			for i := 0; i < 3; i++ {
				if w := env.analyze(t, "fp-1", ""); w.Code != http.StatusInternalServerError {
					t.Fatalf("expected upstream status to pass through, got %d", w.Code)
				}
			}

			if got := env.usage(t, "fp-1", "").Used; got != 0 {
				t.Errorf("expected failed operations to be free, got %d used", got)
			}
		})
	}
}

func TestAnalyze_UpstreamUnavailable(t *testing.T) {
	env := newTestEnv(t, quota.ModeStrict)
	env.upstream.Close()

	w := env.analyze(t, "fp-1", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if got := env.usage(t, "fp-1", "").Used; got != 0 {
		t.Errorf("expected reservation to be released, got %d used", got)
	}

	expected := `
# HELP tollgate_upstream_requests_total Total number of protected operations by outcome
# TYPE tollgate_upstream_requests_total counter
tollgate_upstream_requests_total{outcome="error"} 1
`
	if err := testutil.GatherAndCompare(env.registry, strings.NewReader(expected), "tollgate_upstream_requests_total"); err != nil {
		t.Error(err)
	}
}

func TestAnalyze_CancelledRequestIsNotCharged(t *testing.T) {
	env := newTestEnv(t, quota.ModeOptimistic)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(`{}`)).WithContext(ctx)
	req.Header.Set(identity.DefaultFingerprintHeader, "fp-1")
	env.handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := env.usage(t, "fp-1", "").Used; got != 0 {
		t.Errorf("expected cancelled request to be free, got %d used", got)
	}
}

func TestAnalyze_TruncatedUpstreamIsNotCharged(t *testing.T) {
	tests := []struct {
		mode         quota.Mode
		wantReleases string
	}{
		{quota.ModeOptimistic, ""},
		{quota.ModeStrict, `
# HELP tollgate_quota_releases_total Total number of strict-mode reservations given back
# TYPE tollgate_quota_releases_total counter
tollgate_quota_releases_total{namespace="guest"} 1
`},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			env := newTestEnv(t, tt.mode)
			env.upstream.truncate.Store(true)

			done := make(chan struct{}, 1)
			front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				defer func() { done <- struct{}{} }()
				env.handler.ServeHTTP(w, r)
			}))
			defer front.Close()

			req, err := http.NewRequest(http.MethodPost, front.URL+"/v1/analyze", strings.NewReader(`{"text":"hello"}`))
			if err != nil {
				t.Fatalf("failed to build request: %v", err)
			}
			req.Header.Set(identity.DefaultFingerprintHeader, "fp-1")

			resp, err := front.Client().Do(req)
			if err == nil {
				if _, err := io.ReadAll(resp.Body); err == nil {
					t.Error("expected the truncated body to fail")
				}
				resp.Body.Close()
			}

			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("front handler did not finish")
			}

			if got := env.usage(t, "fp-1", "").Used; got != 0 {
				t.Errorf("expected an interrupted operation to be free, got %d used", got)
			}
			if tt.wantReleases != "" {
				if err := testutil.GatherAndCompare(env.registry, strings.NewReader(tt.wantReleases), "tollgate_quota_releases_total"); err != nil {
					t.Error(err)
				}
			}
		})
	}
}

func TestGate_PanickingHandlerReleasesReservation(t *testing.T) {
	store := storage.NewMemoryBackend()
	engine := quota.NewEngine(store, quota.EngineConfig{
		Limits: quota.Limits{Window: time.Hour, GuestMaxRequests: 1, UserMaxRequests: 1},
		Mode:   quota.ModeStrict,
		Logger: logging.Discard(),
		Clock:  func() time.Time { return epoch },
	})
	gate := NewGate(engine, nil, logging.Discard())
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		panic(http.ErrAbortHandler)
	}))

	func() {
		defer func() {
			if p := recover(); p != http.ErrAbortHandler {
				t.Errorf("expected the panic to propagate, got %v", p)
			}
		}()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/analyze", nil))
	}()

	id := quota.Guest(identity.UnknownFingerprint)
	record, err := store.Load(context.Background(), id.Namespace, id.Key())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if record != nil && record.Used != 0 {
		t.Errorf("expected the reservation to be released, got %d used", record.Used)
	}
}

func TestAnalyze_AuthenticatedUser(t *testing.T) {
	env := newTestEnv(t, quota.ModeOptimistic)
	token := userToken(t, "42", "alice")

	for i := 0; i < 5; i++ {
		if w := env.analyze(t, "fp-1", token); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	if w := env.analyze(t, "fp-1", token); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the user limit, got %d", w.Code)
	}

	// The fingerprint sent alongside the token was never charged.
	if got := env.usage(t, "fp-1", "").Used; got != 0 {
		t.Errorf("expected guest bucket untouched, got %d", got)
	}

	record, err := env.store.Load(context.Background(), quota.NamespaceUser, "user:42")
	if err != nil || record == nil {
		t.Fatalf("expected user record, got %v, %v", record, err)
	}
	if record.Used != 5 {
		t.Errorf("expected 5 used, got %d", record.Used)
	}
}

func TestAnalyze_InvalidTokenFallsBackToGuest(t *testing.T) {
	env := newTestEnv(t, quota.ModeOptimistic)

	if w := env.analyze(t, "fp-1", "not-a-jwt"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := env.usage(t, "fp-1", "")
	if resp.Used != 1 || resp.LoggedIn {
		t.Errorf("expected one guest use, got %+v", resp)
	}
}

func TestAnalyze_ForwardsToUpstream(t *testing.T) {
	env := newTestEnv(t, quota.ModeOptimistic)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze?lang=en", strings.NewReader(`{}`))
	req.Header.Set(identity.DefaultFingerprintHeader, "fp-1")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Body.String() != `{"result":"ok"}` {
		t.Errorf("unexpected body %q", w.Body.String())
	}

	last := env.upstream.last.Load()
	if last == nil {
		t.Fatal("upstream was not called")
	}
	if last.URL.Path != "/v1/analyze" || last.URL.RawQuery != "lang=en" {
		t.Errorf("unexpected upstream URL %s", last.URL)
	}
	if last.Header.Get("X-Forwarded-For") == "" {
		t.Error("expected X-Forwarded-For to be set")
	}
}

func TestUsage(t *testing.T) {
	env := newTestEnv(t, quota.ModeOptimistic)
	token := userToken(t, "7", "bob")

	env.analyze(t, "", token)
	env.analyze(t, "", token)

	tests := []struct {
		name        string
		fingerprint string
		token       string
		want        UsageResponse
	}{
		{
			name:  "user",
			token: token,
			want:  UsageResponse{Label: "bob", LoggedIn: true, Used: 2, Limit: 5, Remaining: 3},
		},
		{
			name:        "fresh guest",
			fingerprint: "fp-9",
			want:        UsageResponse{Label: identity.GuestLabel, Used: 0, Limit: 2, Remaining: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := env.usage(t, tt.fingerprint, tt.token)
			if got.Label != tt.want.Label || got.LoggedIn != tt.want.LoggedIn ||
				got.Used != tt.want.Used || got.Limit != tt.want.Limit || got.Remaining != tt.want.Remaining {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if got.WindowSeconds != int64(quota.DefaultWindow/time.Second) {
				t.Errorf("expected window_seconds %d, got %d", int64(quota.DefaultWindow/time.Second), got.WindowSeconds)
			}
			if !got.ResetTime.Equal(epoch.Add(quota.DefaultWindow)) {
				t.Errorf("expected reset %v, got %v", epoch.Add(quota.DefaultWindow), got.ResetTime)
			}
		})
	}
}

func TestUsage_DoesNotCharge(t *testing.T) {
	env := newTestEnv(t, quota.ModeOptimistic)

	for i := 0; i < 5; i++ {
		env.usage(t, "fp-1", "")
	}
	if w := env.analyze(t, "fp-1", ""); w.Code != http.StatusOK {
		t.Fatalf("expected usage queries to be free, got %d", w.Code)
	}
}

func TestLimitChangeIsAbsorbed(t *testing.T) {
	env := newTestEnv(t, quota.ModeOptimistic)

	env.analyze(t, "fp-1", "")
	env.analyze(t, "fp-1", "")
	if w := env.analyze(t, "fp-1", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	limits := env.engine.Limits()
	limits.GuestMaxRequests = 4
	env.engine.SetLimits(limits)

	if w := env.analyze(t, "fp-1", ""); w.Code != http.StatusOK {
		t.Fatalf("expected raised limit to admit, got %d", w.Code)
	}
	if got := env.usage(t, "fp-1", ""); got.Limit != 4 || got.Used != 3 {
		t.Errorf("expected 3 of 4 used, got %+v", got)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t, quota.ModeOptimistic)

	tests := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{http.MethodGet, "/health", http.StatusOK, `"status":"ok"`},
		{http.MethodGet, "/ready", http.StatusOK, `"quota_store"`},
		{http.MethodGet, "/version", http.StatusOK, `"commit":"abc123"`},
		{http.MethodGet, "/metrics", http.StatusOK, "tollgate_http_requests_total"},
		{http.MethodGet, "/v1/analyze", http.StatusMethodNotAllowed, `"error"`},
		{http.MethodGet, "/nope", http.StatusNotFound, `"error"`},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			w := httptest.NewRecorder()
			env.handler.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.body) {
				t.Errorf("expected body to contain %s, got %s", tt.body, w.Body.String())
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID on every response")
			}
		})
	}
}

func TestServer_StartShutdown(t *testing.T) {
	upstream := newFakeUpstream(t)

	cfg := config.NewDefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Upstream.URL = upstream.URL

	engine := quota.NewEngine(storage.NewMemoryBackend(), quota.EngineConfig{
		Limits: cfg.Quota.Limits(),
		Logger: logging.Discard(),
	})
	srv, err := New(Options{Config: cfg, Engine: engine, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !srv.IsRunning() || srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	if err := srv.Start(ctx); err == nil {
		t.Error("expected second Start to fail")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if srv.IsRunning() {
		t.Error("expected server to be stopped")
	}
}

func TestServer_StartTLS(t *testing.T) {
	upstream := newFakeUpstream(t)
	certFile, keyFile := testcert.Valid(t, t.TempDir())

	cfg := config.NewDefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Upstream.URL = upstream.URL

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tlsConfig, err := sectls.Setup(ctx, sectls.Config{CertFile: certFile, KeyFile: keyFile}, logging.Discard())
	if err != nil {
		t.Fatalf("failed to set up TLS: %v", err)
	}

	engine := quota.NewEngine(storage.NewMemoryBackend(), quota.EngineConfig{
		Limits: cfg.Quota.Limits(),
		Logger: logging.Discard(),
	})
	srv, err := New(Options{Config: cfg, Engine: engine, TLS: tlsConfig, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !srv.IsRunning() || srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	client := &http.Client{Transport: &http.Transport{
		// #nosec G402 - self-signed test certificate
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	resp, err := client.Get("https://" + srv.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp.TLS == nil || resp.TLS.Version != tls.VersionTLS13 {
		t.Errorf("expected a TLS 1.3 connection, got %+v", resp.TLS)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNew_Errors(t *testing.T) {
	engine := quota.NewEngine(storage.NewMemoryBackend(), quota.EngineConfig{Logger: logging.Discard()})

	cfg := config.NewDefaultConfig()
	cfg.Upstream.URL = "/relative"

	tests := []struct {
		name string
		opts Options
	}{
		{"no config", Options{Engine: engine}},
		{"no engine", Options{Config: cfg}},
		{"relative upstream", Options{Config: cfg, Engine: engine}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}
