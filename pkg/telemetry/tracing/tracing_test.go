package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tollgate/pkg/config"
)

const traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		config      config.TracingConfig
		wantErr     bool
		wantEnabled bool
	}{
		{
			name:   "disabled",
			config: config.TracingConfig{ServiceName: "test"},
		},
		{
			name: "enabled",
			config: config.TracingConfig{
				Enabled:     true,
				Endpoint:    "localhost:4317",
				ServiceName: "test",
				SampleRatio: 0.5,
				Insecure:    true,
			},
			wantEnabled: true,
		},
		{
			name: "bad ratio",
			config: config.TracingConfig{
				Enabled:     true,
				Endpoint:    "localhost:4317",
				SampleRatio: 2,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(context.Background(), tt.config, "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer p.Shutdown(context.Background())

			if p.Enabled() != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", p.Enabled(), tt.wantEnabled)
			}
		})
	}
}

func TestCreateSampler(t *testing.T) {
	for _, ratio := range []float64{0, 0.25, 1} {
		s, err := createSampler(ratio)
		if err != nil || s == nil {
			t.Errorf("createSampler(%v) = %v, %v", ratio, s, err)
		}
	}
	if _, err := createSampler(-0.1); err == nil {
		t.Error("expected error for negative ratio")
	}
}

func TestPropagation(t *testing.T) {
	if _, err := New(context.Background(), config.TracingConfig{}, "test"); err != nil {
		t.Fatal(err)
	}

	in := http.Header{}
	in.Set("traceparent", traceparent)
	ctx := Extract(context.Background(), in)

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected span context %+v", sc)
	}

	out := http.Header{}
	Inject(ctx, out)
	if out.Get("traceparent") != traceparent {
		t.Errorf("injected traceparent = %q, want %q", out.Get("traceparent"), traceparent)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	if _, err := New(context.Background(), config.TracingConfig{}, "test"); err != nil {
		t.Fatal(err)
	}

	var seen trace.SpanContext
	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = trace.SpanContextFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", traceparent)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !seen.IsValid() {
		t.Error("expected handler to see the remote span context")
	}
	if got := rec.Header().Get("X-Trace-ID"); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("X-Trace-ID = %q", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Trace-ID") != "" {
		t.Error("expected no X-Trace-ID without incoming context")
	}
}
