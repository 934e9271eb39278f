package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector_DefaultRegistry(t *testing.T) {
	c := NewCollector(nil)
	if c.Registry() == nil {
		t.Fatal("expected registry")
	}

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "go_") {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected Go runtime collector on a default registry")
	}
}

func TestRecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequest("/v1/analyze", http.MethodPost, 200, 120*time.Millisecond)
	c.RecordRequest("/v1/analyze", http.MethodPost, 429, time.Millisecond)
	c.RecordRequest("", http.MethodGet, 404, time.Millisecond)

	expected := `
# HELP tollgate_http_requests_total Total number of HTTP requests served
# TYPE tollgate_http_requests_total counter
tollgate_http_requests_total{code="200",method="POST",route="/v1/analyze"} 1
tollgate_http_requests_total{code="404",method="GET",route="unmatched"} 1
tollgate_http_requests_total{code="429",method="POST",route="/v1/analyze"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "tollgate_http_requests_total"); err != nil {
		t.Error(err)
	}
}

func TestTrackInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	done := c.TrackInFlight()
	if got := testutil.ToFloat64(c.inFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	done()
	if got := testutil.ToFloat64(c.inFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}

func TestRecordUpstreamAndDenial(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordUpstream(OutcomeSuccess, time.Second)
	c.RecordUpstream(OutcomeCanceled, time.Second)
	c.RecordUpstream(OutcomeSuccess, time.Second)
	c.RecordDenial("guest")

	if got := testutil.ToFloat64(c.upstreamTotal.WithLabelValues(OutcomeSuccess)); got != 2 {
		t.Errorf("success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.denials.WithLabelValues("guest")); got != 1 {
		t.Errorf("guest denials = %v, want 1", got)
	}
}

func TestNilRequestMetrics(t *testing.T) {
	var rm *RequestMetrics
	rm.RecordRequest("/", http.MethodGet, 200, 0)
	rm.RecordUpstream(OutcomeError, 0)
	rm.RecordDenial("user")
	rm.TrackInFlight()()
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordDenial("user")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `tollgate_gate_denials_total{namespace="user"} 1`) {
		t.Errorf("scrape output missing denial counter:\n%s", body)
	}
}
