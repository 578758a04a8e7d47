package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/54b3r/kbrag-go/internal/chat"
	"github.com/54b3r/kbrag-go/internal/rag"
)

// findMetric returns the series of name whose labels include want.
func findMetric(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			return m
		}
	}
	return nil
}

func TestMetrics_EndpointServesRegistry(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, Deps{})

	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "kbrag_generate_in_flight") {
		t.Error("server metrics missing from /metrics output")
	}
}

func TestMetrics_HTTPRequestsByPattern(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t, Deps{Index: &fakeIndex{results: []rag.Result{}}})

	do(t, s, http.MethodPost, "/api/retrieve", `{"query":"q"}`)
	do(t, s, http.MethodPost, "/api/retrieve", `{}`)
	do(t, s, http.MethodGet, "/nowhere", "")

	m := findMetric(t, reg, "kbrag_http_requests_total", map[string]string{"handler": "POST /api/retrieve", "code": "200"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("200 retrieve counter: %v", m)
	}
	m = findMetric(t, reg, "kbrag_http_requests_total", map[string]string{"handler": "POST /api/retrieve", "code": "400"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("400 retrieve counter: %v", m)
	}
	if findMetric(t, reg, "kbrag_http_requests_total", map[string]string{"handler": "unmatched", "code": "404"}) == nil {
		t.Error("unmatched route not counted")
	}
}

func TestMetrics_GenerateOutcomes(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{resp: &chat.Response{Answer: "ok"}}
	s, reg := newTestServer(t, Deps{Generator: gen})

	do(t, s, http.MethodPost, "/api/generate", `{"message":"q"}`)
	do(t, s, http.MethodPost, "/api/generate", `{}`)
	gen.err = rag.ErrTimeout
	do(t, s, http.MethodPost, "/api/generate", `{"message":"q"}`)

	for outcome, want := range map[string]float64{outcomeOK: 1, outcomeInvalid: 1, outcomeTimeout: 1} {
		m := findMetric(t, reg, "kbrag_generate_requests_total", map[string]string{"outcome": outcome})
		if m == nil || m.GetCounter().GetValue() != want {
			t.Errorf("outcome %s: %v", outcome, m)
		}
	}
	if m := findMetric(t, reg, "kbrag_generate_in_flight", nil); m == nil || m.GetGauge().GetValue() != 0 {
		t.Errorf("in-flight gauge should return to 0: %v", m)
	}
}
