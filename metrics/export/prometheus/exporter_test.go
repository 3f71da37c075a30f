package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/certlane/secgate"
)

type fakeSource struct {
	snapshot secgate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() secgate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) DroppedEvents() uint64                    { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewFromSource(fakeSource{
		snapshot: secgate.MetricsSnapshot{
			Counters:   map[secgate.MetricID]uint64{},
			Histograms: map[secgate.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	exp := NewFromSource(fakeSource{
		snapshot: secgate.MetricsSnapshot{
			Counters: map[secgate.MetricID]uint64{
				secgate.MetricLoginSuccess: 7,
				secgate.MetricGateAllowed:  12,
			},
			Histograms: map[secgate.MetricID][]uint64{
				secgate.MetricGateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "secgate_login_success_total 7") {
		t.Fatalf("expected login success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "secgate_gate_allowed_total 12") {
		t.Fatalf("expected gate allowed counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "secgate_gate_latency_seconds_bucket{le=\"0.005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "secgate_gate_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "secgate_events_dropped_total 2") {
		t.Fatalf("expected dropped events counter in output, got:\n%s", out)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	exp := NewFromSource(fakeSource{
		snapshot: secgate.MetricsSnapshot{
			Counters: map[secgate.MetricID]uint64{
				secgate.MetricGateDenied: 1,
			},
			Histograms: map[secgate.MetricID][]uint64{},
		},
	})

	srv := httptest.NewServer(exp.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "secgate_gate_denied_total 1") {
		t.Fatalf("expected denied counter in body, got:\n%s", body)
	}
}
