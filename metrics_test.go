package secgate

import (
	"testing"
	"time"
)

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricGateAllowed)
	m.Observe(MetricGateLatency, 10*time.Millisecond)

	if got := m.Value(MetricGateAllowed); got != 0 {
		t.Fatalf("expected 0 on disabled metrics, got %d", got)
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestMetricsNilReceiverSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricGateAllowed)
	m.Observe(MetricGateLatency, time.Millisecond)
	if m.Value(MetricGateAllowed) != 0 {
		t.Fatal("nil metrics should read zero")
	}
	m.Snapshot()
}

func TestMetricsCountersAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricGateDenied)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("expected 2 login successes, got %d", got)
	}

	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 2 {
		t.Fatalf("snapshot mismatch: %+v", snap.Counters)
	}
	if snap.Counters[MetricGateDenied] != 1 {
		t.Fatalf("snapshot mismatch: %+v", snap.Counters)
	}
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	samples := []struct {
		d      time.Duration
		bucket int
	}{
		{2 * time.Millisecond, 0},
		{8 * time.Millisecond, 1},
		{20 * time.Millisecond, 2},
		{40 * time.Millisecond, 3},
		{80 * time.Millisecond, 4},
		{200 * time.Millisecond, 5},
		{400 * time.Millisecond, 6},
		{2 * time.Second, 7},
	}
	for _, s := range samples {
		m.Observe(MetricGateLatency, s.d)
	}

	buckets := m.Snapshot().Histograms[MetricGateLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for _, s := range samples {
		if buckets[s.bucket] != 1 {
			t.Fatalf("sample %v landed wrong: buckets=%v", s.d, buckets)
		}
	}
}

func TestMetricsObserveIgnoresNonLatencyIDs(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricLoginSuccess, time.Millisecond)

	if buckets := m.Snapshot().Histograms[MetricGateLatency]; buckets != nil {
		for _, b := range buckets {
			if b != 0 {
				t.Fatalf("unexpected histogram data: %v", buckets)
			}
		}
	}
}
