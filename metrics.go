package secgate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies an engine counter or latency histogram.
type MetricID uint16

const (
	// MetricGateAllowed counts requests that passed the full gate.
	MetricGateAllowed MetricID = iota
	// MetricGateDenied counts requests rejected by any gate stage.
	MetricGateDenied
	// MetricIPBlocked counts requests rejected by the IP block list.
	MetricIPBlocked
	// MetricRiskDelayed counts requests tarpitted on an elevated score.
	MetricRiskDelayed
	// MetricRiskRejected counts requests rejected on a high score.
	MetricRiskRejected
	// MetricAutoBlock counts auto-blocks placed by critical scores.
	MetricAutoBlock
	// MetricRateLimited counts requests rejected by the rate limiter.
	MetricRateLimited
	// MetricTokenRejected counts missing, expired or invalid tokens.
	MetricTokenRejected
	// MetricSessionRejected counts dead or idle-expired sessions.
	MetricSessionRejected
	// MetricSessionIPChanged counts sessions observed from a new IP.
	MetricSessionIPChanged
	// MetricLoginSuccess counts successful credential logins.
	MetricLoginSuccess
	// MetricLoginFailure counts failed credential logins.
	MetricLoginFailure
	// MetricAccountLocked counts lockouts placed by failed logins.
	MetricAccountLocked
	// MetricLockoutRejected counts requests from locked accounts.
	MetricLockoutRejected
	// MetricPermissionDenied counts role permission failures.
	MetricPermissionDenied
	// MetricPasswordExpired counts requests flagged for expired
	// credentials.
	MetricPasswordExpired
	// MetricPasswordChanged counts successful credential rotations.
	MetricPasswordChanged
	// MetricLogout counts single-session logouts.
	MetricLogout
	// MetricForcedLogout counts account-wide session revocations.
	MetricForcedLogout
	// MetricImpersonation counts impersonated sessions issued.
	MetricImpersonation
	// MetricStatusChanged counts account lifecycle transitions.
	MetricStatusChanged
	// MetricMaintenanceRejected counts non-admin requests refused in
	// maintenance mode.
	MetricMaintenanceRejected
	// MetricGateLatency is the authorize-path latency histogram.
	MetricGateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps each counter on its own cache line.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's in-process counters. All methods are
// safe for concurrent use and are no-ops on a nil receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters and, when
// latency tracking is on, the gate latency histogram buckets.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a gate latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricGateLatency {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value reads a single counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricGateLatency].buckets[i])
		}
		s.Histograms[MetricGateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
