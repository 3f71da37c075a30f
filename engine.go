package secgate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/certlane/secgate/iplist"
	"github.com/certlane/secgate/lockout"
	"github.com/certlane/secgate/password"
	"github.com/certlane/secgate/ratelimit"
	"github.com/certlane/secgate/risk"
	"github.com/certlane/secgate/session"
	"github.com/certlane/secgate/state"
	"github.com/certlane/secgate/token"
)

// Engine is the security gate. Build one with New()...Build() and
// share it across goroutines.
type Engine struct {
	config Config
	redis  *redis.Client

	tokens    *token.Service
	passwords *password.Policy
	sessions  *session.Registry
	iplists   *iplist.Store
	lockouts  *lockout.Tracker
	limiter   *ratelimit.Limiter
	risk      *risk.Engine

	// riskMemory is set only when the risk store is the in-process
	// one, so the sweeper can prune it.
	riskMemory *risk.MemoryStore

	events  *eventDispatcher
	metrics *Metrics
	sweep   *sweeper

	accounts   AccountProvider
	identities IdentityProvider
	notifier   Notifier

	maintenance atomic.Bool
}

// Close stops the sweeper and the event dispatcher, draining queued
// events first.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.sweep != nil {
		e.sweep.stop()
	}
	if e.events != nil {
		e.events.Close()
	}
}

// SetMaintenance toggles maintenance mode. While on, only operators
// and administrators pass the gate.
func (e *Engine) SetMaintenance(on bool) {
	e.maintenance.Store(on)
}

func (e *Engine) InMaintenance() bool {
	return e.maintenance.Load()
}

// DroppedEvents reports how many security events the dispatcher
// discarded because its buffer was full.
func (e *Engine) DroppedEvents() uint64 {
	if e == nil || e.events == nil {
		return 0
	}
	return e.events.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// ValidNextStates exposes the lifecycle machine's outgoing edges for
// a status, for building admin UIs.
func (e *Engine) ValidNextStates(from state.Status) []state.Status {
	return state.ValidNextStates(from)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emit(ctx context.Context, event SecurityEvent) {
	if e == nil || e.events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = defaultSeverity(event.EventType)
	}
	e.events.Emit(ctx, event)
}

func (e *Engine) notify(n Notification) {
	if e == nil || e.notifier == nil {
		return
	}
	// Notifications leave the request path entirely.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.notifier.Notify(ctx, n)
	}()
}
