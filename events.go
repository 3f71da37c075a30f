package secgate

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event type values emitted by the engine.
const (
	EventGateDenied     = "gate_denied"
	EventRiskRejected   = "risk_rejected"
	EventAutoBlock      = "auto_block"
	EventRateLimited    = "rate_limited"
	EventLoginSuccess   = "login_success"
	EventLoginFailure   = "login_failure"
	EventAccountLocked  = "account_locked"
	EventAccountUnlock  = "account_unlocked"
	EventSessionIPMove  = "session_ip_changed"
	EventLogout         = "logout"
	EventForcedLogout   = "forced_logout"
	EventImpersonation  = "impersonation_started"
	EventPasswordChange = "password_changed"
	EventStatusChange   = "status_changed"
	EventIPListChange   = "ip_list_changed"
)

// Severity values for security events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SecurityEvent is the record emitted for notable gate decisions and
// account actions.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Severity  string            `json:"severity"`
	AccountID string            `json:"account_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Device    string            `json:"device,omitempty"`
	RiskScore int               `json:"risk_score,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// defaultSeverity classifies an event type when the emitter did not
// set one explicitly.
func defaultSeverity(eventType string) string {
	switch eventType {
	case EventAutoBlock, EventAccountLocked, EventForcedLogout:
		return SeverityCritical
	case EventGateDenied, EventRiskRejected, EventRateLimited,
		EventLoginFailure, EventSessionIPMove:
		return SeverityWarning
	}
	return SeverityInfo
}

// EventSink receives security events from the engine's dispatcher.
// Implementations must be safe for concurrent use.
type EventSink interface {
	Emit(ctx context.Context, event SecurityEvent)
}

// NoOpSink discards every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, SecurityEvent) {}

// ChannelSink forwards events to a buffered channel for consumption
// by application code.
type ChannelSink struct {
	events chan SecurityEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan SecurityEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event SecurityEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan SecurityEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to the wrapped
// writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event SecurityEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
