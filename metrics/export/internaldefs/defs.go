// Package internaldefs holds the metric name and bucket definitions
// shared by the exporter implementations, so Prometheus and OTel
// always emit identical names and boundaries.
package internaldefs

import (
	"github.com/certlane/secgate"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   secgate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   secgate.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: secgate.MetricGateAllowed, Name: "secgate_gate_allowed_total", Help: "Requests that passed the full gate."},
	{ID: secgate.MetricGateDenied, Name: "secgate_gate_denied_total", Help: "Requests rejected by any gate stage."},
	{ID: secgate.MetricIPBlocked, Name: "secgate_ip_blocked_total", Help: "Requests rejected by the IP block list."},
	{ID: secgate.MetricRiskDelayed, Name: "secgate_risk_delayed_total", Help: "Requests tarpitted on an elevated risk score."},
	{ID: secgate.MetricRiskRejected, Name: "secgate_risk_rejected_total", Help: "Requests rejected on a high risk score."},
	{ID: secgate.MetricAutoBlock, Name: "secgate_auto_block_total", Help: "Auto-blocks placed by critical risk scores."},
	{ID: secgate.MetricRateLimited, Name: "secgate_rate_limited_total", Help: "Requests rejected by the rate limiter."},
	{ID: secgate.MetricTokenRejected, Name: "secgate_token_rejected_total", Help: "Missing, expired or invalid access tokens."},
	{ID: secgate.MetricSessionRejected, Name: "secgate_session_rejected_total", Help: "Dead or idle-expired sessions."},
	{ID: secgate.MetricSessionIPChanged, Name: "secgate_session_ip_changed_total", Help: "Sessions observed from a new IP."},
	{ID: secgate.MetricLoginSuccess, Name: "secgate_login_success_total", Help: "Successful logins."},
	{ID: secgate.MetricLoginFailure, Name: "secgate_login_failure_total", Help: "Failed logins."},
	{ID: secgate.MetricAccountLocked, Name: "secgate_account_locked_total", Help: "Lockouts placed by failed logins."},
	{ID: secgate.MetricLockoutRejected, Name: "secgate_lockout_rejected_total", Help: "Requests from locked accounts."},
	{ID: secgate.MetricPermissionDenied, Name: "secgate_permission_denied_total", Help: "Role permission failures."},
	{ID: secgate.MetricPasswordExpired, Name: "secgate_password_expired_total", Help: "Requests flagged for expired credentials."},
	{ID: secgate.MetricPasswordChanged, Name: "secgate_password_changed_total", Help: "Successful credential rotations."},
	{ID: secgate.MetricLogout, Name: "secgate_logout_total", Help: "Single-session logouts."},
	{ID: secgate.MetricForcedLogout, Name: "secgate_forced_logout_total", Help: "Account-wide session revocations."},
	{ID: secgate.MetricImpersonation, Name: "secgate_impersonation_total", Help: "Impersonated sessions issued."},
	{ID: secgate.MetricStatusChanged, Name: "secgate_status_changed_total", Help: "Account lifecycle transitions."},
	{ID: secgate.MetricMaintenanceRejected, Name: "secgate_maintenance_rejected_total", Help: "Requests refused in maintenance mode."},
}

var HistogramDefs = []HistogramDef{
	{ID: secgate.MetricGateLatency, Name: "secgate_gate_latency_seconds", Help: "Authorize latency histogram."},
}

var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative
// form both exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
