// Package state implements the account lifecycle state machine: the
// enumerated status set, the fixed transition adjacency table, and the
// role gating applied on top of it. Every status mutation on the
// platform must pass through ValidateTransitionWithRole before
// persistence; the stores themselves enforce nothing.
package state

// Status is an account lifecycle state. Statuses are persisted as
// their snake_case string form.
type Status string

const (
	StatusActive              Status = "active"
	StatusInactive            Status = "inactive"
	StatusSuspended           Status = "suspended"
	StatusTerminated          Status = "terminated"
	StatusDeactivated         Status = "deactivated"
	StatusCancelled           Status = "cancelled"
	StatusPendingVerification Status = "pending_verification"
	StatusPendingRegistration Status = "pending_registration"
	StatusPendingSetup        Status = "pending_setup"
	StatusRoleUpdatePending   Status = "role_update_pending"
	StatusSubmitted           Status = "submitted"
	StatusUnderReview         Status = "under_review"
	StatusClarification       Status = "clarification"
	StatusApproved            Status = "approved"
	StatusRejected            Status = "rejected"
	StatusCertified           Status = "certified"
)

// Statuses lists every valid lifecycle state.
var Statuses = []Status{
	StatusActive,
	StatusInactive,
	StatusSuspended,
	StatusTerminated,
	StatusDeactivated,
	StatusCancelled,
	StatusPendingVerification,
	StatusPendingRegistration,
	StatusPendingSetup,
	StatusRoleUpdatePending,
	StatusSubmitted,
	StatusUnderReview,
	StatusClarification,
	StatusApproved,
	StatusRejected,
	StatusCertified,
}

var validStatuses = func() map[Status]bool {
	m := make(map[Status]bool, len(Statuses))
	for _, s := range Statuses {
		m[s] = true
	}
	return m
}()

// Valid reports whether s is a member of the enumerated status set.
func (s Status) Valid() bool {
	return validStatuses[s]
}

// IsTerminal reports whether the status has no legal outgoing
// transitions. Terminal accounts can only be recovered out of band.
func (s Status) IsTerminal() bool {
	return s == StatusTerminated || s == StatusDeactivated
}

// CanLogin reports whether an account in this status may authenticate.
// Credential correctness is gated independently.
func CanLogin(s Status) bool {
	switch s {
	case StatusActive, StatusApproved, StatusCertified:
		return true
	default:
		return false
	}
}

// Parse validates a stored status string.
func Parse(s string) (Status, bool) {
	st := Status(s)
	return st, st.Valid()
}
