package state

import (
	"errors"

	"github.com/certlane/secgate/rbac"
)

var (
	// ErrUnknownStatus is returned when a status outside the enumerated
	// set reaches the state machine.
	ErrUnknownStatus = errors.New("unknown account status")
	// ErrTerminalStatus is returned for any transition attempted out of
	// a terminal state.
	ErrTerminalStatus = errors.New("account status is terminal")
	// ErrInvalidTransition is returned for a (from, to) pair absent
	// from the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrRoleNotAllowed is returned when the edge exists but the caller
	// role is not authorized to drive it.
	ErrRoleNotAllowed = errors.New("role not authorized for status transition")
)

type edge struct {
	from, to Status
}

// transitions is the fixed adjacency table. Terminal states have no
// entry. Edges into suspended/terminated/deactivated exist from every
// non-terminal state and are administratively gated below.
var transitions = map[Status][]Status{
	StatusActive: {
		StatusInactive, StatusCancelled, StatusRoleUpdatePending, StatusSubmitted,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusInactive: {
		StatusActive,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusSuspended: {
		StatusActive,
		StatusTerminated, StatusDeactivated,
	},
	StatusCancelled: {
		StatusActive,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusPendingVerification: {
		StatusActive, StatusCancelled,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusPendingRegistration: {
		StatusPendingSetup, StatusCancelled,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusPendingSetup: {
		StatusSubmitted, StatusCancelled,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusRoleUpdatePending: {
		StatusActive,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusSubmitted: {
		StatusUnderReview, StatusCancelled,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusUnderReview: {
		StatusClarification, StatusApproved, StatusRejected,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusClarification: {
		StatusSubmitted, StatusRejected,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusApproved: {
		StatusCertified,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusRejected: {
		StatusSubmitted,
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
	StatusCertified: {
		StatusSuspended, StatusTerminated, StatusDeactivated,
	},
}

var (
	adminOnly = []rbac.Role{rbac.RoleAdmin}
	adminOps  = []rbac.Role{rbac.RoleAdmin, rbac.RoleOperationsManager}
)

// edgeRoles maps each table edge to the roles allowed to drive it.
// Edges not listed here fall back to the destination-based default in
// rolesFor. Both the adjacency check and the role check must pass.
var edgeRoles = map[edge][]rbac.Role{
	{StatusPendingVerification, StatusActive}:    adminOps,
	{StatusPendingVerification, StatusCancelled}: adminOps,

	{StatusPendingRegistration, StatusPendingSetup}: {rbac.RoleAdmin, rbac.RoleOperationsManager, rbac.RoleCandidate},
	{StatusPendingRegistration, StatusCancelled}:    {rbac.RoleAdmin, rbac.RoleOperationsManager, rbac.RoleCandidate},
	{StatusPendingSetup, StatusSubmitted}:           {rbac.RoleAdmin, rbac.RoleCandidate},
	{StatusPendingSetup, StatusCancelled}:           {rbac.RoleAdmin, rbac.RoleOperationsManager, rbac.RoleCandidate},

	{StatusSubmitted, StatusUnderReview}: {rbac.RoleAdmin, rbac.RoleAssessor, rbac.RoleReviewer},
	{StatusSubmitted, StatusCancelled}:   {rbac.RoleAdmin, rbac.RoleOperationsManager, rbac.RoleCandidate},

	{StatusUnderReview, StatusClarification}: {rbac.RoleAdmin, rbac.RoleReviewer, rbac.RoleAssessor},
	{StatusUnderReview, StatusApproved}:      {rbac.RoleAdmin, rbac.RoleComplianceOfficer},
	{StatusUnderReview, StatusRejected}:      {rbac.RoleAdmin, rbac.RoleComplianceOfficer, rbac.RoleReviewer},

	{StatusClarification, StatusSubmitted}: {rbac.RoleAdmin, rbac.RoleCandidate},
	{StatusClarification, StatusRejected}:  {rbac.RoleAdmin, rbac.RoleComplianceOfficer, rbac.RoleReviewer},

	{StatusApproved, StatusCertified}: {rbac.RoleAdmin, rbac.RoleComplianceOfficer},
	{StatusRejected, StatusSubmitted}: {rbac.RoleAdmin, rbac.RoleCandidate},

	{StatusActive, StatusInactive}:          adminOps,
	{StatusActive, StatusCancelled}:         {rbac.RoleAdmin, rbac.RoleOperationsManager, rbac.RoleCandidate, rbac.RolePublicUser},
	{StatusActive, StatusRoleUpdatePending}: adminOps,
	{StatusActive, StatusSubmitted}:         {rbac.RoleAdmin, rbac.RoleCandidate},

	{StatusInactive, StatusActive}:          adminOps,
	{StatusSuspended, StatusActive}:         adminOnly,
	{StatusCancelled, StatusActive}:         adminOps,
	{StatusRoleUpdatePending, StatusActive}: adminOps,
}

func rolesFor(e edge) []rbac.Role {
	if roles, ok := edgeRoles[e]; ok {
		return roles
	}
	// Unlisted edges are the administrative suspension/termination
	// edges; only the admin role may drive them.
	switch e.to {
	case StatusSuspended, StatusTerminated, StatusDeactivated:
		return adminOnly
	}
	return nil
}

// IsValidTransition reports whether the (from, to) pair exists in the
// transition table, regardless of caller role.
func IsValidTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks the adjacency table and reports why a
// transition is illegal.
func ValidateTransition(from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return ErrUnknownStatus
	}
	if from.IsTerminal() {
		return ErrTerminalStatus
	}
	if !IsValidTransition(from, to) {
		return ErrInvalidTransition
	}
	return nil
}

// ValidateTransitionWithRole checks the adjacency table and then the
// role gate for the specific edge. Both must pass.
func ValidateTransitionWithRole(from, to Status, role rbac.Role) error {
	if err := ValidateTransition(from, to); err != nil {
		return err
	}
	for _, allowed := range rolesFor(edge{from, to}) {
		if allowed == role {
			return nil
		}
	}
	return ErrRoleNotAllowed
}

// ValidNextStates enumerates the legal destinations from a state, for
// operator tooling. Terminal states return nil.
func ValidNextStates(from Status) []Status {
	next := transitions[from]
	if len(next) == 0 {
		return nil
	}
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// RolesForTransition returns the roles authorized to drive an edge, or
// nil if the edge is not in the table.
func RolesForTransition(from, to Status) []rbac.Role {
	if !IsValidTransition(from, to) {
		return nil
	}
	roles := rolesFor(edge{from, to})
	out := make([]rbac.Role, len(roles))
	copy(out, roles)
	return out
}
