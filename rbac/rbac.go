// Package rbac holds the fixed role and permission model for the
// certification platform: nine enumerated roles, an immutable
// role→permission bitmask table, and the OR/AND/ownership check
// primitives used by the security gate.
package rbac

// RequireAny reports whether the role holds at least one of the listed
// permissions (OR semantics). An empty list always passes.
func RequireAny(r Role, perms ...Permission) bool {
	if len(perms) == 0 {
		return true
	}
	m := MaskFor(r)
	for _, p := range perms {
		if m.Has(p) {
			return true
		}
	}
	return false
}

// RequireAll reports whether the role holds every listed permission
// (AND semantics). An empty list always passes.
func RequireAll(r Role, perms ...Permission) bool {
	m := MaskFor(r)
	for _, p := range perms {
		if !m.Has(p) {
			return false
		}
	}
	return true
}

// Has reports whether the role holds the single permission.
func Has(r Role, p Permission) bool {
	return MaskFor(r).Has(p)
}

// OwnsResource applies the resource-ownership rule: staff roles bypass
// ownership entirely; every other role must be the resource owner.
func OwnsResource(r Role, principalID, ownerID string) bool {
	if r.IsStaff() {
		return true
	}
	return principalID != "" && principalID == ownerID
}

// SelfOrAdmin reports whether the caller may target the given account:
// admins may target anyone, everyone else only themselves.
func SelfOrAdmin(r Role, principalID, targetID string) bool {
	if r.IsAdmin() {
		return true
	}
	return principalID != "" && principalID == targetID
}
