package rbac

// Role identifies one of the nine platform roles. The set is closed:
// roles are defined at build time and never registered dynamically.
type Role string

const (
	// RoleAdmin holds every permission and bypasses maintenance mode.
	RoleAdmin Role = "admin"
	// RoleOperationsManager runs day-to-day account operations.
	RoleOperationsManager Role = "operations_manager"
	// RoleComplianceOfficer signs off on certification decisions.
	RoleComplianceOfficer Role = "compliance_officer"
	// RoleAssessor conducts candidate assessments.
	RoleAssessor Role = "assessor"
	// RoleReviewer reviews submitted applications.
	RoleReviewer Role = "reviewer"
	// RoleInstructor delivers training content.
	RoleInstructor Role = "instructor"
	// RoleTrainingProvider manages an external training organization.
	RoleTrainingProvider Role = "training_provider"
	// RoleCandidate is an account progressing through certification.
	RoleCandidate Role = "candidate"
	// RolePublicUser is a self-registered account with minimal access.
	RolePublicUser Role = "public_user"
)

// Roles lists every valid role. The order is stable and mirrors the
// hierarchy from most to least privileged.
var Roles = []Role{
	RoleAdmin,
	RoleOperationsManager,
	RoleComplianceOfficer,
	RoleAssessor,
	RoleReviewer,
	RoleInstructor,
	RoleTrainingProvider,
	RoleCandidate,
	RolePublicUser,
}

// hierarchy assigns each role a level used for conflict resolution in
// ownership checks. Higher wins.
var hierarchy = map[Role]int{
	RoleAdmin:             100,
	RoleOperationsManager: 80,
	RoleComplianceOfficer: 70,
	RoleAssessor:          60,
	RoleReviewer:          50,
	RoleInstructor:        40,
	RoleTrainingProvider:  30,
	RoleCandidate:         20,
	RolePublicUser:        10,
}

// staffRoles bypass resource-ownership checks entirely.
var staffRoles = map[Role]bool{
	RoleAdmin:             true,
	RoleOperationsManager: true,
	RoleComplianceOfficer: true,
	RoleAssessor:          true,
	RoleReviewer:          true,
}

// Valid reports whether r is one of the nine defined roles.
// Unknown roles never fall through to a default permission set.
func (r Role) Valid() bool {
	_, ok := hierarchy[r]
	return ok
}

// Level returns the hierarchy level for the role, or 0 for unknown roles.
func (r Role) Level() int {
	return hierarchy[r]
}

// IsStaff reports whether the role is classified as staff.
func (r Role) IsStaff() bool {
	return staffRoles[r]
}

// IsAdmin reports whether the role is the administrative role.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// ParseRole validates a stored role string. Returns false for anything
// outside the enumerated set.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}
