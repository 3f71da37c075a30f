package rbac

// Permission is a bit index into a role's permission mask. Masks are
// 64-bit: nine roles with a couple dozen permissions fit comfortably,
// so the wider mask variants were dropped.
type Permission uint8

const (
	// PermAccountRead allows reading account records.
	PermAccountRead Permission = iota
	// PermAccountManage allows mutating account records and roles.
	PermAccountManage
	// PermAccountSuspend allows driving accounts into suspended or
	// deactivated lifecycle states.
	PermAccountSuspend
	// PermSessionRevoke allows forced logout of other accounts.
	PermSessionRevoke
	// PermIPListManage allows editing the IP allow/block list.
	PermIPListManage
	// PermEventsRead allows reading the security event log.
	PermEventsRead
	// PermApplicationSubmit allows submitting a certification application.
	PermApplicationSubmit
	// PermApplicationReview allows moving applications through review.
	PermApplicationReview
	// PermApplicationApprove allows approving or rejecting applications.
	PermApplicationApprove
	// PermCertificationIssue allows issuing a certification.
	PermCertificationIssue
	// PermCourseManage allows managing training courses.
	PermCourseManage
	// PermProfileRead allows reading one's own profile.
	PermProfileRead
	// PermProfileWrite allows updating one's own profile.
	PermProfileWrite
	// PermReportsView allows viewing operational reports.
	PermReportsView
	// PermMaintenanceBypass allows requests through maintenance mode.
	PermMaintenanceBypass

	permissionCount
)

var permissionNames = [permissionCount]string{
	PermAccountRead:        "account.read",
	PermAccountManage:      "account.manage",
	PermAccountSuspend:     "account.suspend",
	PermSessionRevoke:      "session.revoke",
	PermIPListManage:       "iplist.manage",
	PermEventsRead:         "events.read",
	PermApplicationSubmit:  "application.submit",
	PermApplicationReview:  "application.review",
	PermApplicationApprove: "application.approve",
	PermCertificationIssue: "certification.issue",
	PermCourseManage:       "course.manage",
	PermProfileRead:        "profile.read",
	PermProfileWrite:       "profile.write",
	PermReportsView:        "reports.view",
	PermMaintenanceBypass:  "maintenance.bypass",
}

// String returns the dotted permission name.
func (p Permission) String() string {
	if p >= permissionCount {
		return "unknown"
	}
	return permissionNames[p]
}

// Mask is a 64-bit permission bitmask.
type Mask uint64

func mask(perms ...Permission) Mask {
	var m Mask
	for _, p := range perms {
		m |= 1 << p
	}
	return m
}

// Has reports whether the bit for p is set.
func (m Mask) Has(p Permission) bool {
	if p >= permissionCount {
		return false
	}
	return m&(1<<p) != 0
}

// Permissions expands the mask back into the permission list.
func (m Mask) Permissions() []Permission {
	var out []Permission
	for p := Permission(0); p < permissionCount; p++ {
		if m.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// rolePermissions is the fixed role→permission table. It is built once
// at init and never mutated; lookups for unknown roles yield an empty
// mask rather than a default grant.
var rolePermissions = map[Role]Mask{
	RoleAdmin: mask(
		PermAccountRead, PermAccountManage, PermAccountSuspend,
		PermSessionRevoke, PermIPListManage, PermEventsRead,
		PermApplicationSubmit, PermApplicationReview, PermApplicationApprove,
		PermCertificationIssue, PermCourseManage,
		PermProfileRead, PermProfileWrite, PermReportsView,
		PermMaintenanceBypass,
	),
	RoleOperationsManager: mask(
		PermAccountRead, PermAccountManage, PermSessionRevoke,
		PermEventsRead, PermReportsView,
		PermProfileRead, PermProfileWrite,
	),
	RoleComplianceOfficer: mask(
		PermAccountRead, PermEventsRead,
		PermApplicationReview, PermApplicationApprove, PermCertificationIssue,
		PermReportsView, PermProfileRead, PermProfileWrite,
	),
	RoleAssessor: mask(
		PermAccountRead, PermApplicationReview,
		PermReportsView, PermProfileRead, PermProfileWrite,
	),
	RoleReviewer: mask(
		PermAccountRead, PermApplicationReview,
		PermProfileRead, PermProfileWrite,
	),
	RoleInstructor: mask(
		PermCourseManage, PermProfileRead, PermProfileWrite,
	),
	RoleTrainingProvider: mask(
		PermCourseManage, PermReportsView,
		PermProfileRead, PermProfileWrite,
	),
	RoleCandidate: mask(
		PermApplicationSubmit, PermProfileRead, PermProfileWrite,
	),
	RolePublicUser: mask(
		PermProfileRead, PermProfileWrite,
	),
}

// MaskFor returns the permission mask for a role. Unknown roles get an
// empty mask.
func MaskFor(r Role) Mask {
	return rolePermissions[r]
}
