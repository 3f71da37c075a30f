package secgate

import (
	"context"
	"net/http"
	"time"

	"github.com/certlane/secgate/rbac"
	"github.com/certlane/secgate/state"
)

// AccountRecord is the engine's view of one platform account. The
// provider owns persistence; the engine never writes fields directly,
// it goes through the provider's guarded update methods.
type AccountRecord struct {
	ID         string
	Identifier string
	Role       rbac.Role
	Status     state.Status

	PasswordHash      string
	PasswordHistory   []string
	PasswordExpiresAt time.Time

	// TokenVersion advances on force-logout; tokens carrying an older
	// version are dead regardless of their expiry.
	TokenVersion uint32

	// TwoFactorEnabled marks accounts whose logins must carry a
	// confirmed second factor.
	TwoFactorEnabled bool

	// ExternalID links the account to an external identity provider,
	// empty for password accounts.
	ExternalID string
}

// AccountProvider is the application's account store. Implementations
// must be safe for concurrent use. Update methods carry expected-state
// guards so concurrent writers fail with a conflict instead of
// silently losing updates.
type AccountProvider interface {
	// GetByIdentifier resolves a login identifier. A missing account
	// returns ErrAccountNotFound.
	GetByIdentifier(ctx context.Context, identifier string) (*AccountRecord, error)

	// GetByID resolves an account ID. A missing account returns
	// ErrAccountNotFound.
	GetByID(ctx context.Context, id string) (*AccountRecord, error)

	// UpdateCredentials replaces the password hash, history window and
	// expiry in one write.
	UpdateCredentials(ctx context.Context, id, hash string, history []string, expiresAt time.Time) error

	// BumpTokenVersion advances the token version if it still equals
	// expected, returning the new version; otherwise ErrVersionConflict.
	BumpTokenVersion(ctx context.Context, id string, expected uint32) (uint32, error)

	// UpdateStatus writes the new status only if the stored status
	// still equals from; otherwise ErrVersionConflict. The engine has
	// already validated the transition.
	UpdateStatus(ctx context.Context, id string, from, to state.Status) error
}

// IdentityProvider resolves externally authenticated identities
// (SSO, OIDC) into accounts for LoginExternal.
type IdentityProvider interface {
	// Resolve exchanges an opaque provider assertion for the external
	// identity it proves.
	Resolve(ctx context.Context, assertion string) (*ExternalIdentity, error)
}

// ExternalIdentity is the normalized result of an external
// authentication.
type ExternalIdentity struct {
	ExternalID    string
	Email         string
	EmailVerified bool
	DisplayName   string
}

// Notifier receives user-facing security notifications. Calls are
// fire-and-forget from the engine's perspective: they run outside the
// request path and failures are swallowed.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Notification kinds passed to the Notifier.
const (
	NotifyAccountLocked   = "account_locked"
	NotifyAccountUnlocked = "account_unlocked"
	NotifyPasswordExpiry  = "password_expiry_warning"
	NotifyIPChanged       = "session_ip_changed"
)

// Notification is one user-facing security notice.
type Notification struct {
	Kind      string
	AccountID string
	Meta      map[string]string
}

// Principal is the authenticated identity attached to a request that
// passed the gate.
type Principal struct {
	AccountID   string
	Role        rbac.Role
	SessionID   string
	Fingerprint string
	RiskScore   int

	// ImpersonatedBy is the admin driving this session, empty for
	// ordinary sessions.
	ImpersonatedBy string

	// RequiresPasswordChange is set when the password has expired;
	// the request proceeded but sensitive operations are denied.
	RequiresPasswordChange bool
}

// AccessRequest describes one request for the gate to authorize.
type AccessRequest struct {
	// Token is the presented access token. Empty means unauthenticated.
	Token string

	// IP is the client address, already resolved by the transport.
	IP string

	// Header carries the request headers used for fingerprinting and
	// risk signals.
	Header http.Header

	// RequireAny passes when the role holds at least one listed
	// permission; RequireAll requires every one. Both empty means any
	// authenticated principal passes.
	RequireAny []rbac.Permission
	RequireAll []rbac.Permission

	// Sensitive marks operations denied to principals with expired
	// passwords.
	Sensitive bool
}

// LoginResult is a successful authentication.
type LoginResult struct {
	Token     string
	Principal *Principal
}
