package secgate

import (
	"errors"
	"fmt"
	"time"
)

// Gate decision errors. Every rejection an Engine operation can
// produce maps onto one of these sentinels; callers branch with
// errors.Is and the middleware maps them onto HTTP status codes.
var (
	// ErrIPBlocked means the client IP carries an active block entry.
	ErrIPBlocked = errors.New("ip blocked")
	// ErrHighRisk means the risk score crossed the rejection threshold.
	ErrHighRisk = errors.New("request risk too high")
	// ErrRateLimited means the client exhausted its request budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrTokenMissing means no access token was presented.
	ErrTokenMissing = errors.New("access token missing")
	// ErrTokenExpired means the token's validity window has passed.
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenInvalid means the token failed signature or claim checks.
	ErrTokenInvalid = errors.New("access token invalid")

	// ErrSessionInvalidated means the token's version no longer matches
	// the account's, typically after a force-logout.
	ErrSessionInvalidated = errors.New("session invalidated")
	// ErrSessionNotFound means the token's session is not registered to
	// the account.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired means the session idled past its timeout.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidImpersonation means an impersonation token whose
	// impersonator is no longer an admin.
	ErrInvalidImpersonation = errors.New("invalid impersonation")

	// ErrInvalidCredentials covers unknown identifiers and wrong
	// passwords alike; login never reveals which.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked means the account is under a failed-attempt lock.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountNotFound is returned by account lookups outside login.
	ErrAccountNotFound = errors.New("account not found")
	// ErrLoginNotAllowed means the account's lifecycle status does not
	// permit authentication.
	ErrLoginNotAllowed = errors.New("account status does not permit login")

	// ErrPermissionDenied means the principal's role lacks a required
	// permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPasswordExpired means a sensitive operation was attempted with
	// an expired password.
	ErrPasswordExpired = errors.New("password expired")
	// ErrMaintenance means the platform is in maintenance mode and the
	// caller may not bypass it.
	ErrMaintenance = errors.New("maintenance mode")

	// ErrVersionConflict means an optimistic version guard failed; the
	// caller should re-read and retry.
	ErrVersionConflict = errors.New("account version conflict")

	// ErrBackendUnavailable wraps infrastructure failures (Redis, the
	// account provider) that prevent a decision.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// RateLimitError is the concrete error behind ErrRateLimited. It
// carries the wait the client should observe before retrying;
// errors.Is(err, ErrRateLimited) still matches.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
