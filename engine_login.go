package secgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certlane/secgate/risk"
	"github.com/certlane/secgate/session"
	"github.com/certlane/secgate/state"
	"github.com/certlane/secgate/token"
)

// Login authenticates a credential pair and opens a session. The
// perimeter (IP lists, risk, rate limit) runs first; the lockout is
// checked before the hash comparison so a locked account never burns
// an argon2 verification.
func (e *Engine) Login(ctx context.Context, identifier, passphrase string) (*LoginResult, error) {
	ip := clientIPFromContext(ctx)
	header := headersFromContext(ctx)

	trusted, err := e.checkIPLists(ctx, ip)
	if err != nil {
		return nil, err
	}

	fingerprint := risk.Fingerprint(header)
	score := 0
	if e.risk != nil {
		score, fingerprint, err = e.assessRisk(ctx, ip, header)
		if err != nil {
			return nil, err
		}
	}

	if e.limiter != nil && !trusted {
		if err := e.checkRateLimit(ctx, ip, score); err != nil {
			return nil, err
		}
	}

	acct, err := e.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Uniform response: existence is not disclosed.
			e.metricInc(MetricLoginFailure)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	lock, err := e.lockouts.Check(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if lock.Locked {
		e.metricInc(MetricLockoutRejected)
		return nil, ErrAccountLocked
	}

	ok, err := e.passwords.Verify(passphrase, acct.PasswordHash)
	if err != nil || !ok {
		return nil, e.recordLoginFailure(ctx, acct, ip, fingerprint)
	}

	if !state.CanLogin(acct.Status) {
		e.metricInc(MetricLoginFailure)
		return nil, ErrLoginNotAllowed
	}

	if err := e.lockouts.Clear(ctx, acct.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	result, err := e.openSession(ctx, acct, ip, requestUserAgent(ctx, header), fingerprint, "")
	if err != nil {
		return nil, err
	}
	result.Principal.RiskScore = score
	result.Principal.RequiresPasswordChange = e.passwords.Expired(acct.PasswordExpiresAt, time.Now())
	if result.Principal.RequiresPasswordChange {
		e.notify(Notification{
			Kind:      NotifyPasswordExpiry,
			AccountID: acct.ID,
		})
	}

	e.metricInc(MetricLoginSuccess)
	e.emit(ctx, SecurityEvent{
		EventType: EventLoginSuccess,
		AccountID: acct.ID,
		SessionID: result.Principal.SessionID,
		IP:        ip,
		Device:    fingerprint,
		RiskScore: score,
		Success:   true,
	})

	return result, nil
}

// LoginExternal opens a session for an externally authenticated
// identity. The assertion is resolved by the configured
// IdentityProvider; the resulting account still passes the state and
// lockout gates.
func (e *Engine) LoginExternal(ctx context.Context, assertion string) (*LoginResult, error) {
	if e.identities == nil {
		return nil, errors.New("no identity provider configured")
	}

	ip := clientIPFromContext(ctx)
	header := headersFromContext(ctx)

	trusted, err := e.checkIPLists(ctx, ip)
	if err != nil {
		return nil, err
	}

	fingerprint := risk.Fingerprint(header)
	score := 0
	if e.risk != nil {
		score, fingerprint, err = e.assessRisk(ctx, ip, header)
		if err != nil {
			return nil, err
		}
	}

	if e.limiter != nil && !trusted {
		if err := e.checkRateLimit(ctx, ip, score); err != nil {
			return nil, err
		}
	}

	identity, err := e.identities.Resolve(ctx, assertion)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}
	if identity == nil || identity.ExternalID == "" || !identity.EmailVerified {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	acct, err := e.accounts.GetByIdentifier(ctx, identity.Email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricLoginFailure)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if acct.ExternalID == "" || acct.ExternalID != identity.ExternalID {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	lock, err := e.lockouts.Check(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if lock.Locked {
		e.metricInc(MetricLockoutRejected)
		return nil, ErrAccountLocked
	}

	if !state.CanLogin(acct.Status) {
		e.metricInc(MetricLoginFailure)
		return nil, ErrLoginNotAllowed
	}

	result, err := e.openSession(ctx, acct, ip, requestUserAgent(ctx, header), fingerprint, "")
	if err != nil {
		return nil, err
	}
	result.Principal.RiskScore = score

	e.metricInc(MetricLoginSuccess)
	e.emit(ctx, SecurityEvent{
		EventType: EventLoginSuccess,
		AccountID: acct.ID,
		SessionID: result.Principal.SessionID,
		IP:        ip,
		Device:    fingerprint,
		RiskScore: score,
		Success:   true,
		Metadata:  map[string]string{"method": "external"},
	})

	return result, nil
}

// Impersonate opens a session for the target account driven by an
// administrator. The admin's ID rides in the token and is re-checked
// on every gated request.
func (e *Engine) Impersonate(ctx context.Context, adminID, targetID string) (*LoginResult, error) {
	admin, err := e.accounts.GetByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidImpersonation
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !admin.Role.IsAdmin() || !state.CanLogin(admin.Status) {
		return nil, ErrInvalidImpersonation
	}

	target, err := e.accounts.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	// Impersonating another admin is off the table.
	if target.Role.IsAdmin() {
		return nil, ErrInvalidImpersonation
	}
	if !state.CanLogin(target.Status) {
		return nil, ErrLoginNotAllowed
	}

	ip := clientIPFromContext(ctx)
	header := headersFromContext(ctx)

	result, err := e.openSession(ctx, target, ip, requestUserAgent(ctx, header), risk.Fingerprint(header), adminID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricImpersonation)
	e.emit(ctx, SecurityEvent{
		EventType: EventImpersonation,
		AccountID: target.ID,
		SessionID: result.Principal.SessionID,
		IP:        ip,
		Success:   true,
		Metadata:  map[string]string{"admin_id": adminID},
	})

	return result, nil
}

// Logout removes one session. Removing an already-dead session is not
// an error.
func (e *Engine) Logout(ctx context.Context, accountID, sessionID string) error {
	if err := e.sessions.Delete(ctx, accountID, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metricInc(MetricLogout)
	e.emit(ctx, SecurityEvent{
		EventType: EventLogout,
		AccountID: accountID,
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// ForceLogoutAll removes every session for the account and advances
// its token version, killing outstanding tokens regardless of expiry.
// The version bump is guarded: if the account changed underneath,
// ErrVersionConflict comes back and the caller retries with a fresh
// read.
func (e *Engine) ForceLogoutAll(ctx context.Context, accountID string) error {
	acct, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	removed, err := e.sessions.DeleteAllForAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if _, err := e.accounts.BumpTokenVersion(ctx, accountID, acct.TokenVersion); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrVersionConflict
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricForcedLogout)
	e.emit(ctx, SecurityEvent{
		EventType: EventForcedLogout,
		AccountID: accountID,
		Success:   true,
		Metadata:  map[string]string{"sessions_removed": fmt.Sprint(removed)},
	})
	return nil
}

// openSession creates the session record and issues its token.
func (e *Engine) openSession(ctx context.Context, acct *AccountRecord, ip, userAgent, fingerprint, impersonatedBy string) (*LoginResult, error) {
	sessionID := uuid.NewString()

	sess := &session.Session{
		ID:             sessionID,
		AccountID:      acct.ID,
		IP:             ip,
		UserAgent:      userAgent,
		Fingerprint:    fingerprint,
		ImpersonatedBy: impersonatedBy,
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	tok, err := e.tokens.Issue(token.IssueParams{
		AccountID:       acct.ID,
		SessionID:       sessionID,
		TokenVersion:    acct.TokenVersion,
		ImpersonatedBy:  impersonatedBy,
		FingerprintHash: fingerprint,
	})
	if err != nil {
		// Best effort: don't leave an orphaned session behind.
		_ = e.sessions.Delete(ctx, acct.ID, sessionID)
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	return &LoginResult{
		Token: tok,
		Principal: &Principal{
			AccountID:      acct.ID,
			Role:           acct.Role,
			SessionID:      sessionID,
			Fingerprint:    fingerprint,
			ImpersonatedBy: impersonatedBy,
		},
	}, nil
}

// recordLoginFailure increments the failure counter and reports the
// lockout transition when the threshold is hit.
func (e *Engine) recordLoginFailure(ctx context.Context, acct *AccountRecord, ip, fingerprint string) error {
	e.metricInc(MetricLoginFailure)

	status, err := e.lockouts.RecordFailure(ctx, acct.ID)
	if err != nil {
		e.emit(ctx, SecurityEvent{
			EventType: EventLoginFailure,
			AccountID: acct.ID,
			IP:        ip,
			Device:    fingerprint,
			Error:     err.Error(),
		})
		return ErrInvalidCredentials
	}

	e.emit(ctx, SecurityEvent{
		EventType: EventLoginFailure,
		AccountID: acct.ID,
		IP:        ip,
		Device:    fingerprint,
		Metadata:  map[string]string{"failures": fmt.Sprint(status.Failures)},
	})

	if status.Locked {
		e.metricInc(MetricAccountLocked)
		e.emit(ctx, SecurityEvent{
			EventType: EventAccountLocked,
			AccountID: acct.ID,
			IP:        ip,
			Metadata:  map[string]string{"until": status.Until.UTC().Format(time.RFC3339)},
		})
		e.notify(Notification{
			Kind:      NotifyAccountLocked,
			AccountID: acct.ID,
			Meta:      map[string]string{"until": status.Until.UTC().Format(time.RFC3339)},
		})
		return ErrAccountLocked
	}

	return ErrInvalidCredentials
}
