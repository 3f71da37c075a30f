package secgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/certlane/secgate/risk"
)

// ChangePassword rotates an account's credential. The current
// password must verify, the new one must clear the complexity and
// history rules, and every other session is revoked afterwards so a
// hijacked session cannot ride out a rotation.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, next, keepSessionID string) error {
	acct, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	lock, err := e.lockouts.Check(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if lock.Locked {
		return ErrAccountLocked
	}

	ok, err := e.passwords.Verify(current, acct.PasswordHash)
	if err != nil || !ok {
		return e.recordLoginFailure(ctx, acct, clientIPFromContext(ctx), risk.Fingerprint(headersFromContext(ctx)))
	}

	hash, history, err := e.passwords.Set(next, acct.PasswordHistory)
	if err != nil {
		return err
	}

	expiresAt := e.passwords.ExpiresAt(time.Now())
	if err := e.accounts.UpdateCredentials(ctx, accountID, hash, history, expiresAt); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Drop every session except the one performing the change.
	ids, err := e.sessions.ActiveSessionIDs(ctx, accountID)
	if err == nil {
		for _, id := range ids {
			if id == keepSessionID {
				continue
			}
			_ = e.sessions.Delete(ctx, accountID, id)
		}
	}

	e.metricInc(MetricPasswordChanged)
	e.emit(ctx, SecurityEvent{
		EventType: EventPasswordChange,
		AccountID: accountID,
		SessionID: keepSessionID,
		Success:   true,
	})
	return nil
}

// UnlockAccount clears a lockout ahead of its expiry.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) error {
	if err := e.lockouts.Clear(ctx, accountID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.emit(ctx, SecurityEvent{
		EventType: EventAccountUnlock,
		AccountID: accountID,
		Success:   true,
	})
	e.notify(Notification{
		Kind:      NotifyAccountUnlocked,
		AccountID: accountID,
	})
	return nil
}
