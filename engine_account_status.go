package secgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/certlane/secgate/rbac"
	"github.com/certlane/secgate/state"
)

// ChangeAccountStatus moves an account through the lifecycle machine.
// The transition must exist in the adjacency table and the acting
// role must be permitted on that edge; the provider write is guarded
// on the previously observed status so concurrent transitions
// conflict instead of racing.
func (e *Engine) ChangeAccountStatus(ctx context.Context, accountID string, to state.Status, actor rbac.Role) error {
	acct, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := state.ValidateTransitionWithRole(acct.Status, to, actor); err != nil {
		return err
	}

	if err := e.accounts.UpdateStatus(ctx, accountID, acct.Status, to); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrVersionConflict
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Leaving a login-capable state strands live sessions; kill them.
	if state.CanLogin(acct.Status) && !state.CanLogin(to) {
		if _, err := e.sessions.DeleteAllForAccount(ctx, accountID); err == nil {
			e.metricInc(MetricForcedLogout)
		}
	}

	e.metricInc(MetricStatusChanged)
	e.emit(ctx, SecurityEvent{
		EventType: EventStatusChange,
		AccountID: accountID,
		Success:   true,
		Metadata: map[string]string{
			"from":  string(acct.Status),
			"to":    string(to),
			"actor": string(actor),
		},
	})
	return nil
}
