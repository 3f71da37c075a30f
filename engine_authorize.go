package secgate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/certlane/secgate/iplist"
	"github.com/certlane/secgate/rbac"
	"github.com/certlane/secgate/risk"
	"github.com/certlane/secgate/session"
	"github.com/certlane/secgate/state"
	"github.com/certlane/secgate/token"
)

// Authorize runs the full gate for one request and returns the
// authenticated principal on success. Perimeter checks (IP lists,
// risk scoring, rate limiting) run before the token is touched, so a
// blocked client learns nothing about token validity.
func (e *Engine) Authorize(ctx context.Context, req AccessRequest) (*Principal, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricGateLatency, time.Since(start))
		}
	}()

	p, err := e.authorize(ctx, req)
	if err != nil {
		e.metricInc(MetricGateDenied)
		return nil, err
	}
	e.metricInc(MetricGateAllowed)
	return p, nil
}

func (e *Engine) authorize(ctx context.Context, req AccessRequest) (*Principal, error) {
	ip := req.IP
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}
	header := req.Header
	if header == nil {
		header = headersFromContext(ctx)
	}

	trusted, err := e.checkIPLists(ctx, ip)
	if err != nil {
		return nil, err
	}

	// Allow-listed IPs skip rate limiting only. Risk scoring still
	// runs: a trusted address can be compromised.
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

	maintenance := e.InMaintenance()

	if req.Token == "" {
		if maintenance {
			e.metricInc(MetricMaintenanceRejected)
			return nil, ErrMaintenance
		}
		e.metricInc(MetricTokenRejected)
		return nil, ErrTokenMissing
	}

	claims, err := e.tokens.Verify(req.Token)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	// A fingerprint-bound token must be presented by the same client
	// shape it was issued to.
	if claims.FingerprintHash != "" && claims.FingerprintHash != fingerprint {
		e.metricInc(MetricTokenRejected)
		return nil, ErrTokenInvalid
	}

	acct, err := e.accounts.GetByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricTokenRejected)
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if claims.TokenVersion != acct.TokenVersion {
		e.metricInc(MetricSessionRejected)
		return nil, ErrSessionInvalidated
	}

	if maintenance && !acct.Role.IsAdmin() {
		e.metricInc(MetricMaintenanceRejected)
		return nil, ErrMaintenance
	}

	if claims.ImpersonatedBy != "" {
		if err := e.validateImpersonator(ctx, claims.ImpersonatedBy); err != nil {
			return nil, err
		}
	}

	if err := e.touchSession(ctx, acct, claims.SID, ip, fingerprint); err != nil {
		return nil, err
	}

	if !state.CanLogin(acct.Status) {
		e.metricInc(MetricGateDenied)
		return nil, ErrLoginNotAllowed
	}

	lock, err := e.lockouts.Check(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if lock.Locked {
		e.metricInc(MetricLockoutRejected)
		return nil, ErrAccountLocked
	}

	expired := e.passwords.Expired(acct.PasswordExpiresAt, time.Now())
	if expired {
		e.metricInc(MetricPasswordExpired)
		if req.Sensitive {
			return nil, ErrPasswordExpired
		}
	}

	if len(req.RequireAny) > 0 && !rbac.RequireAny(acct.Role, req.RequireAny...) {
		e.metricInc(MetricPermissionDenied)
		return nil, ErrPermissionDenied
	}
	if len(req.RequireAll) > 0 && !rbac.RequireAll(acct.Role, req.RequireAll...) {
		e.metricInc(MetricPermissionDenied)
		return nil, ErrPermissionDenied
	}

	return &Principal{
		AccountID:              acct.ID,
		Role:                   acct.Role,
		SessionID:              claims.SID,
		Fingerprint:            fingerprint,
		RiskScore:              score,
		ImpersonatedBy:         claims.ImpersonatedBy,
		RequiresPasswordChange: expired,
	}, nil
}

// checkIPLists consults the allow and block lists. It reports whether
// the IP is explicitly trusted.
func (e *Engine) checkIPLists(ctx context.Context, ip string) (trusted bool, err error) {
	if ip == "" {
		return false, nil
	}
	verdict, entry, err := e.iplists.Check(ctx, ip)
	if err != nil {
		if errors.Is(err, iplist.ErrInvalidTarget) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	switch verdict {
	case iplist.VerdictBlock:
		e.metricInc(MetricIPBlocked)
		meta := map[string]string{}
		if entry != nil {
			meta["reason"] = entry.Reason
		}
		e.emit(ctx, SecurityEvent{
			EventType: EventGateDenied,
			IP:        ip,
			Error:     ErrIPBlocked.Error(),
			Metadata:  meta,
		})
		return false, ErrIPBlocked
	case iplist.VerdictAllow:
		return true, nil
	}
	return false, nil
}

// assessRisk scores the request and applies the score's action:
// critical scores are rejected and auto-blocked, high scores
// rejected, elevated scores tarpitted.
func (e *Engine) assessRisk(ctx context.Context, ip string, header http.Header) (int, string, error) {
	a, err := e.risk.Assess(ctx, risk.Request{IP: ip, Header: header})
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	switch a.Action() {
	case risk.ActionRejectAndBlock:
		e.metricInc(MetricRiskRejected)
		e.autoBlock(ctx, ip, a)
		return a.Score, a.Fingerprint, ErrHighRisk
	case risk.ActionReject:
		e.metricInc(MetricRiskRejected)
		e.emit(ctx, SecurityEvent{
			EventType: EventRiskRejected,
			IP:        ip,
			Device:    a.Fingerprint,
			RiskScore: a.Score,
			Metadata:  map[string]string{"signals": strconv.Itoa(len(a.Signals))},
		})
		return a.Score, a.Fingerprint, ErrHighRisk
	case risk.ActionDelay:
		e.metricInc(MetricRiskDelayed)
		select {
		case <-time.After(e.risk.Delay()):
		case <-ctx.Done():
			return a.Score, a.Fingerprint, ctx.Err()
		}
	}

	return a.Score, a.Fingerprint, nil
}

func (e *Engine) autoBlock(ctx context.Context, ip string, a *risk.Assessment) {
	ttl := e.config.Risk.AutoBlockTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := e.iplists.Add(ctx, iplist.ListBlock, ip, "critical risk score", "risk-engine", ttl); err == nil {
		e.metricInc(MetricAutoBlock)
		e.emit(ctx, SecurityEvent{
			EventType: EventAutoBlock,
			IP:        ip,
			Device:    a.Fingerprint,
			RiskScore: a.Score,
		})
	}
}

func (e *Engine) checkRateLimit(ctx context.Context, ip string, score int) error {
	if ip == "" {
		return nil
	}
	res, err := e.limiter.Allow(ctx, ip, score)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !res.Allowed {
		e.metricInc(MetricRateLimited)
		e.emit(ctx, SecurityEvent{
			EventType: EventRateLimited,
			IP:        ip,
			RiskScore: score,
			Metadata: map[string]string{
				"limit":       strconv.Itoa(res.Limit),
				"retry_after": res.RetryAfter.String(),
			},
		})
		return &RateLimitError{RetryAfter: res.RetryAfter}
	}
	return nil
}

// validateImpersonator re-checks the driving admin on every request,
// so revoking the admin kills the impersonated session immediately.
func (e *Engine) validateImpersonator(ctx context.Context, adminID string) error {
	admin, err := e.accounts.GetByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidImpersonation
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !admin.Role.IsAdmin() || !state.CanLogin(admin.Status) {
		return ErrInvalidImpersonation
	}
	return nil
}

// touchSession verifies the session belongs to the account, refreshes
// its activity window, and raises an event when the client IP moved.
func (e *Engine) touchSession(ctx context.Context, acct *AccountRecord, sessionID, ip, fingerprint string) error {
	ok, err := e.sessions.Contains(ctx, acct.ID, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !ok {
		e.metricInc(MetricSessionRejected)
		return ErrSessionNotFound
	}

	prevIP, err := e.sessions.Touch(ctx, sessionID, ip)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			e.metricInc(MetricSessionRejected)
			return ErrSessionNotFound
		case errors.Is(err, session.ErrExpired):
			e.metricInc(MetricSessionRejected)
			return ErrSessionExpired
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if prevIP != "" && ip != "" && prevIP != ip {
		e.metricInc(MetricSessionIPChanged)
		e.emit(ctx, SecurityEvent{
			EventType: EventSessionIPMove,
			AccountID: acct.ID,
			SessionID: sessionID,
			IP:        ip,
			Device:    fingerprint,
			Success:   true,
			Metadata:  map[string]string{"previous_ip": prevIP},
		})
		e.notify(Notification{
			Kind:      NotifyIPChanged,
			AccountID: acct.ID,
			Meta:      map[string]string{"previous_ip": prevIP, "ip": ip},
		})
	}

	return nil
}
