// Package middleware adapts the secgate engine to net/http. It
// extracts the client IP and token from the request, runs the gate,
// maps gate errors to status codes and injects the Principal into the
// request context. All decisions are delegated to the engine.
package middleware

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/certlane/secgate"
	"github.com/certlane/secgate/rbac"
)

// TokenCookie is the cookie consulted when no Authorization header is
// present.
const TokenCookie = "secgate_token"

// Options tunes how Guard reads the request.
type Options struct {
	// TrustForwardedFor enables X-Forwarded-For parsing. Only set this
	// behind a proxy that strips the client-supplied header.
	TrustForwardedFor bool

	// RequireAny and RequireAll are passed through to the gate.
	RequireAny []rbac.Permission
	RequireAll []rbac.Permission

	// Sensitive marks the wrapped routes as denied to principals with
	// expired passwords.
	Sensitive bool
}

// Guard wraps a handler with the full security gate.
func Guard(engine *secgate.Engine, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ip := ClientIP(r, opts.TrustForwardedFor)

			principal, err := engine.Authorize(r.Context(), secgate.AccessRequest{
				Token:      requestToken(r),
				IP:         ip,
				Header:     r.Header,
				RequireAny: opts.RequireAny,
				RequireAll: opts.RequireAll,
				Sensitive:  opts.Sensitive,
			})
			if err != nil {
				var rl *secgate.RateLimitError
				if errors.As(err, &rl) && rl.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl.RetryAfter)))
				}
				status, msg := statusFor(err)
				http.Error(w, msg, status)
				return
			}

			ctx := secgate.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermissions is Guard with an any-of permission list.
func RequirePermissions(engine *secgate.Engine, perms ...rbac.Permission) func(http.Handler) http.Handler {
	return Guard(engine, Options{RequireAny: perms})
}

// ClientIP resolves the request's client address. With forwarded
// parsing enabled the first entry of X-Forwarded-For wins, falling
// back to the socket address.
func ClientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := xff
			if i := strings.IndexByte(xff, ','); i >= 0 {
				first = xff[:i]
			}
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
			return rip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryAfterSeconds rounds up so the client never retries early.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func requestToken(r *http.Request) string {
	const bearer = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearer) {
		return auth[len(bearer):]
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, secgate.ErrTokenMissing),
		errors.Is(err, secgate.ErrTokenExpired),
		errors.Is(err, secgate.ErrTokenInvalid),
		errors.Is(err, secgate.ErrSessionNotFound),
		errors.Is(err, secgate.ErrSessionExpired),
		errors.Is(err, secgate.ErrSessionInvalidated),
		errors.Is(err, secgate.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, secgate.ErrAccountLocked):
		return http.StatusLocked, "account locked"
	case errors.Is(err, secgate.ErrRateLimited):
		return http.StatusTooManyRequests, "rate limited"
	case errors.Is(err, secgate.ErrHighRisk):
		return http.StatusTooManyRequests, "rate limited"
	case errors.Is(err, secgate.ErrMaintenance):
		return http.StatusServiceUnavailable, "maintenance"
	case errors.Is(err, secgate.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, secgate.ErrIPBlocked),
		errors.Is(err, secgate.ErrPermissionDenied),
		errors.Is(err, secgate.ErrLoginNotAllowed),
		errors.Is(err, secgate.ErrInvalidImpersonation),
		errors.Is(err, secgate.ErrPasswordExpired):
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusForbidden, "forbidden"
}
