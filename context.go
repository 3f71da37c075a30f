package secgate

import (
	"context"
	"net/http"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type headersContextKey struct{}
type principalContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx for rate
// limiting, risk scoring, and event records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithHeaders attaches the request headers used for fingerprinting.
func WithHeaders(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, headersContextKey{}, h)
}

// WithPrincipal attaches an authorized Principal to ctx. The
// middleware does this after a successful gate decision.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the Principal attached by the gate, or
// nil for unauthenticated contexts.
func PrincipalFromContext(ctx context.Context) *Principal {
	if ctx == nil {
		return nil
	}
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return ua
}

// requestUserAgent prefers the header value, falling back to a
// WithUserAgent context value for callers that don't carry headers.
func requestUserAgent(ctx context.Context, h http.Header) string {
	if ua := h.Get("User-Agent"); ua != "" {
		return ua
	}
	return userAgentFromContext(ctx)
}

func headersFromContext(ctx context.Context) http.Header {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(headersContextKey{}).(http.Header)
	return h
}
