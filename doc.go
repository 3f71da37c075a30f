// Package secgate is a request-time security gate for a multi-role
// certification platform.
//
// The Engine runs a fixed pipeline over every request: IP reputation,
// risk scoring, adaptive rate limiting, token verification, session
// validation, account lifecycle state, lockout and role permissions.
// Any stage short-circuits with a sentinel error; success yields a
// Principal carrying the authenticated identity and its risk context.
//
// Build an engine with the fluent builder:
//
//	engine, err := secgate.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithAccountProvider(provider).
//		Build()
//
// Redis holds all shared mutable state (sessions, counters, caches,
// IP lists); account records stay behind the AccountProvider
// interface so the engine never owns user storage. The middleware
// package adapts the gate to net/http, and metrics/export holds the
// Prometheus and OpenTelemetry bindings.
package secgate
