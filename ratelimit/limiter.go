// Package ratelimit enforces adaptive request budgets in Redis. Each
// key gets a base fixed window plus a short burst window, and the
// effective limit shrinks for risky clients and repeat violators.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a key has exhausted its budget.
var ErrRateLimited = errors.New("rate limited")

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultBaseLimit   = 300
	DefaultBaseWindow  = 15 * time.Minute
	DefaultBurstLimit  = 30
	DefaultBurstWindow = time.Minute

	DefaultViolationThreshold = 3
	DefaultViolationWindow    = 24 * time.Hour
)

// Risk-based multipliers. When several apply, the smallest wins.
const (
	multiplierElevatedRisk = 0.5
	multiplierHighRisk     = 0.2
	multiplierViolator     = 0.3

	elevatedRiskScore = 40
	highRiskScore     = 70
)

// Config tunes the limiter. Zero values take the package defaults.
type Config struct {
	BaseLimit   int
	BaseWindow  time.Duration
	BurstLimit  int
	BurstWindow time.Duration

	// ViolationThreshold is how many limit breaches inside
	// ViolationWindow put a key into the penalized tier.
	ViolationThreshold int
	ViolationWindow    time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseLimit <= 0 {
		c.BaseLimit = DefaultBaseLimit
	}
	if c.BaseWindow <= 0 {
		c.BaseWindow = DefaultBaseWindow
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = DefaultBurstLimit
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = DefaultBurstWindow
	}
	if c.ViolationThreshold <= 0 {
		c.ViolationThreshold = DefaultViolationThreshold
	}
	if c.ViolationWindow <= 0 {
		c.ViolationWindow = DefaultViolationWindow
	}
}

// Result reports the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is the Redis-backed adaptive limiter. Safe for concurrent
// use.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// New creates a Limiter under the given key prefix.
func New(client redis.UniversalClient, prefix string, cfg Config) *Limiter {
	if prefix == "" {
		prefix = "sg"
	}
	cfg.applyDefaults()
	return &Limiter{redis: client, prefix: prefix, config: cfg}
}

func (l *Limiter) baseKey(key string) string {
	return l.prefix + ":rl:base:" + key
}

func (l *Limiter) burstKey(key string) string {
	return l.prefix + ":rl:burst:" + key
}

func (l *Limiter) violationKey(key string) string {
	return l.prefix + ":rl:viol:" + key
}

// Allow consumes one unit of key's budget. riskScore scales the
// effective limits down; the caller decides what key identifies
// (usually the client IP, optionally IP+route).
func (l *Limiter) Allow(ctx context.Context, key string, riskScore int) (*Result, error) {
	mult, err := l.multiplier(ctx, key, riskScore)
	if err != nil {
		return nil, err
	}

	burstLimit := scaleLimit(l.config.BurstLimit, mult)
	baseLimit := scaleLimit(l.config.BaseLimit, mult)

	if res, err := l.consume(ctx, l.burstKey(key), burstLimit, l.config.BurstWindow); err != nil {
		return nil, err
	} else if !res.Allowed {
		if err := l.recordViolation(ctx, key); err != nil {
			return nil, err
		}
		return res, nil
	}

	res, err := l.consume(ctx, l.baseKey(key), baseLimit, l.config.BaseWindow)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		if err := l.recordViolation(ctx, key); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Violations returns the current breach count for a key.
func (l *Limiter) Violations(ctx context.Context, key string) (int, error) {
	count, err := l.redis.Get(ctx, l.violationKey(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Reset clears all limiter state for a key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	err := l.redis.Del(ctx, l.baseKey(key), l.burstKey(key), l.violationKey(key)).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) multiplier(ctx context.Context, key string, riskScore int) (float64, error) {
	mult := 1.0
	switch {
	case riskScore >= highRiskScore:
		mult = multiplierHighRisk
	case riskScore >= elevatedRiskScore:
		mult = multiplierElevatedRisk
	}

	violations, err := l.Violations(ctx, key)
	if err != nil {
		return 0, err
	}
	if violations > l.config.ViolationThreshold && multiplierViolator < mult {
		mult = multiplierViolator
	}
	return mult, nil
}

func (l *Limiter) consume(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: the TTL starts with the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(limit) {
		retry, err := l.redis.TTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if retry < 0 {
			retry = window
		}
		return &Result{Allowed: false, Limit: limit, RetryAfter: retry}, nil
	}

	return &Result{Allowed: true, Limit: limit, Remaining: limit - int(count)}, nil
}

func (l *Limiter) recordViolation(ctx context.Context, key string) error {
	vkey := l.violationKey(key)
	count, err := l.redis.Incr(ctx, vkey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, vkey, l.config.ViolationWindow).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

func scaleLimit(limit int, mult float64) int {
	scaled := int(float64(limit) * mult)
	if scaled < 1 {
		return 1
	}
	return scaled
}
