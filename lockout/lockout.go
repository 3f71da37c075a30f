// Package lockout tracks failed credential attempts per account and
// enforces temporary locks once the failure threshold is hit. Locks
// carry their own expiry; stale lock keys are cleared lazily at check
// time and swept in the background.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultThreshold = 5
	DefaultDuration  = 30 * time.Minute
)

// Config tunes the lockout tracker.
type Config struct {
	// Threshold is how many failures trigger a lock.
	Threshold int
	// Duration is both the lock length and the rolling window in
	// which failures accumulate.
	Duration time.Duration
}

// Status is the lock state of one account.
type Status struct {
	Locked   bool
	Until    time.Time
	Failures int
}

// Tracker is the Redis-backed lockout tracker. Safe for concurrent
// use.
type Tracker struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// New creates a Tracker under the given key prefix.
func New(client redis.UniversalClient, prefix string, cfg Config) *Tracker {
	if prefix == "" {
		prefix = "sg"
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	return &Tracker{redis: client, prefix: prefix, config: cfg}
}

func (t *Tracker) failKey(accountID string) string {
	return t.prefix + ":lock:fail:" + accountID
}

func (t *Tracker) untilKey(accountID string) string {
	return t.prefix + ":lock:until:" + accountID
}

// RecordFailure counts one failed attempt. Crossing the threshold
// sets the lock; the returned Status reflects the state after this
// failure.
func (t *Tracker) RecordFailure(ctx context.Context, accountID string) (*Status, error) {
	key := t.failKey(accountID)
	count, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		// Rolling window: failures age out together with the lock
		// duration.
		if err := t.redis.Expire(ctx, key, t.config.Duration).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	status := &Status{Failures: int(count)}
	if count >= int64(t.config.Threshold) {
		until := time.Now().Add(t.config.Duration)
		err := t.redis.Set(ctx, t.untilKey(accountID), until.Unix(), t.config.Duration).Err()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		status.Locked = true
		status.Until = until
	}
	return status, nil
}

// Check returns the account's lock state. A lock whose deadline has
// passed is cleared here rather than waiting for the sweeper, so the
// first attempt after expiry sees an unlocked account.
func (t *Tracker) Check(ctx context.Context, accountID string) (*Status, error) {
	raw, err := t.redis.Get(ctx, t.untilKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			failures, err := t.failures(ctx, accountID)
			if err != nil {
				return nil, err
			}
			return &Status{Failures: failures}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	untilUnix, _ := strconv.ParseInt(raw, 10, 64)
	until := time.Unix(untilUnix, 0)
	if !time.Now().Before(until) {
		// Lazy clear of a stale lock.
		if err := t.Clear(ctx, accountID); err != nil {
			return nil, err
		}
		return &Status{}, nil
	}

	failures, err := t.failures(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Status{Locked: true, Until: until, Failures: failures}, nil
}

// Clear removes the lock and the failure counter, for successful
// logins and manual admin unlocks.
func (t *Tracker) Clear(ctx context.Context, accountID string) error {
	if err := t.redis.Del(ctx, t.failKey(accountID), t.untilKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Sweep removes lock keys whose deadline has passed. Redis TTLs make
// this mostly redundant; it exists to reap keys written with a longer
// TTL than their deadline after config changes.
func (t *Tracker) Sweep(ctx context.Context) (removed int, err error) {
	pattern := t.prefix + ":lock:until:*"
	var cursor uint64
	now := time.Now().Unix()

	for {
		keys, next, err := t.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, key := range keys {
			raw, err := t.redis.Get(ctx, key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			untilUnix, _ := strconv.ParseInt(raw, 10, 64)
			if untilUnix <= now {
				if err := t.redis.Del(ctx, key).Err(); err != nil {
					return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
				removed++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

func (t *Tracker) failures(ctx context.Context, accountID string) (int, error) {
	count, err := t.redis.Get(ctx, t.failKey(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}
