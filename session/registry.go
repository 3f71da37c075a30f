package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session ID has no live record.
var ErrNotFound = errors.New("session not found")

// ErrExpired is returned when a session exists but has been idle past
// the registry's idle timeout. The record is removed as a side effect.
var ErrExpired = errors.New("session expired")

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// DefaultIdleTimeout is how long a session may sit untouched before it
// stops being usable.
const DefaultIdleTimeout = 30 * time.Minute

const (
	touchStatusNotFound int64 = 0
	touchStatusExpired  int64 = 1
	touchStatusTouched  int64 = 2
)

// touchScript refreshes a session's activity timestamp and IP in one
// round trip. An idle-expired session is deleted and unindexed here
// rather than left for the sweeper, so the caller sees the expiry on
// the request that discovered it. Returns the previous IP on success
// so the caller can detect address changes.
const touchScript = `
local seen = redis.call("HGET", KEYS[1], "seen")
if not seen then
  return {0}
end
local now = tonumber(ARGV[1])
local idle = tonumber(ARGV[2])
local aid = redis.call("HGET", KEYS[1], "aid")
if now - tonumber(seen) > idle then
  redis.call("DEL", KEYS[1])
  if aid then
    redis.call("SREM", ARGV[3] .. aid, ARGV[4])
  end
  return {1}
end
local prev = redis.call("HGET", KEYS[1], "ip") or ""
redis.call("HSET", KEYS[1], "seen", now, "ip", ARGV[5])
redis.call("EXPIRE", KEYS[1], idle)
return {2, prev}
`

var touchLua = redis.NewScript(touchScript)

// deleteScript removes a session and its index entry atomically.
// Both calls run even if the record already vanished, so repeated
// logout of the same session is a no-op.
const deleteScript = `
redis.call("SREM", KEYS[2], ARGV[1])
return redis.call("DEL", KEYS[1])
`

var deleteLua = redis.NewScript(deleteScript)

// Registry is the Redis-backed session registry.
type Registry struct {
	redis       redis.UniversalClient
	prefix      string
	idleTimeout time.Duration
}

// NewRegistry creates a Registry. prefix namespaces all keys;
// idleTimeout <= 0 falls back to DefaultIdleTimeout.
func NewRegistry(client redis.UniversalClient, prefix string, idleTimeout time.Duration) *Registry {
	if prefix == "" {
		prefix = "sg"
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Registry{redis: client, prefix: prefix, idleTimeout: idleTimeout}
}

// IdleTimeout returns the configured idle window.
func (r *Registry) IdleTimeout() time.Duration {
	return r.idleTimeout
}

func (r *Registry) sessionKey(sessionID string) string {
	return r.prefix + ":sess:" + sessionID
}

func (r *Registry) accountKey(accountID string) string {
	return r.prefix + ":acct:" + accountID
}

func (r *Registry) accountKeyPrefix() string {
	return r.prefix + ":acct:"
}

// Create persists a new session and indexes it under its account.
func (r *Registry) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" || sess.AccountID == "" {
		return errors.New("session requires an ID and account ID")
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastActivity.IsZero() {
		sess.LastActivity = now
	}

	key := r.sessionKey(sess.ID)
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"aid", sess.AccountID,
			"ip", sess.IP,
			"ua", sess.UserAgent,
			"fp", sess.Fingerprint,
			"imp", sess.ImpersonatedBy,
			"created", sess.CreatedAt.Unix(),
			"seen", sess.LastActivity.Unix(),
		)
		pipe.Expire(ctx, key, r.idleTimeout)
		pipe.SAdd(ctx, r.accountKey(sess.AccountID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get fetches a session without mutating its activity timestamp.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := r.redis.HGetAll(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	created, _ := strconv.ParseInt(fields["created"], 10, 64)
	seen, _ := strconv.ParseInt(fields["seen"], 10, 64)
	return &Session{
		ID:             sessionID,
		AccountID:      fields["aid"],
		IP:             fields["ip"],
		UserAgent:      fields["ua"],
		Fingerprint:    fields["fp"],
		ImpersonatedBy: fields["imp"],
		CreatedAt:      time.Unix(created, 0),
		LastActivity:   time.Unix(seen, 0),
	}, nil
}

// Touch records activity on a session: updates lastActivity and the
// observed IP, extends the idle TTL, and returns the IP seen on the
// previous request. A session idle past the timeout is deleted and
// ErrExpired is returned.
func (r *Registry) Touch(ctx context.Context, sessionID, ip string) (prevIP string, err error) {
	result, err := touchLua.Run(
		ctx,
		r.redis,
		[]string{r.sessionKey(sessionID)},
		time.Now().Unix(),
		int(r.idleTimeout.Seconds()),
		r.accountKeyPrefix(),
		sessionID,
		ip,
	).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return "", fmt.Errorf("%w: invalid touch script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return "", fmt.Errorf("%w: invalid touch script status", ErrRedisUnavailable)
	}

	switch code {
	case touchStatusNotFound:
		return "", ErrNotFound
	case touchStatusExpired:
		return "", ErrExpired
	case touchStatusTouched:
		if len(parts) > 1 {
			if s, ok := parts[1].(string); ok {
				prevIP = s
			}
		}
		return prevIP, nil
	default:
		return "", fmt.Errorf("%w: unknown touch script status", ErrRedisUnavailable)
	}
}

// Contains reports whether sessionID is indexed under accountID.
func (r *Registry) Contains(ctx context.Context, accountID, sessionID string) (bool, error) {
	ok, err := r.redis.SIsMember(ctx, r.accountKey(accountID), sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

// Delete removes one session. Deleting a session that no longer
// exists is not an error.
func (r *Registry) Delete(ctx context.Context, accountID, sessionID string) error {
	_, err := deleteLua.Run(
		ctx,
		r.redis,
		[]string{r.sessionKey(sessionID), r.accountKey(accountID)},
		sessionID,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForAccount removes every session indexed under accountID
// and returns how many were deleted. A session created concurrently
// with this call may survive; callers that bump the account's token
// version make any such survivor unusable anyway.
func (r *Registry) DeleteAllForAccount(ctx context.Context, accountID string) (int, error) {
	indexKey := r.accountKey(accountID)
	ids, err := r.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.sessionKey(id))
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return len(ids), nil
}

// ActiveSessionIDs lists the indexed session IDs for an account. The
// index can momentarily include sessions whose records have expired;
// Prune removes those.
func (r *Registry) ActiveSessionIDs(ctx context.Context, accountID string) ([]string, error) {
	ids, err := r.redis.SMembers(ctx, r.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// ActiveSessionCount returns the size of an account's session index.
func (r *Registry) ActiveSessionCount(ctx context.Context, accountID string) (int, error) {
	count, err := r.redis.SCard(ctx, r.accountKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Prune walks account indexes and drops members whose session record
// has expired out from under them. O(n) over indexes; run it from a
// background sweeper, not a request path.
func (r *Registry) Prune(ctx context.Context) (removed int, err error) {
	pattern := r.accountKeyPrefix() + "*"
	var cursor uint64

	for {
		keys, next, err := r.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for _, indexKey := range keys {
			ids, err := r.redis.SMembers(ctx, indexKey).Result()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			for _, id := range ids {
				exists, err := r.redis.Exists(ctx, r.sessionKey(id)).Result()
				if err != nil {
					return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
				if exists == 0 {
					if err := r.redis.SRem(ctx, indexKey, id).Err(); err != nil {
						return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
					}
					removed++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// Ping reports Redis availability and round-trip latency.
func (r *Registry) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
