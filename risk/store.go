package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store is the persistence the Engine needs: a short-lived score
// cache and a per-fingerprint distinct-IP tracker.
type Store interface {
	CachedScore(ctx context.Context, ip, fingerprint string) (score int, ok bool, err error)
	CacheScore(ctx context.Context, ip, fingerprint string, score int, ttl time.Duration) error
	TrackIP(ctx context.Context, fingerprint, ip string, window time.Duration) (distinct int, err error)
}

// RedisStore is the production Store.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore under the given key prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sg"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) scoreKey(ip, fingerprint string) string {
	return s.prefix + ":risk:score:" + ip + ":" + fingerprint
}

func (s *RedisStore) trackKey(fingerprint string) string {
	return s.prefix + ":risk:ips:" + fingerprint
}

// CachedScore returns the cached score for the pair, if present.
func (s *RedisStore) CachedScore(ctx context.Context, ip, fingerprint string) (int, bool, error) {
	score, err := s.redis.Get(ctx, s.scoreKey(ip, fingerprint)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return score, true, nil
}

// CacheScore stores the score for the pair with the given TTL.
func (s *RedisStore) CacheScore(ctx context.Context, ip, fingerprint string, score int, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.scoreKey(ip, fingerprint), score, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// TrackIP records that fingerprint was seen from ip and returns the
// distinct IP count in the window. The window TTL is set when the set
// is first created, so the count resets as a block rather than
// sliding per member.
func (s *RedisStore) TrackIP(ctx context.Context, fingerprint, ip string, window time.Duration) (int, error) {
	key := s.trackKey(fingerprint)

	added, err := s.redis.SAdd(ctx, key, ip).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if added == 1 {
		// First sight of this IP; make sure the set expires. NX keeps
		// an established window from being extended.
		if err := s.redis.ExpireNX(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	count, err := s.redis.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}
