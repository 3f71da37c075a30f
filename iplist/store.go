// Package iplist keeps the IP reputation lists: explicit allow and
// block entries for single addresses and CIDR ranges. Exact entries
// match before ranges; among ranges the longest prefix wins.
package iplist

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrInvalidTarget is returned when a target is neither an IP address
// nor a CIDR prefix.
var ErrInvalidTarget = errors.New("target is not an IP address or CIDR prefix")

// List names the two reputation lists.
type List string

const (
	ListAllow List = "allow"
	ListBlock List = "block"
)

// Verdict is the outcome of a lookup.
type Verdict int

const (
	// VerdictNone means no entry matched.
	VerdictNone Verdict = iota
	// VerdictAllow means the IP is explicitly trusted.
	VerdictAllow
	// VerdictBlock means the IP is explicitly blocked.
	VerdictBlock
)

// Entry is one reputation record.
type Entry struct {
	Target    string
	List      List
	Reason    string
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt time.Time
	Hits      int64
	LastHit   time.Time
}

// Expired reports whether the entry's expiry has passed. A zero
// ExpiresAt never expires.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Store is the Redis-backed reputation store. Exact entries live in
// their own keys so Redis TTLs expire them; CIDR entries additionally
// sit in an index set that Prune reconciles.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a Store under the given key prefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "sg"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) exactKey(ip string) string {
	return s.prefix + ":ipl:exact:" + ip
}

func (s *Store) cidrKey(prefix string) string {
	return s.prefix + ":ipl:cidr:" + prefix
}

func (s *Store) cidrIndexKey() string {
	return s.prefix + ":ipl:cidrs"
}

// Add puts target on the given list. target is a single IP or a CIDR
// prefix. ttl <= 0 makes the entry permanent. Re-adding replaces the
// existing entry, including its hit counter.
func (s *Store) Add(ctx context.Context, list List, target, reason, createdBy string, ttl time.Duration) error {
	target, isCIDR, err := normalizeTarget(target)
	if err != nil {
		return err
	}

	var key string
	if isCIDR {
		key = s.cidrKey(target)
	} else {
		key = s.exactKey(target)
	}

	now := time.Now()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).Unix()
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"list", string(list),
			"reason", reason,
			"by", createdBy,
			"created", now.Unix(),
			"exp", expiresAt,
		)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		if isCIDR {
			pipe.SAdd(ctx, s.cidrIndexKey(), target)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Remove deletes target from whichever list holds it.
func (s *Store) Remove(ctx context.Context, target string) error {
	target, isCIDR, err := normalizeTarget(target)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if isCIDR {
			pipe.Del(ctx, s.cidrKey(target))
			pipe.SRem(ctx, s.cidrIndexKey(), target)
		} else {
			pipe.Del(ctx, s.exactKey(target))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Check looks up ip against the lists. An exact entry wins over any
// range; among matching ranges the most specific prefix wins. Ties
// cannot occur: a target holds at most one entry, and distinct
// prefixes of equal length never contain the same address. A match
// increments the entry's hit counter.
func (s *Store) Check(ctx context.Context, ip string) (Verdict, *Entry, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return VerdictNone, nil, fmt.Errorf("%w: %q", ErrInvalidTarget, ip)
	}
	addr = addr.Unmap()
	canonical := addr.String()

	entry, err := s.readEntry(ctx, s.exactKey(canonical), canonical)
	if err != nil {
		return VerdictNone, nil, err
	}
	if entry != nil {
		return s.hit(ctx, s.exactKey(canonical), entry)
	}

	prefixes, err := s.redis.SMembers(ctx, s.cidrIndexKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return VerdictNone, nil, nil
		}
		return VerdictNone, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var (
		best     *Entry
		bestKey  string
		bestBits = -1
	)
	for _, raw := range prefixes {
		pfx, err := netip.ParsePrefix(raw)
		if err != nil || !pfx.Contains(addr) || pfx.Bits() <= bestBits {
			continue
		}
		e, err := s.readEntry(ctx, s.cidrKey(raw), raw)
		if err != nil {
			return VerdictNone, nil, err
		}
		if e == nil {
			continue
		}
		best = e
		bestKey = s.cidrKey(raw)
		bestBits = pfx.Bits()
	}
	if best == nil {
		return VerdictNone, nil, nil
	}
	return s.hit(ctx, bestKey, best)
}

// Get returns the entry for target without touching its hit counter.
func (s *Store) Get(ctx context.Context, target string) (*Entry, error) {
	target, isCIDR, err := normalizeTarget(target)
	if err != nil {
		return nil, err
	}
	key := s.exactKey(target)
	if isCIDR {
		key = s.cidrKey(target)
	}
	return s.readEntry(ctx, key, target)
}

// Entries lists all live CIDR entries plus the exact entry for each
// address in addrs (exact entries are per-key, so enumeration needs
// the caller to say which addresses it cares about).
func (s *Store) Entries(ctx context.Context, addrs []string) ([]*Entry, error) {
	var out []*Entry
	for _, a := range addrs {
		e, err := s.readEntry(ctx, s.exactKey(a), a)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}

	prefixes, err := s.redis.SMembers(ctx, s.cidrIndexKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	for _, raw := range prefixes {
		e, err := s.readEntry(ctx, s.cidrKey(raw), raw)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// Prune drops CIDR index members whose entry keys have expired.
// Exact entries expire through their key TTL and need no sweeping.
func (s *Store) Prune(ctx context.Context) (removed int, err error) {
	prefixes, err := s.redis.SMembers(ctx, s.cidrIndexKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	for _, raw := range prefixes {
		exists, err := s.redis.Exists(ctx, s.cidrKey(raw)).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if exists == 0 {
			if err := s.redis.SRem(ctx, s.cidrIndexKey(), raw).Err(); err != nil {
				return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			removed++
		}
	}
	return removed, nil
}

func (s *Store) readEntry(ctx context.Context, key, target string) (*Entry, error) {
	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	created, _ := strconv.ParseInt(fields["created"], 10, 64)
	exp, _ := strconv.ParseInt(fields["exp"], 10, 64)
	hits, _ := strconv.ParseInt(fields["hits"], 10, 64)
	lastHit, _ := strconv.ParseInt(fields["lasthit"], 10, 64)

	entry := &Entry{
		Target:    target,
		List:      List(fields["list"]),
		Reason:    fields["reason"],
		CreatedBy: fields["by"],
		CreatedAt: time.Unix(created, 0),
		Hits:      hits,
	}
	if lastHit > 0 {
		entry.LastHit = time.Unix(lastHit, 0)
	}
	if exp > 0 {
		entry.ExpiresAt = time.Unix(exp, 0)
	}

	// CIDR entries carry their expiry in the hash because the index
	// set has no TTL of its own.
	if entry.Expired(time.Now()) {
		return nil, nil
	}
	return entry, nil
}

func (s *Store) hit(ctx context.Context, key string, entry *Entry) (Verdict, *Entry, error) {
	now := time.Now()
	hits, err := s.redis.HIncrBy(ctx, key, "hits", 1).Result()
	if err != nil {
		return VerdictNone, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if err := s.redis.HSet(ctx, key, "lasthit", now.Unix()).Err(); err != nil {
		return VerdictNone, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	entry.Hits = hits
	entry.LastHit = now

	switch entry.List {
	case ListAllow:
		return VerdictAllow, entry, nil
	case ListBlock:
		return VerdictBlock, entry, nil
	default:
		return VerdictNone, nil, nil
	}
}

func normalizeTarget(target string) (canonical string, isCIDR bool, err error) {
	target = strings.TrimSpace(target)
	if pfx, err := netip.ParsePrefix(target); err == nil {
		return pfx.Masked().String(), true, nil
	}
	if addr, err := netip.ParseAddr(target); err == nil {
		return addr.Unmap().String(), false, nil
	}
	return "", false, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
}
