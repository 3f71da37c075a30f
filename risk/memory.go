package risk

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for single-instance
// deployments and tests. Counts are per-process: behind a load
// balancer each instance sees only its own traffic, so use the Redis
// store there.
type MemoryStore struct {
	mu     sync.Mutex
	scores map[string]memoryScore
	ips    map[string]memoryIPSet
}

type memoryScore struct {
	score   int
	expires time.Time
}

type memoryIPSet struct {
	ips     map[string]struct{}
	expires time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scores: make(map[string]memoryScore),
		ips:    make(map[string]memoryIPSet),
	}
}

func (s *MemoryStore) CachedScore(_ context.Context, ip, fingerprint string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ip + ":" + fingerprint
	entry, ok := s.scores[key]
	if !ok {
		return 0, false, nil
	}
	if time.Now().After(entry.expires) {
		delete(s.scores, key)
		return 0, false, nil
	}
	return entry.score, true, nil
}

func (s *MemoryStore) CacheScore(_ context.Context, ip, fingerprint string, score int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scores[ip+":"+fingerprint] = memoryScore{score: score, expires: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) TrackIP(_ context.Context, fingerprint, ip string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	set, ok := s.ips[fingerprint]
	if !ok || now.After(set.expires) {
		set = memoryIPSet{ips: make(map[string]struct{}), expires: now.Add(window)}
		s.ips[fingerprint] = set
	}
	set.ips[ip] = struct{}{}
	return len(set.ips), nil
}

// Prune drops expired entries. The Redis store expires keys natively;
// this keeps the memory store from growing without bound.
func (s *MemoryStore) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, v := range s.scores {
		if now.After(v.expires) {
			delete(s.scores, k)
		}
	}
	for k, v := range s.ips {
		if now.After(v.expires) {
			delete(s.ips, k)
		}
	}
}
