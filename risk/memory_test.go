package risk

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreScoreCache(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, ok, _ := s.CachedScore(ctx, "1.2.3.4", "fp"); ok {
		t.Fatal("empty store should miss")
	}
	if err := s.CacheScore(ctx, "1.2.3.4", "fp", 55, time.Minute); err != nil {
		t.Fatalf("CacheScore error: %v", err)
	}
	score, ok, err := s.CachedScore(ctx, "1.2.3.4", "fp")
	if err != nil || !ok || score != 55 {
		t.Fatalf("CachedScore = %d, %v, %v", score, ok, err)
	}

	if err := s.CacheScore(ctx, "1.2.3.4", "stale", 10, -time.Second); err != nil {
		t.Fatalf("CacheScore error: %v", err)
	}
	if _, ok, _ := s.CachedScore(ctx, "1.2.3.4", "stale"); ok {
		t.Fatal("expired entry should miss")
	}
}

func TestMemoryStoreTrackIP(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.1"} {
		n, err := s.TrackIP(ctx, "fp", ip, time.Hour)
		if err != nil {
			t.Fatalf("TrackIP error: %v", err)
		}
		want := []int{1, 2, 2}[i]
		if n != want {
			t.Fatalf("distinct after %d tracks = %d, want %d", i+1, n, want)
		}
	}
}

func TestMemoryStoreEngineIntegration(t *testing.T) {
	e := NewEngine(NewMemoryStore())

	a, err := e.Assess(context.Background(), Request{IP: "203.0.113.10", Header: browserHeaders()})
	if err != nil {
		t.Fatalf("Assess error: %v", err)
	}
	if a.Score != 0 {
		t.Fatalf("score = %d, want 0", a.Score)
	}

	b, err := e.Assess(context.Background(), Request{IP: "203.0.113.10", Header: browserHeaders()})
	if err != nil {
		t.Fatalf("Assess error: %v", err)
	}
	if !b.Cached {
		t.Fatal("second assessment should be cached")
	}
}
