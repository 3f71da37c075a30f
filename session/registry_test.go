package session

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRegistry(client, "sg", 30*time.Minute), mr
}

func TestCreateAndGet(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	sess := &Session{
		ID:          "sess-1",
		AccountID:   "acct-1",
		IP:          "203.0.113.10",
		UserAgent:   "test-agent",
		Fingerprint: "fp-1",
	}
	if err := r.Create(ctx, sess); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := r.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.AccountID != "acct-1" || got.IP != "203.0.113.10" || got.Fingerprint != "fp-1" {
		t.Fatalf("unexpected session: %+v", got)
	}

	ok, err := r.Contains(ctx, "acct-1", "sess-1")
	if err != nil {
		t.Fatalf("Contains error: %v", err)
	}
	if !ok {
		t.Fatal("expected session to be indexed under its account")
	}
}

func TestGetMissing(t *testing.T) {
	r, _ := newTestRegistry(t)

	if _, err := r.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTouchUpdatesActivityAndReturnsPreviousIP(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Create(ctx, &Session{ID: "sess-1", AccountID: "acct-1", IP: "203.0.113.10"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	prev, err := r.Touch(ctx, "sess-1", "198.51.100.7")
	if err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	if prev != "203.0.113.10" {
		t.Fatalf("previous IP = %q, want 203.0.113.10", prev)
	}

	got, err := r.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.IP != "198.51.100.7" {
		t.Fatalf("stored IP = %q, want the touched IP", got.IP)
	}
}

func TestTouchMissingSession(t *testing.T) {
	r, _ := newTestRegistry(t)

	if _, err := r.Touch(context.Background(), "absent", "203.0.113.10"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTouchIdleExpiredSessionIsDeleted(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Create(ctx, &Session{ID: "sess-1", AccountID: "acct-1", IP: "203.0.113.10"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	// Backdate the activity timestamp past the idle window.
	stale := time.Now().Add(-31 * time.Minute).Unix()
	mr.HSet("sg:sess:sess-1", "seen", strconv.FormatInt(stale, 10))

	if _, err := r.Touch(ctx, "sess-1", "203.0.113.10"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := r.Get(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session should be gone, got %v", err)
	}
	ok, err := r.Contains(ctx, "acct-1", "sess-1")
	if err != nil {
		t.Fatalf("Contains error: %v", err)
	}
	if ok {
		t.Fatal("expired session should be unindexed")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Create(ctx, &Session{ID: "sess-1", AccountID: "acct-1"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := r.Delete(ctx, "acct-1", "sess-1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := r.Delete(ctx, "acct-1", "sess-1"); err != nil {
		t.Fatalf("second Delete error: %v", err)
	}
	if _, err := r.Get(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteAllForAccount(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := r.Create(ctx, &Session{ID: id, AccountID: "acct-1"}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	if err := r.Create(ctx, &Session{ID: "other", AccountID: "acct-2"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	n, err := r.DeleteAllForAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("DeleteAllForAccount error: %v", err)
	}
	if n != 3 {
		t.Fatalf("deleted %d sessions, want 3", n)
	}

	count, err := r.ActiveSessionCount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ActiveSessionCount error: %v", err)
	}
	if count != 0 {
		t.Fatalf("acct-1 still has %d indexed sessions", count)
	}
	if _, err := r.Get(ctx, "other"); err != nil {
		t.Fatalf("unrelated account's session should survive: %v", err)
	}
}

func TestPruneDropsDeadIndexEntries(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Create(ctx, &Session{ID: "live", AccountID: "acct-1"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := r.Create(ctx, &Session{ID: "dead", AccountID: "acct-1"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	// Simulate TTL expiry of the record while the index entry remains.
	mr.Del("sg:sess:dead")

	removed, err := r.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("pruned %d entries, want 1", removed)
	}

	ids, err := r.ActiveSessionIDs(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "live" {
		t.Fatalf("index = %v, want only the live session", ids)
	}
}
