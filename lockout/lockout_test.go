package lockout

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, "sg", cfg), mr
}

func TestLockAfterThreshold(t *testing.T) {
	tr, _ := newTestTracker(t, Config{Threshold: 5, Duration: 30 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		status, err := tr.RecordFailure(ctx, "acct-1")
		if err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
		if status.Locked {
			t.Fatalf("locked after %d failures, threshold is 5", i+1)
		}
	}

	status, err := tr.RecordFailure(ctx, "acct-1")
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if !status.Locked {
		t.Fatal("fifth failure should lock the account")
	}
	if status.Until.Before(time.Now().Add(29 * time.Minute)) {
		t.Fatalf("lock deadline %v is too soon", status.Until)
	}

	check, err := tr.Check(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !check.Locked || check.Failures != 5 {
		t.Fatalf("check = %+v, want locked with 5 failures", check)
	}
}

func TestCheckUnlockedAccount(t *testing.T) {
	tr, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	status, err := tr.Check(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if status.Locked || status.Failures != 0 {
		t.Fatalf("fresh account status = %+v", status)
	}
}

func TestLockExpiresWithTime(t *testing.T) {
	tr, mr := newTestTracker(t, Config{Threshold: 2, Duration: 30 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := tr.RecordFailure(ctx, "acct-1"); err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
	}
	mr.FastForward(31 * time.Minute)

	status, err := tr.Check(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if status.Locked {
		t.Fatal("lock should have expired")
	}
}

func TestLazyClearOfStaleLock(t *testing.T) {
	tr, mr := newTestTracker(t, Config{Threshold: 2, Duration: 30 * time.Minute})
	ctx := context.Background()

	// Simulate a lock whose stored deadline passed while the key TTL
	// outlived it.
	past := time.Now().Add(-time.Minute).Unix()
	mr.Set("sg:lock:until:acct-1", strconv.FormatInt(past, 10))

	status, err := tr.Check(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if status.Locked {
		t.Fatal("stale lock should be cleared on check")
	}
	if mr.Exists("sg:lock:until:acct-1") {
		t.Fatal("stale lock key should be deleted")
	}
}

func TestClear(t *testing.T) {
	tr, _ := newTestTracker(t, Config{Threshold: 2, Duration: 30 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := tr.RecordFailure(ctx, "acct-1"); err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
	}
	if err := tr.Clear(ctx, "acct-1"); err != nil {
		t.Fatalf("Clear error: %v", err)
	}

	status, err := tr.Check(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if status.Locked || status.Failures != 0 {
		t.Fatalf("status after clear = %+v", status)
	}
}

func TestSweepRemovesStaleLocks(t *testing.T) {
	tr, mr := newTestTracker(t, Config{Threshold: 2, Duration: 30 * time.Minute})
	ctx := context.Background()

	past := time.Now().Add(-time.Minute).Unix()
	future := time.Now().Add(time.Hour).Unix()
	mr.Set("sg:lock:until:stale", strconv.FormatInt(past, 10))
	mr.Set("sg:lock:until:live", strconv.FormatInt(future, 10))

	removed, err := tr.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("swept %d locks, want 1", removed)
	}
	if mr.Exists("sg:lock:until:stale") {
		t.Fatal("stale lock should be swept")
	}
	if !mr.Exists("sg:lock:until:live") {
		t.Fatal("live lock should survive the sweep")
	}
}
