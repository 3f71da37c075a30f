package password

import (
	"errors"
	"testing"
	"time"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(newTestHasher(t), 0, 0, 0)
	if err != nil {
		t.Fatalf("NewPolicy error: %v", err)
	}
	return p
}

func TestCheckComplexity(t *testing.T) {
	p := newTestPolicy(t)

	cases := []struct {
		password string
		want     error
	}{
		{"Str0ng!Enough-Pass", nil},
		{"Sh0rt!pw", ErrTooShort},
		{"n0-uppercase!here", ErrMissingUpper},
		{"N0-LOWERCASE!HERE", ErrMissingLower},
		{"No-Digits-At-All!", ErrMissingDigit},
		{"NoSpecials0Here12", ErrMissingSpecial},
	}
	for _, tc := range cases {
		if err := p.CheckComplexity(tc.password); !errors.Is(err, tc.want) {
			t.Errorf("CheckComplexity(%q) = %v, want %v", tc.password, err, tc.want)
		}
	}
}

func TestCheckHistoryRejectsRecentReuse(t *testing.T) {
	p := newTestPolicy(t)

	var history []string
	for _, pw := range []string{"Old-Password-0!", "Old-Password-1!", "Old-Password-2!"} {
		hash, err := p.hasher.Hash(pw)
		if err != nil {
			t.Fatalf("Hash error: %v", err)
		}
		history = p.PushHistory(history, hash)
	}

	if err := p.CheckHistory("Old-Password-1!", history); !errors.Is(err, ErrRecentlyUsed) {
		t.Fatalf("expected ErrRecentlyUsed, got %v", err)
	}
	if err := p.CheckHistory("Brand-New-Pass-9!", history); err != nil {
		t.Fatalf("unexpected error for fresh password: %v", err)
	}
}

func TestHistoryWindowEvictsOldest(t *testing.T) {
	p := newTestPolicy(t)

	first, err := p.hasher.Hash("Evicted-Pass-0!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	history := []string{first}
	for i := 0; i < DefaultHistorySize; i++ {
		h, err := p.hasher.Hash("Filler-Pass-X!")
		if err != nil {
			t.Fatalf("Hash error: %v", err)
		}
		history = p.PushHistory(history, h)
	}
	if len(history) != DefaultHistorySize {
		t.Fatalf("history length = %d, want %d", len(history), DefaultHistorySize)
	}

	// The oldest entry rotated out, so its password is acceptable again.
	if err := p.CheckHistory("Evicted-Pass-0!", history); err != nil {
		t.Fatalf("evicted password should be reusable, got %v", err)
	}
}

func TestSetValidatesAndAppends(t *testing.T) {
	p := newTestPolicy(t)

	hash, history, err := p.Set("Fresh-Passw0rd!", nil)
	if err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if len(history) != 1 || history[0] != hash {
		t.Fatalf("history = %v, want single entry %q", history, hash)
	}

	if _, _, err := p.Set("weak", history); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if _, _, err := p.Set("Fresh-Passw0rd!", history); !errors.Is(err, ErrRecentlyUsed) {
		t.Fatalf("expected ErrRecentlyUsed, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	p := newTestPolicy(t)

	setAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := p.ExpiresAt(setAt)
	if got := exp.Sub(setAt); got != DefaultExpiry {
		t.Fatalf("expiry window = %v, want %v", got, DefaultExpiry)
	}

	if p.Expired(exp, exp.Add(-time.Hour)) {
		t.Fatal("password should not be expired before the deadline")
	}
	if !p.Expired(exp, exp.Add(time.Hour)) {
		t.Fatal("password should be expired after the deadline")
	}
	if p.Expired(time.Time{}, time.Now()) {
		t.Fatal("zero expiry must never expire")
	}
}
