package password

import (
	"strings"
	"testing"
)

func testConfig() HashConfig {
	return HashConfig{
		Memory:      16 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("Tr1cky-Pass!word")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=16384,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := h.Verify("Tr1cky-Pass!word", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected verification to succeed")
	}

	ok, err = h.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password to fail verification")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h := newTestHasher(t)

	for _, bad := range []string{
		"",
		"not-a-phc-string",
		"$argon2i$v=19$m=16384,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=16384,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=64,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=16384,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=16384,t=1,p=1$!!$aGFzaA",
	} {
		if _, err := h.Verify("whatever", bad); err == nil {
			t.Errorf("expected error for malformed hash %q", bad)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("Tr1cky-Pass!word")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	upgrade, err := h.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if upgrade {
		t.Fatal("fresh hash should not need upgrade")
	}

	cfg := testConfig()
	cfg.Memory = 32 * 1024
	stronger, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	upgrade, err = stronger.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if !upgrade {
		t.Fatal("hash with lower memory cost should need upgrade")
	}
}

func TestNewHasherRejectsWeakParams(t *testing.T) {
	for _, mut := range []func(*HashConfig){
		func(c *HashConfig) { c.Memory = 1024 },
		func(c *HashConfig) { c.Time = 0 },
		func(c *HashConfig) { c.Parallelism = 0 },
		func(c *HashConfig) { c.SaltLength = 8 },
		func(c *HashConfig) { c.KeyLength = 8 },
	} {
		cfg := testConfig()
		mut(&cfg)
		if _, err := NewHasher(cfg); err == nil {
			t.Errorf("expected error for weak config %+v", cfg)
		}
	}
}
