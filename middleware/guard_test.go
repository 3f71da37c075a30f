package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/certlane/secgate"
	"github.com/certlane/secgate/password"
	"github.com/certlane/secgate/rbac"
	"github.com/certlane/secgate/state"
)

const testPassword = "Tr0ub4dor-and-3!"

type stubAccounts struct {
	mu           sync.Mutex
	byID         map[string]*secgate.AccountRecord
	byIdentifier map[string]string
}

func newStubAccounts() *stubAccounts {
	return &stubAccounts{
		byID:         make(map[string]*secgate.AccountRecord),
		byIdentifier: make(map[string]string),
	}
}

func (s *stubAccounts) put(acct *secgate.AccountRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acct
	s.byID[acct.ID] = &cp
	s.byIdentifier[acct.Identifier] = acct.ID
}

func (s *stubAccounts) GetByIdentifier(_ context.Context, identifier string) (*secgate.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIdentifier[identifier]
	if !ok {
		return nil, secgate.ErrAccountNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *stubAccounts) GetByID(_ context.Context, id string) (*secgate.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byID[id]
	if !ok {
		return nil, secgate.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *stubAccounts) UpdateCredentials(_ context.Context, id, hash string, history []string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.byID[id]
	acct.PasswordHash = hash
	acct.PasswordHistory = append([]string(nil), history...)
	acct.PasswordExpiresAt = expiresAt
	return nil
}

func (s *stubAccounts) BumpTokenVersion(_ context.Context, id string, expected uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.byID[id]
	if acct.TokenVersion != expected {
		return 0, secgate.ErrVersionConflict
	}
	acct.TokenVersion++
	return acct.TokenVersion, nil
}

func (s *stubAccounts) UpdateStatus(_ context.Context, id string, from, to state.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.byID[id]
	if acct.Status != from {
		return secgate.ErrVersionConflict
	}
	acct.Status = to
	return nil
}

func newTestEngine(t *testing.T, mutate ...func(*secgate.Config)) (*secgate.Engine, *stubAccounts) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg, err := secgate.ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Token.PrivateKey = []byte("middleware-test-key")
	cfg.Risk.Delay = time.Millisecond
	cfg.Password.Memory = 16 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	for _, m := range mutate {
		m(&cfg)
	}

	accounts := newStubAccounts()

	engine, err := secgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(accounts).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	hasher, err := password.NewHasher(password.HashConfig{
		Memory: 16 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	accounts.put(&secgate.AccountRecord{
		ID:                "acct-1",
		Identifier:        "alice@example.com",
		Role:              rbac.RoleCandidate,
		Status:            state.StatusActive,
		PasswordHash:      hash,
		PasswordExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		TokenVersion:      1,
	})

	return engine, accounts
}

func loginToken(t *testing.T, engine *secgate.Engine, ip string, h http.Header) string {
	t.Helper()
	ctx := secgate.WithClientIP(context.Background(), ip)
	ctx = secgate.WithHeaders(ctx, h)
	res, err := engine.Login(ctx, "alice@example.com", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return res.Token
}

func browserRequest(method, target, ip string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = ip + ":41000"
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
	r.Header.Set("Accept", "text/html,application/json")
	r.Header.Set("Accept-Language", "en-US,en;q=0.9")
	r.Header.Set("Accept-Encoding", "gzip, deflate, br")
	return r
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secgate.PrincipalFromContext(r.Context()) == nil {
			http.Error(w, "no principal", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestGuardRejectsMissingToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	handler := Guard(engine, Options{})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, browserRequest("GET", "/protected", "192.0.2.10"))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGuardPassesValidToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	handler := Guard(engine, Options{})(okHandler())

	req := browserRequest("GET", "/protected", "192.0.2.10")
	token := loginToken(t, engine, "192.0.2.10", req.Header)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestGuardReadsCookieToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	handler := Guard(engine, Options{})(okHandler())

	req := browserRequest("GET", "/protected", "192.0.2.10")
	token := loginToken(t, engine, "192.0.2.10", req.Header)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGuardPermissionDenied(t *testing.T) {
	engine, _ := newTestEngine(t)
	handler := RequirePermissions(engine, rbac.PermIPListManage)(okHandler())

	req := browserRequest("GET", "/admin", "192.0.2.10")
	token := loginToken(t, engine, "192.0.2.10", req.Header)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGuardRateLimited(t *testing.T) {
	engine, _ := newTestEngine(t, func(c *secgate.Config) {
		c.RateLimit.BurstLimit = 1
		c.RateLimit.BaseLimit = 1
	})
	handler := Guard(engine, Options{})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, browserRequest("GET", "/protected", "192.0.2.30"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, browserRequest("GET", "/protected", "192.0.2.30"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestGuardHighRiskReturnsTooManyRequests(t *testing.T) {
	engine, _ := newTestEngine(t)
	handler := Guard(engine, Options{})(okHandler())

	// vpn + bot keywords cross the rejection threshold.
	req := browserRequest("GET", "/protected", "192.0.2.66")
	req.Header.Set("User-Agent", "nordvpn-client curl/8.0")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGuardCriticalRiskThenBlockedRetry(t *testing.T) {
	engine, _ := newTestEngine(t)
	handler := Guard(engine, Options{})(okHandler())

	// Critical score: the request itself is throttled, and only the
	// auto-blocked retry is forbidden.
	req := browserRequest("GET", "/protected", "192.0.2.80")
	req.Header.Set("User-Agent", "tunnelbear wget/1.21")
	req.Header.Set("Via", "1.1 proxy")
	req.Header.Set("X-Proxy-Id", "p1")
	req.Header.Set("X-Forwarded-For", "10.0.0.1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, browserRequest("GET", "/protected", "192.0.2.80"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("blocked retry status = %d", rec.Code)
	}
}

func TestGuardMaintenance(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.SetMaintenance(true)
	handler := Guard(engine, Options{})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, browserRequest("GET", "/protected", "192.0.2.10"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGuardLockedAccount(t *testing.T) {
	engine, _ := newTestEngine(t)
	handler := Guard(engine, Options{})(okHandler())

	req := browserRequest("GET", "/protected", "192.0.2.10")
	token := loginToken(t, engine, "192.0.2.10", req.Header)
	req.Header.Set("Authorization", "Bearer "+token)

	ctx := secgate.WithClientIP(context.Background(), "192.0.2.10")
	ctx = secgate.WithHeaders(ctx, req.Header)
	for i := 0; i < 5; i++ {
		_, _ = engine.Login(ctx, "alice@example.com", "wrong-password-1!")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusLocked {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:9999"

	if got := ClientIP(r, false); got != "192.0.2.1" {
		t.Fatalf("socket ip = %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(r, false); got != "192.0.2.1" {
		t.Fatalf("untrusted XFF should be ignored, got %q", got)
	}
	if got := ClientIP(r, true); got != "203.0.113.9" {
		t.Fatalf("trusted XFF = %q", got)
	}

	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-IP", "203.0.113.20")
	if got := ClientIP(r, true); got != "203.0.113.20" {
		t.Fatalf("X-Real-IP = %q", got)
	}
}
