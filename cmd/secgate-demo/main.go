// Command secgate-demo starts a local HTTP server on :8080 backed by
// miniredis (no external Redis required) and an in-memory account
// provider stub.
//
// Endpoints:
//
//	POST /login     - JSON {"identifier":"...", "password":"..."}
//	POST /logout    - destroys the current session
//	GET  /profile   - gate-guarded route (any authenticated principal)
//	GET  /admin     - gate-guarded route (account management permission)
//	GET  /metrics   - Prometheus exposition
//
// Run:
//
//	go run ./cmd/secgate-demo
//
// Then:
//
//	curl -i -X POST localhost:8080/login \
//	  -H 'Content-Type: application/json' \
//	  -d '{"identifier":"alice@example.com","password":"Correct-Horse-9!"}'
//
//	curl -i localhost:8080/profile -H "Authorization: Bearer <TOKEN>"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/certlane/secgate"
	prom "github.com/certlane/secgate/metrics/export/prometheus"
	"github.com/certlane/secgate/middleware"
	"github.com/certlane/secgate/password"
	"github.com/certlane/secgate/rbac"
	"github.com/certlane/secgate/state"
)

const seedPassword = "Correct-Horse-9!"

func main() {
	mr, err := miniredis.Run()
	if err != nil {
		log.Fatal(err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg, err := secgate.ConfigFromEnv()
	if err != nil {
		log.Fatal("config:", err)
	}
	cfg.Token.PrivateKey = []byte("demo-signing-key-not-for-production")
	cfg.Token.Issuer = "secgate-demo"
	cfg.Metrics.EnableLatencyHistograms = true

	provider := newStubProvider()
	seedAccounts(provider, cfg)

	engine, err := secgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(provider).
		WithEventSink(secgate.NewJSONWriterSink(log.Writer())).
		Build()
	if err != nil {
		log.Fatal("engine build:", err)
	}
	defer engine.Close()
	engine.StartSweeper(0)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", loginHandler(engine))
	mux.HandleFunc("POST /logout", logoutHandler(engine))
	mux.Handle("GET /profile",
		middleware.Guard(engine, middleware.Options{})(http.HandlerFunc(profileHandler)))
	mux.Handle("GET /admin",
		middleware.RequirePermissions(engine, rbac.PermAccountManage)(http.HandlerFunc(adminHandler)))
	mux.Handle("GET /metrics", prom.New(engine).Handler())

	log.Println("listening on :8080")
	log.Fatal(http.ListenAndServe(":8080", mux))
}

func loginHandler(engine *secgate.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Identifier string `json:"identifier"`
			Password   string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		ctx := secgate.WithClientIP(r.Context(), middleware.ClientIP(r, false))
		ctx = secgate.WithHeaders(ctx, r.Header)

		result, err := engine.Login(ctx, body.Identifier, body.Password)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":                    result.Token,
			"session_id":               result.Principal.SessionID,
			"role":                     string(result.Principal.Role),
			"requires_password_change": result.Principal.RequiresPasswordChange,
		})
	}
}

func logoutHandler(engine *secgate.Engine) http.HandlerFunc {
	guard := middleware.Guard(engine, middleware.Options{})
	return func(w http.ResponseWriter, r *http.Request) {
		guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := secgate.PrincipalFromContext(r.Context())
			if p == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if err := engine.Logout(r.Context(), p.AccountID, p.SessionID); err != nil {
				http.Error(w, "logout failed", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})).ServeHTTP(w, r)
	}
}

func profileHandler(w http.ResponseWriter, r *http.Request) {
	p := secgate.PrincipalFromContext(r.Context())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"account_id": p.AccountID,
		"role":       string(p.Role),
		"risk_score": p.RiskScore,
	})
}

func adminHandler(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintln(w, "admin panel")
}

func seedAccounts(provider *stubProvider, cfg secgate.Config) {
	hasher, err := password.NewHasher(password.HashConfig{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		log.Fatal("argon2 init:", err)
	}
	hash, err := hasher.Hash(seedPassword)
	if err != nil {
		log.Fatal("argon2 hash:", err)
	}

	provider.put(&secgate.AccountRecord{
		ID:                "acct-1",
		Identifier:        "alice@example.com",
		Role:              rbac.RoleAdmin,
		Status:            state.StatusActive,
		PasswordHash:      hash,
		PasswordExpiresAt: time.Now().Add(90 * 24 * time.Hour),
		TokenVersion:      1,
	})
	provider.put(&secgate.AccountRecord{
		ID:                "acct-2",
		Identifier:        "carol@example.com",
		Role:              rbac.RoleCandidate,
		Status:            state.StatusCertified,
		PasswordHash:      hash,
		PasswordExpiresAt: time.Now().Add(90 * 24 * time.Hour),
		TokenVersion:      1,
	})
}

// stubProvider is a map-backed AccountProvider for the demo.
type stubProvider struct {
	mu           sync.RWMutex
	byID         map[string]*secgate.AccountRecord
	byIdentifier map[string]string
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		byID:         make(map[string]*secgate.AccountRecord),
		byIdentifier: make(map[string]string),
	}
}

func (p *stubProvider) put(acct *secgate.AccountRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *acct
	p.byID[acct.ID] = &cp
	p.byIdentifier[acct.Identifier] = acct.ID
}

func (p *stubProvider) GetByIdentifier(_ context.Context, identifier string) (*secgate.AccountRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byIdentifier[identifier]
	if !ok {
		return nil, secgate.ErrAccountNotFound
	}
	cp := *p.byID[id]
	return &cp, nil
}

func (p *stubProvider) GetByID(_ context.Context, id string) (*secgate.AccountRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	acct, ok := p.byID[id]
	if !ok {
		return nil, secgate.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (p *stubProvider) UpdateCredentials(_ context.Context, id, hash string, history []string, expiresAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct, ok := p.byID[id]
	if !ok {
		return secgate.ErrAccountNotFound
	}
	acct.PasswordHash = hash
	acct.PasswordHistory = append([]string(nil), history...)
	acct.PasswordExpiresAt = expiresAt
	return nil
}

func (p *stubProvider) BumpTokenVersion(_ context.Context, id string, expected uint32) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct, ok := p.byID[id]
	if !ok {
		return 0, secgate.ErrAccountNotFound
	}
	if acct.TokenVersion != expected {
		return 0, secgate.ErrVersionConflict
	}
	acct.TokenVersion++
	return acct.TokenVersion, nil
}

func (p *stubProvider) UpdateStatus(_ context.Context, id string, from, to state.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct, ok := p.byID[id]
	if !ok {
		return secgate.ErrAccountNotFound
	}
	if acct.Status != from {
		return secgate.ErrVersionConflict
	}
	acct.Status = to
	return nil
}
