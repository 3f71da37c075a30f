package secgate

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/certlane/secgate/password"
	"github.com/certlane/secgate/token"
)

// Config is the engine configuration. Zero values fall back to the
// defaults from defaultConfig; Validate runs at build time.
type Config struct {
	// KeyPrefix namespaces every Redis key the engine writes.
	KeyPrefix string

	Token       TokenConfig
	Session     SessionConfig
	Risk        RiskConfig
	RateLimit   RateLimitConfig
	Lockout     LockoutConfig
	Password    PasswordConfig
	Events      EventsConfig
	Metrics     MetricsConfig
	Maintenance MaintenanceConfig
}

// TokenConfig configures access token issuance and verification.
type TokenConfig struct {
	TTL           time.Duration
	SigningMethod token.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// SessionConfig configures the session registry.
type SessionConfig struct {
	// IdleTimeout removes sessions untouched for this long.
	IdleTimeout time.Duration
}

// RiskConfig configures the request risk engine.
type RiskConfig struct {
	// Disabled turns risk scoring off entirely; every request scores
	// zero.
	Disabled bool

	// Delay is the tarpit applied to mid-range scores.
	Delay time.Duration

	// CacheTTL bounds reuse of a computed score per (IP, fingerprint).
	CacheTTL time.Duration

	// TrackWindow is the distinct-IP tracking window per fingerprint.
	TrackWindow time.Duration

	// AnonymizingRanges lists CIDR prefixes treated as anonymizing
	// infrastructure.
	AnonymizingRanges []string

	// AutoBlockTTL is how long an auto-block placed by a critical risk
	// score lasts.
	AutoBlockTTL time.Duration

	// InMemory switches the risk store to the process-local
	// implementation. Counts become per-instance approximations.
	InMemory bool
}

// RateLimitConfig configures the adaptive rate limiter.
type RateLimitConfig struct {
	Disabled           bool
	BaseLimit          int
	BaseWindow         time.Duration
	BurstLimit         int
	BurstWindow        time.Duration
	ViolationThreshold int
	ViolationWindow    time.Duration
}

// LockoutConfig configures failed-attempt lockouts.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

// PasswordConfig configures hashing and the password policy.
type PasswordConfig struct {
	MinLength   int
	HistorySize int
	Expiry      time.Duration

	// Argon2id cost parameters.
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// EventsConfig configures the async security event dispatcher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking when the buffer is
	// full; the drop counter records how many.
	DropIfFull bool
}

// MetricsConfig configures in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// MaintenanceConfig sets the initial maintenance state; the engine
// flag can be toggled at runtime.
type MaintenanceConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		KeyPrefix: "sg",
		Token: TokenConfig{
			TTL:           15 * time.Minute,
			SigningMethod: token.MethodHS256,
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout: 30 * time.Minute,
		},
		Risk: RiskConfig{
			Delay:        2 * time.Second,
			CacheTTL:     5 * time.Minute,
			TrackWindow:  time.Hour,
			AutoBlockTTL: time.Hour,
		},
		RateLimit: RateLimitConfig{
			BaseLimit:          300,
			BaseWindow:         15 * time.Minute,
			BurstLimit:         30,
			BurstWindow:        time.Minute,
			ViolationThreshold: 3,
			ViolationWindow:    24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		Password: PasswordConfig{
			MinLength:   12,
			HistorySize: 5,
			Expiry:      90 * 24 * time.Hour,
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for values the engine cannot run
// with. It returns the first problem found.
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return errors.New("KeyPrefix must not be empty")
	}
	if c.Token.TTL <= 0 {
		return errors.New("Token.TTL must be positive")
	}
	switch c.Token.SigningMethod {
	case token.MethodHS256:
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("Token.PrivateKey required for hs256")
		}
	case token.MethodEd25519:
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("Token.PrivateKey required for ed25519")
		}
	default:
		return fmt.Errorf("unsupported Token.SigningMethod %q", c.Token.SigningMethod)
	}
	if c.Session.IdleTimeout <= 0 {
		return errors.New("Session.IdleTimeout must be positive")
	}
	for _, raw := range c.Risk.AnonymizingRanges {
		if _, err := netip.ParsePrefix(raw); err != nil {
			return fmt.Errorf("invalid anonymizing range %q: %v", raw, err)
		}
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout.Threshold must be positive")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout.Duration must be positive")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password.MinLength must be at least 8")
	}
	if c.Password.HistorySize <= 0 {
		return errors.New("Password.HistorySize must be positive")
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.Token.PrivateKey = append([]byte(nil), c.Token.PrivateKey...)
	out.Token.PublicKey = append([]byte(nil), c.Token.PublicKey...)
	if c.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(c.Token.VerifyKeys))
		for k, v := range c.Token.VerifyKeys {
			out.Token.VerifyKeys[k] = append([]byte(nil), v...)
		}
	}
	out.Risk.AnonymizingRanges = append([]string(nil), c.Risk.AnonymizingRanges...)
	return out
}

func (c *Config) tokenConfig() token.Config {
	return token.Config{
		TTL:           c.Token.TTL,
		SigningMethod: c.Token.SigningMethod,
		PrivateKey:    c.Token.PrivateKey,
		PublicKey:     c.Token.PublicKey,
		Issuer:        c.Token.Issuer,
		Audience:      c.Token.Audience,
		Leeway:        c.Token.Leeway,
		KeyID:         c.Token.KeyID,
		VerifyKeys:    c.Token.VerifyKeys,
	}
}

func (c *Config) hashConfig() password.HashConfig {
	return password.HashConfig{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}

func (c *Config) anonymizingPrefixes() []netip.Prefix {
	if len(c.Risk.AnonymizingRanges) == 0 {
		return nil
	}
	out := make([]netip.Prefix, 0, len(c.Risk.AnonymizingRanges))
	for _, raw := range c.Risk.AnonymizingRanges {
		pfx, err := netip.ParsePrefix(raw)
		if err != nil {
			continue
		}
		out = append(out, pfx)
	}
	return out
}

// ConfigFromEnv builds a Config from SECGATE_* environment variables
// layered over the defaults. Unset variables keep the default;
// malformed values are reported, not ignored.
func ConfigFromEnv() (Config, error) {
	cfg := defaultConfig()

	if v := os.Getenv("SECGATE_KEY_PREFIX"); v != "" {
		cfg.KeyPrefix = v
	}
	if v := os.Getenv("SECGATE_TOKEN_SIGNING_METHOD"); v != "" {
		cfg.Token.SigningMethod = token.SigningMethod(v)
	}
	if v := os.Getenv("SECGATE_TOKEN_KEY"); v != "" {
		cfg.Token.PrivateKey = []byte(v)
	}
	if v := os.Getenv("SECGATE_TOKEN_ISSUER"); v != "" {
		cfg.Token.Issuer = v
	}
	if v := os.Getenv("SECGATE_RISK_ANON_RANGES"); v != "" {
		cfg.Risk.AnonymizingRanges = strings.Split(v, ",")
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"SECGATE_TOKEN_TTL", &cfg.Token.TTL},
		{"SECGATE_SESSION_IDLE_TIMEOUT", &cfg.Session.IdleTimeout},
		{"SECGATE_RISK_DELAY", &cfg.Risk.Delay},
		{"SECGATE_RISK_AUTOBLOCK_TTL", &cfg.Risk.AutoBlockTTL},
		{"SECGATE_LOCKOUT_DURATION", &cfg.Lockout.Duration},
		{"SECGATE_PASSWORD_EXPIRY", &cfg.Password.Expiry},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %v", d.env, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"SECGATE_RATE_BASE_LIMIT", &cfg.RateLimit.BaseLimit},
		{"SECGATE_RATE_BURST_LIMIT", &cfg.RateLimit.BurstLimit},
		{"SECGATE_LOCKOUT_THRESHOLD", &cfg.Lockout.Threshold},
		{"SECGATE_PASSWORD_MIN_LENGTH", &cfg.Password.MinLength},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %v", i.env, err)
		}
		*i.dst = parsed
	}

	if v := os.Getenv("SECGATE_MAINTENANCE"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("SECGATE_MAINTENANCE: %v", err)
		}
		cfg.Maintenance.Enabled = enabled
	}

	return cfg, nil
}
