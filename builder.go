package secgate

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/certlane/secgate/iplist"
	"github.com/certlane/secgate/lockout"
	"github.com/certlane/secgate/password"
	"github.com/certlane/secgate/ratelimit"
	"github.com/certlane/secgate/risk"
	"github.com/certlane/secgate/session"
	"github.com/certlane/secgate/token"
)

// Builder assembles an Engine. A builder is single-use; Build fails
// on a second call.
type Builder struct {
	config Config
	redis  *redis.Client

	accounts   AccountProvider
	identities IdentityProvider
	notifier   Notifier
	eventSink  EventSink

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.accounts = p
	return b
}

func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identities = p
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account provider required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		redis:      b.redis,
		accounts:   b.accounts,
		identities: b.identities,
		notifier:   b.notifier,
	}

	tokens, err := token.NewService(cfg.tokenConfig())
	if err != nil {
		return nil, err
	}
	engine.tokens = tokens

	hasher, err := password.NewHasher(cfg.hashConfig())
	if err != nil {
		return nil, err
	}
	policy, err := password.NewPolicy(
		hasher,
		cfg.Password.MinLength,
		cfg.Password.HistorySize,
		cfg.Password.Expiry,
	)
	if err != nil {
		return nil, err
	}
	engine.passwords = policy

	engine.sessions = session.NewRegistry(b.redis, cfg.KeyPrefix, cfg.Session.IdleTimeout)
	engine.iplists = iplist.NewStore(b.redis, cfg.KeyPrefix)
	engine.lockouts = lockout.New(b.redis, cfg.KeyPrefix, lockout.Config{
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
	})

	if !cfg.RateLimit.Disabled {
		engine.limiter = ratelimit.New(b.redis, cfg.KeyPrefix, ratelimit.Config{
			BaseLimit:          cfg.RateLimit.BaseLimit,
			BaseWindow:         cfg.RateLimit.BaseWindow,
			BurstLimit:         cfg.RateLimit.BurstLimit,
			BurstWindow:        cfg.RateLimit.BurstWindow,
			ViolationThreshold: cfg.RateLimit.ViolationThreshold,
			ViolationWindow:    cfg.RateLimit.ViolationWindow,
		})
	}

	if !cfg.Risk.Disabled {
		var store risk.Store
		if cfg.Risk.InMemory {
			mem := risk.NewMemoryStore()
			store = mem
			engine.riskMemory = mem
		} else {
			store = risk.NewRedisStore(b.redis, cfg.KeyPrefix)
		}
		engine.risk = risk.NewEngine(store,
			risk.WithAnonymizingRanges(cfg.anonymizingPrefixes()),
			risk.WithDelay(cfg.Risk.Delay),
			risk.WithCacheTTL(cfg.Risk.CacheTTL),
			risk.WithTrackWindow(cfg.Risk.TrackWindow),
		)
	}

	engine.events = newEventDispatcher(cfg.Events, b.eventSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.maintenance.Store(cfg.Maintenance.Enabled)

	b.built = true

	return engine, nil
}
