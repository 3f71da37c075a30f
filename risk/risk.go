// Package risk scores incoming requests before any credential or
// token work happens. The score is additive over independent signals,
// capped at 100, and cached briefly per (IP, fingerprint) pair so the
// hot path usually costs one Redis read.
package risk

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

// Signal weights. Scores are additive and capped at MaxScore.
const (
	WeightVPNUserAgent     = 30
	WeightBotUserAgent     = 40
	WeightProxyHeaders     = 25
	WeightIPVelocity       = 35
	WeightMissingAccept    = 15
	WeightAnonymizingRange = 50

	MaxScore = 100
)

// Decision thresholds.
const (
	ThresholdDelay  = 40
	ThresholdReject = 70
	ThresholdBlock  = 80
)

// DefaultDelay is the tarpit applied to mid-range scores.
const DefaultDelay = 2 * time.Second

// DefaultCacheTTL bounds how long a computed score is reused for the
// same (IP, fingerprint) pair.
const DefaultCacheTTL = 5 * time.Minute

// DefaultTrackWindow is the sliding window for counting distinct IPs
// per fingerprint.
const DefaultTrackWindow = time.Hour

// ipVelocityLimit is the distinct-IP count above which the velocity
// signal fires.
const ipVelocityLimit = 3

// proxyHeaderLimit is the proxy-header count above which the proxy
// signal fires.
const proxyHeaderLimit = 2

// Action is what the gate should do with a scored request.
type Action int

const (
	// ActionProceed lets the request continue untouched.
	ActionProceed Action = iota
	// ActionDelay lets the request continue after a tarpit delay.
	ActionDelay
	// ActionReject denies the request.
	ActionReject
	// ActionRejectAndBlock denies the request and auto-blocks the IP.
	ActionRejectAndBlock
)

func (a Action) String() string {
	switch a {
	case ActionProceed:
		return "proceed"
	case ActionDelay:
		return "delay"
	case ActionReject:
		return "reject"
	case ActionRejectAndBlock:
		return "reject_and_block"
	default:
		return "unknown"
	}
}

// Decide maps a score onto the gate action.
func Decide(score int) Action {
	switch {
	case score >= ThresholdBlock:
		return ActionRejectAndBlock
	case score >= ThresholdReject:
		return ActionReject
	case score >= ThresholdDelay:
		return ActionDelay
	default:
		return ActionProceed
	}
}

var vpnUAKeywords = []string{"vpn", "tunnel", "psiphon", "anonymizer"}

var botUAKeywords = []string{
	"bot", "crawl", "spider", "scrape",
	"curl", "wget", "python-requests", "go-http-client",
	"headless", "phantomjs", "selenium",
}

var proxyHeaderNames = []string{
	"X-Forwarded-For",
	"X-Real-Ip",
	"Via",
	"Forwarded",
	"X-Proxy-Id",
	"Client-Ip",
}

var acceptHeaderNames = []string{"Accept", "Accept-Language", "Accept-Encoding"}

// Request is the header-level view of an incoming request to score.
type Request struct {
	IP     string
	Header http.Header
}

// Assessment is the outcome of scoring one request.
type Assessment struct {
	Score       int
	Signals     []string
	Fingerprint string
	Cached      bool
}

// Action returns the gate action for the assessment's score.
func (a *Assessment) Action() Action {
	return Decide(a.Score)
}

// Engine computes risk assessments. Construct with NewEngine; safe
// for concurrent use.
type Engine struct {
	store       Store
	anonRanges  []netip.Prefix
	delay       time.Duration
	cacheTTL    time.Duration
	trackWindow time.Duration
}

// Option tweaks Engine construction.
type Option func(*Engine)

// WithAnonymizingRanges sets the CIDR ranges treated as anonymizing
// infrastructure (Tor exits, known VPN egress blocks).
func WithAnonymizingRanges(ranges []netip.Prefix) Option {
	return func(e *Engine) { e.anonRanges = ranges }
}

// WithDelay overrides the tarpit duration for mid-range scores.
func WithDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.delay = d
		}
	}
}

// WithCacheTTL overrides how long computed scores are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

// WithTrackWindow overrides the distinct-IP tracking window.
func WithTrackWindow(w time.Duration) Option {
	return func(e *Engine) {
		if w > 0 {
			e.trackWindow = w
		}
	}
}

// NewEngine creates a risk Engine backed by store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		delay:       DefaultDelay,
		cacheTTL:    DefaultCacheTTL,
		trackWindow: DefaultTrackWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Delay returns the tarpit duration for ActionDelay outcomes.
func (e *Engine) Delay() time.Duration {
	return e.delay
}

// Assess scores a request. A cached score for the same (IP,
// fingerprint) pair is returned without recomputation; cache and
// tracking failures degrade to a fresh uncached computation rather
// than failing the request.
func (e *Engine) Assess(ctx context.Context, req Request) (*Assessment, error) {
	fp := Fingerprint(req.Header)

	if score, ok, err := e.store.CachedScore(ctx, req.IP, fp); err == nil && ok {
		return &Assessment{Score: score, Fingerprint: fp, Cached: true}, nil
	}

	score := 0
	var signals []string
	add := func(weight int, signal string) {
		score += weight
		signals = append(signals, signal)
	}

	ua := strings.ToLower(req.Header.Get("User-Agent"))
	if containsAny(ua, vpnUAKeywords) {
		add(WeightVPNUserAgent, "vpn_user_agent")
	}
	if ua == "" || containsAny(ua, botUAKeywords) {
		add(WeightBotUserAgent, "bot_user_agent")
	}

	if countPresent(req.Header, proxyHeaderNames) > proxyHeaderLimit {
		add(WeightProxyHeaders, "proxy_headers")
	}

	if missing := len(acceptHeaderNames) - countPresent(req.Header, acceptHeaderNames); missing > 1 {
		add(WeightMissingAccept, "missing_accept_headers")
	}

	if e.inAnonymizingRange(req.IP) {
		add(WeightAnonymizingRange, "anonymizing_range")
	}

	if distinct, err := e.store.TrackIP(ctx, fp, req.IP, e.trackWindow); err == nil && distinct > ipVelocityLimit {
		add(WeightIPVelocity, "ip_velocity")
	}

	if score > MaxScore {
		score = MaxScore
	}

	// Best effort: a failed cache write never blocks the request.
	_ = e.store.CacheScore(ctx, req.IP, fp, score, e.cacheTTL)

	return &Assessment{Score: score, Signals: signals, Fingerprint: fp}, nil
}

func (e *Engine) inAnonymizingRange(ip string) bool {
	if len(e.anonRanges) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range e.anonRanges {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func countPresent(h http.Header, names []string) int {
	n := 0
	for _, name := range names {
		if h.Get(name) != "" {
			n++
		}
	}
	return n
}
