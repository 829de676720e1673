package security

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig holds configurable rate limits. Each kind of event gets
// its own token bucket per client key.
type RateLimitConfig struct {
	// AuthPerMinute bounds authentication attempts per client.
	AuthPerMinute int `yaml:"auth_per_minute"`
	// RequestsPerSecond bounds API calls per client.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Burst is the bucket size for API calls.
	Burst int `yaml:"burst"`
	// IdleTTL is how long an unused client bucket is kept.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// Rate limit kinds.
const (
	KindAuth    = "auth"
	KindRequest = "request"
)

func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		AuthPerMinute:     30,
		RequestsPerSecond: 20,
		Burst:             40,
		IdleTTL:           10 * time.Minute,
	}
}

// RateLimiter is a keyed token-bucket limiter built on x/time/rate.
// All methods are safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]limit
	buckets map[bucketKey]*bucket
	ttl     time.Duration
	now     func() time.Time
	swept   time.Time
}

type limit struct {
	every rate.Limit
	burst int
}

type bucketKey struct{ kind, client string }

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
// Zero-value fields in cfg are replaced with defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	defaults := rateLimitConfigDefaults()
	if cfg.AuthPerMinute <= 0 {
		cfg.AuthPerMinute = defaults.AuthPerMinute
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaults.IdleTTL
	}

	return &RateLimiter{
		limits: map[string]limit{
			KindAuth:    {every: rate.Every(time.Minute / time.Duration(cfg.AuthPerMinute)), burst: cfg.AuthPerMinute},
			KindRequest: {every: rate.Limit(cfg.RequestsPerSecond), burst: cfg.Burst},
		},
		buckets: make(map[bucketKey]*bucket),
		ttl:     cfg.IdleTTL,
		now:     time.Now,
	}
}

// Allow checks whether an event of the given kind from client is allowed.
// Returns nil if allowed, ErrRateLimited if the limit is exceeded. Unknown
// kinds are not limited.
func (rl *RateLimiter) Allow(kind, client string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limits[kind]
	if !ok {
		return nil
	}

	now := rl.now()
	rl.sweep(now)

	key := bucketKey{kind: kind, client: client}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.every, l.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	if !b.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Len returns the number of tracked client buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// sweep drops idle buckets at most once per TTL.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.swept) < rl.ttl {
		return
	}
	rl.swept = now
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= rl.ttl {
			delete(rl.buckets, k)
		}
	}
}
