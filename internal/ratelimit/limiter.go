// Package ratelimit throttles inbound chat messages per user with token
// buckets.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLimited is returned when a sender has used up their burst.
var ErrLimited = errors.New("rate limit exceeded")

// LimitedError carries how long the sender should wait.
type LimitedError struct {
	Key   string
	Retry time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Key, e.Retry.Round(time.Second))
}

func (e *LimitedError) Unwrap() error { return ErrLimited }

// Config configures the limiter.
type Config struct {
	// Enabled turns limiting on. A disabled limiter allows everything.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// PerMinute is the sustained number of messages allowed per minute.
	PerMinute float64 `yaml:"per_minute" json:"per_minute"`
	// Burst is the number of messages allowed back to back.
	Burst int `yaml:"burst" json:"burst"`
}

// DefaultConfig allows a message every two seconds with bursts of ten.
func DefaultConfig() Config {
	return Config{Enabled: true, PerMinute: 30, Burst: 10}
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter keeps one bucket per key. Buckets that refilled completely are
// pruned when the key count reaches its bound.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  Config
	rate    float64 // tokens per second
	max     float64
	maxKeys int
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithMaxKeys bounds the number of tracked keys.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

// NewLimiter creates a limiter. Zero values fall back to DefaultConfig.
func NewLimiter(config Config, opts ...Option) *Limiter {
	defaults := DefaultConfig()
	if config.PerMinute <= 0 {
		config.PerMinute = defaults.PerMinute
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	l := &Limiter{
		buckets: make(map[string]*bucket),
		config:  config,
		rate:    config.PerMinute / 60,
		max:     float64(config.Burst),
		maxKeys: 10000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one token for key. It returns a *LimitedError when the
// bucket is empty.
func (l *Limiter) Allow(key string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.prune(now)
		}
		b = &bucket{tokens: l.max, lastRefill: now}
		l.buckets[key] = b
	}
	l.refill(b, now)
	if b.tokens >= 1 {
		b.tokens--
		return nil
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return &LimitedError{Key: key, Retry: wait}
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now
	b.tokens += elapsed * l.rate
	if b.tokens > l.max {
		b.tokens = l.max
	}
}

// prune must be called with the lock held.
func (l *Limiter) prune(now time.Time) {
	for key, b := range l.buckets {
		l.refill(b, now)
		if b.tokens >= l.max {
			delete(l.buckets, key)
		}
	}
}
