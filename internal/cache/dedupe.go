// Package cache holds the idempotence guard for redelivered messages.
package cache

import (
	"container/list"
	"strconv"
	"sync"
	"time"
)

// Defaults for NewDedupeCache.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10000
)

// Options configures a DedupeCache.
type Options struct {
	// TTL is how long a key counts as seen. Zero uses DefaultTTL.
	TTL time.Duration
	// MaxSize bounds the number of keys; the least recently seen is
	// evicted first. Zero uses DefaultMaxSize.
	MaxSize int
	// Now overrides the clock.
	Now func() time.Time
}

type entry struct {
	key    string
	seenAt time.Time
}

// DedupeCache remembers recently seen keys so that an at-least-once
// delivery is processed at most once within the TTL.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front is most recent
	ttl     time.Duration
	maxSize int
	nowFunc func() time.Time
}

// NewDedupeCache creates a cache.
func NewDedupeCache(opts Options) *DedupeCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DedupeCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		nowFunc: opts.Now,
	}
}

// Check reports whether key was seen within the TTL and marks it seen.
// The empty key is never a duplicate.
func (c *DedupeCache) Check(key string) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	c.expire(now)
	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).seenAt = now
		c.order.MoveToFront(el)
		return true
	}
	c.entries[key] = c.order.PushFront(&entry{key: key, seenAt: now})
	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
	}
	return false
}

// Forget drops key so a redelivery is processed again.
func (c *DedupeCache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
}

// Len reports how many keys are remembered, expired ones included until the
// next Check.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// expire drops entries older than the TTL, oldest first.
func (c *DedupeCache) expire(now time.Time) {
	for el := c.order.Back(); el != nil; el = c.order.Back() {
		if now.Sub(el.Value.(*entry).seenAt) < c.ttl {
			return
		}
		c.remove(el)
	}
}

func (c *DedupeCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
}

// MessageKey identifies a delivered message by surface, scope (the group id,
// zero for private threads) and message id. It is empty when messageID is.
func MessageKey(surface string, scope int64, messageID string) string {
	if messageID == "" {
		return ""
	}
	return surface + ":" + strconv.FormatInt(scope, 10) + ":" + messageID
}
