package ratelimit

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	return NewLimiter(cfg, WithClock(clock.now)), clock
}

func TestLimiter_BurstThenLimited(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: true, PerMinute: 6, Burst: 3})
	for i := 0; i < 3; i++ {
		if err := l.Allow("ana"); err != nil {
			t.Fatalf("message %d limited: %v", i+1, err)
		}
	}
	err := l.Allow("ana")
	if !errors.Is(err, ErrLimited) {
		t.Fatalf("fourth message err = %v, want ErrLimited", err)
	}
	var limited *LimitedError
	if !errors.As(err, &limited) || limited.Retry != 10*time.Second {
		t.Fatalf("retry = %+v, want 10s", limited)
	}

	if err := l.Allow("bruno"); err != nil {
		t.Fatalf("other users share the bucket: %v", err)
	}
}

func TestLimiter_Refill(t *testing.T) {
	l, clock := newTestLimiter(Config{Enabled: true, PerMinute: 60, Burst: 1})
	if err := l.Allow("ana"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("ana"); err == nil {
		t.Fatal("expected limit before refill")
	}
	clock.advance(time.Second)
	if err := l.Allow("ana"); err != nil {
		t.Fatalf("after refill: %v", err)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: false, PerMinute: 1, Burst: 1})
	for i := 0; i < 100; i++ {
		if err := l.Allow("ana"); err != nil {
			t.Fatalf("disabled limiter limited message %d", i)
		}
	}
	var nilLimiter *Limiter
	if err := nilLimiter.Allow("ana"); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
}

func TestLimiter_ZeroConfigUsesDefaults(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: true})
	for i := 0; i < DefaultConfig().Burst; i++ {
		if err := l.Allow("ana"); err != nil {
			t.Fatalf("message %d limited: %v", i+1, err)
		}
	}
	if err := l.Allow("ana"); err == nil {
		t.Fatal("expected default burst to be enforced")
	}
}

func TestLimiter_PrunesIdleKeys(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	l := NewLimiter(Config{Enabled: true, PerMinute: 60, Burst: 2}, WithClock(clock.now), WithMaxKeys(2))
	_ = l.Allow("a")
	_ = l.Allow("b")
	clock.advance(time.Minute)
	_ = l.Allow("c")
	if got := l.Len(); got != 1 {
		t.Fatalf("tracked keys = %d, want 1 after pruning", got)
	}

	l.Reset("c")
	if got := l.Len(); got != 0 {
		t.Fatalf("tracked keys after reset = %d", got)
	}
}
