package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStoreLazyExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(WithMemoryClock(clock.Now))
	key := NewKey(ScopeConfirmation, 7, "ana")

	t0 := clock.Now()
	if err := store.Set(ctx, Record{Key: key, Value: []byte(`{}`), CreatedAt: t0, ExpiresAt: t0.Add(time.Minute)}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clock.Advance(59 * time.Second)
	rec, err := store.Get(ctx, key)
	if err != nil || rec == nil {
		t.Fatalf("record should be live just before expiry: %v %v", rec, err)
	}

	clock.Advance(time.Second)
	rec, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Fatal("record should be absent at expiresAt")
	}
	if store.Len() != 0 {
		t.Fatalf("expired record should be removed by the read, len=%d", store.Len())
	}
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := NewKey(ScopeFollowUp, 3, "ana")
	now := time.Now()

	_ = store.Set(ctx, Record{Key: key, Value: []byte(`"first"`), CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	_ = store.Set(ctx, Record{Key: key, Value: []byte(`"second"`), CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

	rec, _ := store.Get(ctx, key)
	if rec == nil || string(rec.Value) != `"second"` {
		t.Fatalf("expected second value, got %+v", rec)
	}
}

func TestMemoryStoreKeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	owner := NewKey(ScopeConfirmation, 5, "ana")
	_ = store.Set(ctx, Record{Key: owner, Value: []byte(`{}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

	others := []Key{
		NewKey(ScopeConfirmation, 5, "bruno"),
		NewKey(ScopeConfirmation, 0, "ana"),
		NewKey(ScopeFollowUp, 5, "ana"),
	}
	for _, k := range others {
		if rec, _ := store.Take(ctx, k); rec != nil {
			t.Errorf("Take(%s) returned another key's record", k)
		}
		_ = store.Clear(ctx, k)
	}
	if rec, _ := store.Get(ctx, owner); rec == nil {
		t.Fatal("owner's record was disturbed by other keys")
	}
}

func TestMemoryStoreTakeOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := NewKey(ScopeConfirmation, 1, "ana")
	now := time.Now()
	_ = store.Set(ctx, Record{Key: key, Value: []byte(`{}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := store.Take(ctx, key)
			if err == nil && rec != nil {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := NewKey(ScopeProactive, 2, "ana")

	err := store.Update(ctx, key, func(current *Record) (*Record, bool) {
		if current != nil {
			t.Error("expected empty slot")
		}
		return &Record{Value: []byte(`1`)}, true
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	_ = store.Update(ctx, key, func(current *Record) (*Record, bool) {
		if current == nil || string(current.Value) != "1" {
			t.Errorf("current = %+v", current)
		}
		return nil, false
	})
	if rec, _ := store.Get(ctx, key); rec == nil || rec.Key != key {
		t.Fatalf("record = %+v", rec)
	}
	_ = store.Update(ctx, key, func(*Record) (*Record, bool) { return nil, true })
	if rec, _ := store.Get(ctx, key); rec != nil {
		t.Fatal("update returning nil should clear")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(WithMemoryClock(clock.Now))
	now := clock.Now()
	_ = store.Set(ctx, Record{Key: NewKey(ScopeConfirmation, 1, "a"), CreatedAt: now, ExpiresAt: now.Add(time.Minute)})
	_ = store.Set(ctx, Record{Key: NewKey(ScopeFollowUp, 1, "a"), CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	_ = store.Set(ctx, Record{Key: NewKey(ScopeProactive, 1, "a"), CreatedAt: now})

	clock.Advance(2 * time.Minute)
	removed, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 || store.Len() != 2 {
		t.Fatalf("removed=%d len=%d", removed, store.Len())
	}
}

func TestInvalidKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	bad := []Key{
		{Scope: "other", UserID: "a"},
		{Scope: ScopeConfirmation, UserID: " "},
		{Scope: ScopeConfirmation, GroupID: -1, UserID: "a"},
	}
	for _, k := range bad {
		if _, err := store.Get(ctx, k); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Get(%+v) err = %v", k, err)
		}
	}
}

func TestKeyString(t *testing.T) {
	if got := NewKey(ScopeConfirmation, 0, "ana").String(); got != "confirmation:-:ana" {
		t.Errorf("private key = %q", got)
	}
	if got := NewKey(ScopeFollowUp, 42, "ana").String(); got != "follow_up:42:ana" {
		t.Errorf("group key = %q", got)
	}
}
