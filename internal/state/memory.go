package state

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/elisa/internal/locks"
)

// MemoryStore keeps slots in process memory. It is valid only when a single
// process serves every message for a given key.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]*Record
	keys    *locks.KeyedMutex
	nowFunc func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[Key]*Record),
		keys:    locks.NewKeyedMutex(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live returns the record for key, dropping it when expired. Caller holds the key lock.
func (s *MemoryStore) live(key Key) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	if rec.Expired(s.nowFunc()) {
		delete(s.records, key)
		return nil
	}
	return rec
}

func (s *MemoryStore) put(key Key, rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec == nil {
		delete(s.records, key)
		return
	}
	s.records[key] = rec
}

func cloneRecord(rec *Record) *Record {
	if rec == nil {
		return nil
	}
	out := *rec
	out.Value = append([]byte(nil), rec.Value...)
	return &out
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key Key) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	unlock := s.keys.Lock(key.String())
	defer unlock()
	return cloneRecord(s.live(key)), nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, rec Record) error {
	if err := rec.Key.Validate(); err != nil {
		return err
	}
	unlock := s.keys.Lock(rec.Key.String())
	defer unlock()
	s.put(rec.Key, cloneRecord(&rec))
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	unlock := s.keys.Lock(key.String())
	defer unlock()
	s.put(key, nil)
	return nil
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, key Key) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	unlock := s.keys.Lock(key.String())
	defer unlock()
	rec := s.live(key)
	if rec == nil {
		return nil, nil
	}
	s.put(key, nil)
	return rec, nil
}

// Update implements Store. fn runs under the key lock and must not block.
func (s *MemoryStore) Update(_ context.Context, key Key, fn UpdateFunc) error {
	if err := key.Validate(); err != nil {
		return err
	}
	unlock := s.keys.Lock(key.String())
	defer unlock()
	next, write := fn(cloneRecord(s.live(key)))
	if !write {
		return nil
	}
	if next != nil {
		next = cloneRecord(next)
		next.Key = key
	}
	s.put(key, next)
	return nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	removed := 0
	for key, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored records, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
