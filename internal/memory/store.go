// Package memory keeps the rolling summary of each group conversation so the
// context handed to the model stays bounded however long the chat grows.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// GroupMemory is the per-group summary state.
type GroupMemory struct {
	GroupID              int64     `json:"group_id"`
	SummaryText          string    `json:"summary_text"`
	MessagesSinceSummary int       `json:"messages_since_summary"`
	LastSummaryAt        time.Time `json:"last_summary_at"`
}

// Store persists GroupMemory.
type Store interface {
	// Load returns the memory of a group, or a zero value for unknown groups.
	Load(ctx context.Context, groupID int64) (GroupMemory, error)
	// Increment bumps the message counter and returns its new value.
	Increment(ctx context.Context, groupID int64) (int, error)
	// SaveSummary stores a new summary and lowers the counter by folded, the
	// number of messages the summary covers, never below zero.
	SaveSummary(ctx context.Context, groupID int64, text string, folded int, at time.Time) error
	// Pending lists groups with messages not yet folded into their summary.
	Pending(ctx context.Context) ([]int64, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	groups map[int64]GroupMemory
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{groups: make(map[int64]GroupMemory)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, groupID int64) (GroupMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem, ok := s.groups[groupID]
	if !ok {
		return GroupMemory{GroupID: groupID}, nil
	}
	return mem, nil
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, groupID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem := s.groups[groupID]
	mem.GroupID = groupID
	mem.MessagesSinceSummary++
	s.groups[groupID] = mem
	return mem.MessagesSinceSummary, nil
}

// SaveSummary implements Store.
func (s *MemoryStore) SaveSummary(_ context.Context, groupID int64, text string, folded int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem := s.groups[groupID]
	s.groups[groupID] = GroupMemory{
		GroupID:              groupID,
		SummaryText:          text,
		MessagesSinceSummary: max(mem.MessagesSinceSummary-folded, 0),
		LastSummaryAt:        at,
	}
	return nil
}

// Pending implements Store.
func (s *MemoryStore) Pending(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, mem := range s.groups {
		if mem.MessagesSinceSummary > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
