// Package threads persists the private assistant thread of each user.
package threads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/elisa/pkg/models"
)

// DefaultPageSize is the retrieval window used when callers pass no limit.
const DefaultPageSize = 50

// ErrUserRequired is returned for messages without an owner.
var ErrUserRequired = errors.New("thread user id is required")

// Store is the ordered per-user message log.
type Store interface {
	// Append adds msg to the user's thread, assigning an id and timestamp
	// when missing.
	Append(ctx context.Context, userID string, msg models.Message) error
	// Recent returns the newest limit messages, oldest first.
	Recent(ctx context.Context, userID string, limit int) ([]models.Message, error)
}

// MemoryStore keeps threads in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	threads    map[string][]models.Message
	maxPerUser int
	nowFunc    func() time.Time
}

// NewMemoryStore creates a store that keeps at most maxPerUser messages per
// user. Zero keeps everything.
func NewMemoryStore(maxPerUser int) *MemoryStore {
	return &MemoryStore{
		threads:    make(map[string][]models.Message),
		maxPerUser: maxPerUser,
		nowFunc:    time.Now,
	}
}

func prepare(userID string, msg models.Message, now func() time.Time) (models.Message, error) {
	if strings.TrimSpace(userID) == "" {
		return msg, ErrUserRequired
	}
	msg.UserID = userID
	msg.GroupID = 0
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	return msg, nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, userID string, msg models.Message) error {
	msg, err := prepare(userID, msg, s.nowFunc)
	if err != nil {
		return err
	}
	msg.Metadata = nil
	s.mu.Lock()
	defer s.mu.Unlock()
	thread := append(s.threads[userID], msg)
	if s.maxPerUser > 0 && len(thread) > s.maxPerUser {
		thread = thread[len(thread)-s.maxPerUser:]
	}
	s.threads[userID] = thread
	return nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(_ context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread := s.threads[userID]
	if len(thread) > limit {
		thread = thread[len(thread)-limit:]
	}
	return append([]models.Message(nil), thread...), nil
}
