package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/elisa/pkg/models"
)

// Default slot lifetimes.
const (
	DefaultConfirmationTTL   = 5 * time.Minute
	DefaultFollowUpTTL       = 10 * time.Minute
	DefaultProactiveCooldown = 30 * time.Minute
)

// PendingConfirmation is a stored proposal to run a sensitive tool call.
type PendingConfirmation struct {
	ToolName  string          `json:"toolName"`
	ToolArgs  json.RawMessage `json:"toolArgs"`
	Prompt    string          `json:"prompt,omitempty"`
	CreatedAt time.Time       `json:"-"`
	ExpiresAt time.Time       `json:"-"`
}

// FollowUpKind tells the router how a follow-up was opened.
type FollowUpKind string

const (
	FollowUpQuestion       FollowUpKind = "question"
	FollowUpDisambiguation FollowUpKind = "disambiguation"
	FollowUpProactive      FollowUpKind = "proactive"
)

// FollowUpContext is the continuation carried between two turns of a
// multi-turn exchange. The store treats it as opaque bytes.
type FollowUpContext struct {
	Kind           FollowUpKind           `json:"kind"`
	Prompt         string                 `json:"prompt"`
	UserText       string                 `json:"userText,omitempty"`
	ToolName       string                 `json:"toolName,omitempty"`
	ToolArgs       json.RawMessage        `json:"toolArgs,omitempty"`
	Candidates     []models.ToolCandidate `json:"candidates,omitempty"`
	SuggestedTitle string                 `json:"suggestedTitle,omitempty"`
}

// PendingFollowUp is a live follow-up slot.
type PendingFollowUp struct {
	Context   FollowUpContext
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SlotConfig sets slot lifetimes.
type SlotConfig struct {
	ConfirmationTTL   time.Duration
	FollowUpTTL       time.Duration
	ProactiveCooldown time.Duration
}

// Slots is the typed view of a Store used by the agent loop and the router.
type Slots struct {
	store   Store
	config  SlotConfig
	nowFunc func() time.Time
}

// NewSlots wraps store. now may be nil for time.Now and must match the
// store's clock.
func NewSlots(store Store, config SlotConfig, now func() time.Time) *Slots {
	if config.ConfirmationTTL <= 0 {
		config.ConfirmationTTL = DefaultConfirmationTTL
	}
	if config.FollowUpTTL <= 0 {
		config.FollowUpTTL = DefaultFollowUpTTL
	}
	if config.ProactiveCooldown <= 0 {
		config.ProactiveCooldown = DefaultProactiveCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Slots{store: store, config: config, nowFunc: now}
}

// Store returns the underlying store.
func (s *Slots) Store() Store {
	return s.store
}

func (s *Slots) record(key Key, value any, ttl time.Duration) (Record, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", key.Scope, err)
	}
	now := s.nowFunc()
	return Record{Key: key, Value: data, CreatedAt: now, ExpiresAt: now.Add(ttl)}, nil
}

func decodeConfirmation(rec *Record) (*PendingConfirmation, error) {
	if rec == nil {
		return nil, nil
	}
	var pc PendingConfirmation
	if err := json.Unmarshal(rec.Value, &pc); err != nil {
		return nil, fmt.Errorf("decode confirmation %s: %w", rec.Key, err)
	}
	pc.CreatedAt = rec.CreatedAt
	pc.ExpiresAt = rec.ExpiresAt
	return &pc, nil
}

func decodeFollowUp(rec *Record) (*PendingFollowUp, error) {
	if rec == nil {
		return nil, nil
	}
	var fc FollowUpContext
	if err := json.Unmarshal(rec.Value, &fc); err != nil {
		return nil, fmt.Errorf("decode follow-up %s: %w", rec.Key, err)
	}
	return &PendingFollowUp{Context: fc, CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt}, nil
}

// RequestConfirmation stores a confirmation, replacing any previous one for
// the same (group, user).
func (s *Slots) RequestConfirmation(ctx context.Context, groupID int64, userID string, pc PendingConfirmation) (*PendingConfirmation, error) {
	rec, err := s.record(NewKey(ScopeConfirmation, groupID, userID), pc, s.config.ConfirmationTTL)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, rec); err != nil {
		return nil, err
	}
	return decodeConfirmation(&rec)
}

// Confirmation returns the live confirmation or nil.
func (s *Slots) Confirmation(ctx context.Context, groupID int64, userID string) (*PendingConfirmation, error) {
	rec, err := s.store.Get(ctx, NewKey(ScopeConfirmation, groupID, userID))
	if err != nil {
		return nil, err
	}
	return decodeConfirmation(rec)
}

// TakeConfirmation consumes the live confirmation. Nil means there was none,
// or a concurrent message already consumed it.
func (s *Slots) TakeConfirmation(ctx context.Context, groupID int64, userID string) (*PendingConfirmation, error) {
	rec, err := s.store.Take(ctx, NewKey(ScopeConfirmation, groupID, userID))
	if err != nil {
		return nil, err
	}
	return decodeConfirmation(rec)
}

// ClearConfirmation removes any confirmation.
func (s *Slots) ClearConfirmation(ctx context.Context, groupID int64, userID string) error {
	return s.store.Clear(ctx, NewKey(ScopeConfirmation, groupID, userID))
}

// SetFollowUp stores a follow-up, replacing any previous one.
func (s *Slots) SetFollowUp(ctx context.Context, groupID int64, userID string, fc FollowUpContext) error {
	rec, err := s.record(NewKey(ScopeFollowUp, groupID, userID), fc, s.config.FollowUpTTL)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, rec)
}

// FollowUp returns the live follow-up or nil.
func (s *Slots) FollowUp(ctx context.Context, groupID int64, userID string) (*PendingFollowUp, error) {
	rec, err := s.store.Get(ctx, NewKey(ScopeFollowUp, groupID, userID))
	if err != nil {
		return nil, err
	}
	return decodeFollowUp(rec)
}

// TakeFollowUp consumes the live follow-up.
func (s *Slots) TakeFollowUp(ctx context.Context, groupID int64, userID string) (*PendingFollowUp, error) {
	rec, err := s.store.Take(ctx, NewKey(ScopeFollowUp, groupID, userID))
	if err != nil {
		return nil, err
	}
	return decodeFollowUp(rec)
}

// ClearFollowUp removes any follow-up.
func (s *Slots) ClearFollowUp(ctx context.Context, groupID int64, userID string) error {
	return s.store.Clear(ctx, NewKey(ScopeFollowUp, groupID, userID))
}

type cooldownValue struct {
	LastProactiveAt time.Time `json:"lastProactiveAt"`
}

// TryProactive claims the proactive cooldown for (group, user). It returns
// true and records now as lastProactiveAt only when the previous suggestion
// is at least the cooldown old. The cooldown record expires exactly when the
// cooldown elapses, so an absent record means a suggestion is allowed.
func (s *Slots) TryProactive(ctx context.Context, groupID int64, userID string) (bool, error) {
	key := NewKey(ScopeProactive, groupID, userID)
	now := s.nowFunc()
	claimed := false
	err := s.store.Update(ctx, key, func(current *Record) (*Record, bool) {
		if current != nil {
			var cv cooldownValue
			if json.Unmarshal(current.Value, &cv) == nil && now.Sub(cv.LastProactiveAt) < s.config.ProactiveCooldown {
				return nil, false
			}
		}
		data, err := json.Marshal(cooldownValue{LastProactiveAt: now})
		if err != nil {
			return nil, false
		}
		claimed = true
		return &Record{Value: data, CreatedAt: now, ExpiresAt: now.Add(s.config.ProactiveCooldown)}, true
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// LastProactive returns when the last suggestion fired while the cooldown is live.
func (s *Slots) LastProactive(ctx context.Context, groupID int64, userID string) (time.Time, bool, error) {
	rec, err := s.store.Get(ctx, NewKey(ScopeProactive, groupID, userID))
	if err != nil || rec == nil {
		return time.Time{}, false, err
	}
	var cv cooldownValue
	if err := json.Unmarshal(rec.Value, &cv); err != nil {
		return time.Time{}, false, fmt.Errorf("decode cooldown: %w", err)
	}
	return cv.LastProactiveAt, true, nil
}
