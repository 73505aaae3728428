// Package state holds the per-(scope, group, user) conversation slots: pending
// confirmations, pending follow-ups and proactive cooldowns.
//
// Every slot has single-record, last-write-wins semantics and expires lazily:
// a record whose expiry has been reached is reported absent and removed by the
// read that observed it. Sweep reclaims records nobody touches again.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scope names the kind of slot.
type Scope string

const (
	ScopeConfirmation Scope = "confirmation"
	ScopeFollowUp     Scope = "follow_up"
	ScopeProactive    Scope = "proactive"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeConfirmation, ScopeFollowUp, ScopeProactive:
		return true
	}
	return false
}

// ErrInvalidKey is returned for keys with an unknown scope or empty user.
var ErrInvalidKey = errors.New("invalid state key")

// Key identifies one slot. GroupID zero denotes the user's private thread.
type Key struct {
	Scope   Scope
	GroupID int64
	UserID  string
}

// NewKey builds a key.
func NewKey(scope Scope, groupID int64, userID string) Key {
	return Key{Scope: scope, GroupID: groupID, UserID: userID}
}

// Validate checks the key is addressable.
func (k Key) Validate() error {
	if !k.Scope.Valid() {
		return fmt.Errorf("%w: scope %q", ErrInvalidKey, k.Scope)
	}
	if strings.TrimSpace(k.UserID) == "" {
		return fmt.Errorf("%w: empty user", ErrInvalidKey)
	}
	if k.GroupID < 0 {
		return fmt.Errorf("%w: negative group", ErrInvalidKey)
	}
	return nil
}

func (k Key) String() string {
	group := "-"
	if k.GroupID != 0 {
		group = strconv.FormatInt(k.GroupID, 10)
	}
	return string(k.Scope) + ":" + group + ":" + k.UserID
}

// Record is the stored value of a slot. A zero ExpiresAt never expires.
type Record struct {
	Key       Key
	Value     json.RawMessage
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record is no longer live at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// UpdateFunc computes the next value of a slot from its live current value
// (nil when absent or expired). Returning write=false leaves the slot
// untouched; returning a nil next with write=true clears it.
type UpdateFunc func(current *Record) (next *Record, write bool)

// Store is the slot storage contract. Every method is atomic per key.
type Store interface {
	// Get returns the live record or nil.
	Get(ctx context.Context, key Key) (*Record, error)
	// Set replaces the slot unconditionally.
	Set(ctx context.Context, rec Record) error
	// Clear removes the slot.
	Clear(ctx context.Context, key Key) error
	// Take returns the live record and removes it in one step. Of several
	// concurrent callers at most one receives the record.
	Take(ctx context.Context, key Key) (*Record, error)
	// Update runs fn as an indivisible read-check-write.
	Update(ctx context.Context, key Key, fn UpdateFunc) error
	// Sweep removes every expired record and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}
