package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/elisa/internal/storage"
)

// SQLStore keeps slots in the shared database so several engine processes
// observe the same confirmations and cooldowns.
type SQLStore struct {
	db      *storage.DB
	nowFunc func() time.Time
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLClock overrides the time source.
func WithSQLClock(now func() time.Time) SQLOption {
	return func(s *SQLStore) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

// NewSQLStore creates a store on db. Tables come from storage.Migrate.
func NewSQLStore(db *storage.DB, opts ...SQLOption) *SQLStore {
	s := &SQLStore{db: db, nowFunc: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const (
	selectStateSQL = `SELECT payload, created_at_ms, expires_at_ms FROM elisa_conversation_state
		WHERE scope = ? AND group_id = ? AND user_id = ?`
	upsertStateSQL = `INSERT INTO elisa_conversation_state (scope, group_id, user_id, payload, created_at_ms, expires_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, group_id, user_id) DO UPDATE SET
			payload = excluded.payload,
			created_at_ms = excluded.created_at_ms,
			expires_at_ms = excluded.expires_at_ms`
	// Already expired, so readers treat it as absent.
	placeholderStateSQL = `INSERT INTO elisa_conversation_state (scope, group_id, user_id, payload, created_at_ms, expires_at_ms)
		VALUES (?, ?, ?, '', 0, 1)
		ON CONFLICT (scope, group_id, user_id) DO NOTHING`
	deleteStateSQL = `DELETE FROM elisa_conversation_state WHERE scope = ? AND group_id = ? AND user_id = ?`
	// Conditional delete so an expired read never removes a fresh overwrite.
	deleteExpiredStateSQL = `DELETE FROM elisa_conversation_state
		WHERE scope = ? AND group_id = ? AND user_id = ? AND expires_at_ms <> 0 AND expires_at_ms <= ?`
	takeStateSQL = `DELETE FROM elisa_conversation_state WHERE scope = ? AND group_id = ? AND user_id = ?
		RETURNING payload, created_at_ms, expires_at_ms`
	sweepStateSQL = `DELETE FROM elisa_conversation_state WHERE expires_at_ms <> 0 AND expires_at_ms <= ?`
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *SQLStore) scan(row *sql.Row, key Key) (*Record, error) {
	var payload string
	var createdMs, expiresMs int64
	if err := row.Scan(&payload, &createdMs, &expiresMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &Record{
		Key:       key,
		Value:     []byte(payload),
		CreatedAt: fromMillis(createdMs),
		ExpiresAt: fromMillis(expiresMs),
	}, nil
}

func (s *SQLStore) read(ctx context.Context, q queryer, key Key, suffix string) (*Record, error) {
	row := q.QueryRowContext(ctx, s.db.Dialect.Rebind(selectStateSQL+suffix), string(key.Scope), key.GroupID, key.UserID)
	rec, err := s.scan(row, key)
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", key, err)
	}
	return rec, nil
}

func (s *SQLStore) write(ctx context.Context, q queryer, rec Record) error {
	_, err := q.ExecContext(ctx, s.db.Dialect.Rebind(upsertStateSQL),
		string(rec.Key.Scope), rec.Key.GroupID, rec.Key.UserID,
		string(rec.Value), toMillis(rec.CreatedAt), toMillis(rec.ExpiresAt))
	if err != nil {
		return fmt.Errorf("write state %s: %w", rec.Key, err)
	}
	return nil
}

func (s *SQLStore) remove(ctx context.Context, q queryer, key Key) error {
	if _, err := q.ExecContext(ctx, s.db.Dialect.Rebind(deleteStateSQL), string(key.Scope), key.GroupID, key.UserID); err != nil {
		return fmt.Errorf("clear state %s: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key Key) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	rec, err := s.read(ctx, s.db, key, "")
	if err != nil || rec == nil {
		return nil, err
	}
	now := s.nowFunc()
	if rec.Expired(now) {
		if _, err := s.db.ExecContext(ctx, s.db.Dialect.Rebind(deleteExpiredStateSQL),
			string(key.Scope), key.GroupID, key.UserID, now.UnixMilli()); err != nil {
			return nil, fmt.Errorf("expire state %s: %w", key, err)
		}
		return nil, nil
	}
	return rec, nil
}

// Set implements Store.
func (s *SQLStore) Set(ctx context.Context, rec Record) error {
	if err := rec.Key.Validate(); err != nil {
		return err
	}
	return s.write(ctx, s.db, rec)
}

// Clear implements Store.
func (s *SQLStore) Clear(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return s.remove(ctx, s.db, key)
}

// Take implements Store. The DELETE ... RETURNING is atomic in both dialects.
func (s *SQLStore) Take(ctx context.Context, key Key) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.db.Dialect.Rebind(takeStateSQL), string(key.Scope), key.GroupID, key.UserID)
	rec, err := s.scan(row, key)
	if err != nil {
		return nil, fmt.Errorf("take state %s: %w", key, err)
	}
	if rec == nil || rec.Expired(s.nowFunc()) {
		return nil, nil
	}
	return rec, nil
}

// Update implements Store inside a transaction holding the row lock.
func (s *SQLStore) Update(ctx context.Context, key Key, fn UpdateFunc) (err error) {
	if err := key.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// FOR UPDATE locks nothing on an absent row, so make sure one exists
	// before reading; concurrent first claims then queue on it.
	res, err := tx.ExecContext(ctx, s.db.Dialect.Rebind(placeholderStateSQL), string(key.Scope), key.GroupID, key.UserID)
	if err != nil {
		return fmt.Errorf("reserve state %s: %w", key, err)
	}
	reserved, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve state %s: %w", key, err)
	}

	current, err := s.read(ctx, tx, key, s.db.Dialect.ForUpdate())
	if err != nil {
		return err
	}
	if current != nil && current.Expired(s.nowFunc()) {
		current = nil
	}
	next, write := fn(current)
	switch {
	case !write:
		if reserved > 0 {
			if err = s.remove(ctx, tx, key); err != nil {
				return err
			}
		}
	case next == nil:
		if err = s.remove(ctx, tx, key); err != nil {
			return err
		}
	default:
		rec := *next
		rec.Key = key
		if err = s.write(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit state update: %w", err)
	}
	return nil
}

// Sweep implements Store.
func (s *SQLStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, s.db.Dialect.Rebind(sweepStateSQL), s.nowFunc().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep state: %w", err)
	}
	return int(n), nil
}
