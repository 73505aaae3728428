package threads

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/elisa/internal/storage"
	"github.com/haasonsaas/elisa/pkg/models"
)

const (
	appendThreadSQL = `INSERT INTO elisa_thread_messages (id, user_id, role, text, created_at_ms) VALUES (?, ?, ?, ?, ?)`
	recentThreadSQL = `SELECT id, role, text, created_at_ms FROM elisa_thread_messages
		WHERE user_id = ? ORDER BY created_at_ms DESC, id DESC LIMIT ?`
)

// SQLStore keeps threads in the shared database.
type SQLStore struct {
	db      *storage.DB
	nowFunc func() time.Time
}

// NewSQLStore creates a store on db. Tables come from storage.Migrate.
func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db, nowFunc: time.Now}
}

// Append implements Store.
func (s *SQLStore) Append(ctx context.Context, userID string, msg models.Message) error {
	msg, err := prepare(userID, msg, s.nowFunc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Dialect.Rebind(appendThreadSQL),
		msg.ID, userID, string(msg.Role), msg.Text, msg.CreatedAt.UnixMilli())
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return fmt.Errorf("append thread message %s: %w", msg.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("append thread message: %w", err)
	}
	return nil
}

// Recent implements Store.
func (s *SQLStore) Recent(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	rows, err := s.db.QueryContext(ctx, s.db.Dialect.Rebind(recentThreadSQL), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	defer rows.Close()

	var newestFirst []models.Message
	for rows.Next() {
		var (
			msg  models.Message
			role string
			ms   int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Text, &ms); err != nil {
			return nil, fmt.Errorf("scan thread message: %w", err)
		}
		msg.UserID = userID
		msg.Role = models.Role(role)
		msg.CreatedAt = time.UnixMilli(ms)
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread: %w", err)
	}

	out := make([]models.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, nil
}
