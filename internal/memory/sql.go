package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/elisa/internal/storage"
)

const (
	loadMemorySQL = `SELECT summary_text, messages_since_summary, last_summary_at_ms
		FROM elisa_group_memory WHERE group_id = ?`
	incrementMemorySQL = `INSERT INTO elisa_group_memory (group_id, messages_since_summary) VALUES (?, 1)
		ON CONFLICT (group_id) DO UPDATE SET messages_since_summary = elisa_group_memory.messages_since_summary + 1
		RETURNING messages_since_summary`
	saveSummarySQL = `INSERT INTO elisa_group_memory (group_id, summary_text, messages_since_summary, last_summary_at_ms)
		VALUES (?, ?, 0, ?)
		ON CONFLICT (group_id) DO UPDATE SET
			summary_text = excluded.summary_text,
			messages_since_summary = CASE
				WHEN elisa_group_memory.messages_since_summary > ? THEN elisa_group_memory.messages_since_summary - ?
				ELSE 0 END,
			last_summary_at_ms = excluded.last_summary_at_ms`
	pendingMemorySQL = `SELECT group_id FROM elisa_group_memory WHERE messages_since_summary > 0 ORDER BY group_id`
)

// SQLStore keeps group memory in the shared database.
type SQLStore struct {
	db *storage.DB
}

// NewSQLStore creates a store on db. Tables come from storage.Migrate.
func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, groupID int64) (GroupMemory, error) {
	mem := GroupMemory{GroupID: groupID}
	var lastMs int64
	err := s.db.QueryRowContext(ctx, s.db.Dialect.Rebind(loadMemorySQL), groupID).
		Scan(&mem.SummaryText, &mem.MessagesSinceSummary, &lastMs)
	if errors.Is(err, sql.ErrNoRows) {
		return mem, nil
	}
	if err != nil {
		return mem, fmt.Errorf("load group memory %d: %w", groupID, err)
	}
	if lastMs != 0 {
		mem.LastSummaryAt = time.UnixMilli(lastMs)
	}
	return mem, nil
}

// Increment implements Store with a single upsert so concurrent writers
// never lose a count.
func (s *SQLStore) Increment(ctx context.Context, groupID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.db.Dialect.Rebind(incrementMemorySQL), groupID).Scan(&n); err != nil {
		return 0, fmt.Errorf("increment group memory %d: %w", groupID, err)
	}
	return n, nil
}

// SaveSummary implements Store.
func (s *SQLStore) SaveSummary(ctx context.Context, groupID int64, text string, folded int, at time.Time) error {
	folded = max(folded, 0)
	if _, err := s.db.ExecContext(ctx, s.db.Dialect.Rebind(saveSummarySQL), groupID, text, at.UnixMilli(), folded, folded); err != nil {
		return fmt.Errorf("save group summary %d: %w", groupID, err)
	}
	return nil
}

// Pending implements Store.
func (s *SQLStore) Pending(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, pendingMemorySQL)
	if err != nil {
		return nil, fmt.Errorf("list pending group memory: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending group memory: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
