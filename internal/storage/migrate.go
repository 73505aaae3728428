package storage

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS elisa_conversation_state (
		scope TEXT NOT NULL,
		group_id BIGINT NOT NULL,
		user_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at_ms BIGINT NOT NULL,
		expires_at_ms BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (scope, group_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS elisa_conversation_state_expiry ON elisa_conversation_state (expires_at_ms)`,
	`CREATE TABLE IF NOT EXISTS elisa_group_memory (
		group_id BIGINT PRIMARY KEY,
		summary_text TEXT NOT NULL DEFAULT '',
		messages_since_summary INTEGER NOT NULL DEFAULT 0,
		last_summary_at_ms BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS elisa_thread_messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at_ms BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS elisa_thread_messages_user ON elisa_thread_messages (user_id, created_at_ms)`,
}

// Migrate creates the engine's tables when they do not exist.
func Migrate(ctx context.Context, db *DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
