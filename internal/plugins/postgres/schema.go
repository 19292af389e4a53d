package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		handle      TEXT NOT NULL DEFAULT '',
		avatar_url  TEXT NOT NULL DEFAULT '',
		role        TEXT NOT NULL DEFAULT 'student',
		status      TEXT NOT NULL DEFAULT 'active',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id                UUID PRIMARY KEY,
		kind              TEXT NOT NULL DEFAULT 'direct',
		participant_low   TEXT NOT NULL REFERENCES users(id),
		participant_high  TEXT NOT NULL REFERENCES users(id),
		last_message_id   UUID,
		last_message_at   TIMESTAMPTZ,
		status            TEXT NOT NULL DEFAULT 'active',
		message_count     BIGINT NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (participant_low < participant_high)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS conversations_direct_pair_uq
		ON conversations (kind, participant_low, participant_high)`,
	`CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id       UUID NOT NULL REFERENCES conversations(id),
		user_id               TEXT NOT NULL REFERENCES users(id),
		last_read_message_id  UUID,
		last_read_message_at  TIMESTAMPTZ,
		last_read_at          TIMESTAMPTZ,
		muted                 BOOLEAN NOT NULL DEFAULT false,
		joined_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (conversation_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS conversation_participants_user_idx
		ON conversation_participants (user_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id                UUID PRIMARY KEY,
		conversation_id   UUID NOT NULL REFERENCES conversations(id),
		sender_id         TEXT NOT NULL,
		receiver_id       TEXT NOT NULL,
		content           TEXT NOT NULL,
		type              TEXT NOT NULL DEFAULT 'text',
		attachments       JSONB NOT NULL DEFAULT '[]',
		status            TEXT NOT NULL DEFAULT 'sent',
		read_at           TIMESTAMPTZ,
		is_deleted        BOOLEAN NOT NULL DEFAULT false,
		deleted_at        TIMESTAMPTZ,
		is_edited         BOOLEAN NOT NULL DEFAULT false,
		edited_at         TIMESTAMPTZ,
		original_content  TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK ((status = 'read') = (read_at IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_created_idx
		ON messages (conversation_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS messages_receiver_unread_idx
		ON messages (receiver_id, conversation_id) WHERE status <> 'read' AND NOT is_deleted`,
}

// Migrate creates the chat tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
