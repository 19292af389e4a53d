package postgres

import (
	"context"
	"database/sql"
	"time"

	"campuschat/internal/core/domain"

	"github.com/google/uuid"
)

// Per-participant conversation state: read cursors and mute flags.

func loadParticipants(ctx context.Context, exec execer, convs ...*domain.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(convs))
	byID := make(map[uuid.UUID]*domain.Conversation, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID.String())
		byID[c.ID] = c
	}
	rows, err := exec.QueryContext(ctx, `
		SELECT conversation_id, user_id, last_read_message_id, last_read_message_at, last_read_at, muted
		FROM conversation_participants
		WHERE conversation_id = ANY($1::uuid[])
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			convID  uuid.UUID
			userID  string
			msgID   uuid.NullUUID
			msgAt   sql.NullTime
			readAt  sql.NullTime
			isMuted bool
		)
		if err := rows.Scan(&convID, &userID, &msgID, &msgAt, &readAt, &isMuted); err != nil {
			return err
		}
		c := byID[convID]
		if c == nil {
			continue
		}
		if msgID.Valid {
			c.ReadCursors[userID] = domain.ReadCursor{
				MessageID: msgID.UUID,
				MessageAt: msgAt.Time,
				ReadAt:    readAt.Time,
			}
		}
		if isMuted {
			c.Muted[userID] = true
		}
	}
	return rows.Err()
}

// UpdateReadCursor never moves a cursor backwards.
func (r *ConversationRepo) UpdateReadCursor(
	ctx context.Context,
	convID uuid.UUID,
	userID string,
	cursor domain.ReadCursor,
) error {
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		UPDATE conversation_participants
		SET last_read_message_id = $3,
		    last_read_message_at = $4,
		    last_read_at = $5
		WHERE conversation_id = $1
		  AND user_id = $2
		  AND (last_read_message_at IS NULL OR last_read_message_at <= $4)
	`, convID, userID, cursor.MessageID, cursor.MessageAt, cursor.ReadAt)
	return err
}

func (r *ConversationRepo) SetMuted(ctx context.Context, convID uuid.UUID, userID string, muted bool) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE conversation_participants SET muted = $3 WHERE conversation_id = $1 AND user_id = $2
	`, convID, userID, muted)
	return expectRow(result, err, domain.ErrNotParticipant)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
