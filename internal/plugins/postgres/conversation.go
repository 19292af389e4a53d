package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"campuschat/internal/core/domain"

	"github.com/google/uuid"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `c.id, c.kind, c.participant_low, c.participant_high, c.last_message_id,
	c.last_message_at, c.status, c.message_count, c.created_at, c.updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*domain.Conversation, error) {
	var (
		c      domain.Conversation
		lastID uuid.NullUUID
		lastAt sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.Kind,
		&c.Participants[0],
		&c.Participants[1],
		&lastID,
		&lastAt,
		&c.Status,
		&c.MessageCount,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastID.Valid {
		id := lastID.UUID
		c.LastMessageID = &id
	}
	if lastAt.Valid {
		at := lastAt.Time
		c.LastMessageAt = &at
	}
	c.ReadCursors = map[string]domain.ReadCursor{}
	c.Muted = map[string]bool{}
	return &c, nil
}

func (r *ConversationRepo) GetConversationByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	if id == uuid.Nil {
		return nil, domain.ErrInvalidConversationID
	}
	exec := GetExecutor(ctx, r.db)
	c, err := scanConversation(exec.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	if err := loadParticipants(ctx, exec, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ConversationRepo) FindDirect(ctx context.Context, pair [2]string) (*domain.Conversation, error) {
	exec := GetExecutor(ctx, r.db)
	c, err := scanConversation(exec.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		WHERE c.kind = $1 AND c.participant_low = $2 AND c.participant_high = $3
	`, domain.KindDirect, pair[0], pair[1]))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	if err := loadParticipants(ctx, exec, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateDirect inserts the conversation and both participant rows in one
// statement so a lost race leaves nothing behind.
func (r *ConversationRepo) CreateDirect(ctx context.Context, c *domain.Conversation) error {
	if c.ID == uuid.Nil {
		return domain.ErrInvalidConversationID
	}
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		WITH c AS (
			INSERT INTO conversations (id, kind, participant_low, participant_high, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			RETURNING id, created_at
		)
		INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
		SELECT c.id, p.uid, c.created_at
		FROM c CROSS JOIN (VALUES ($3::text), ($4::text)) AS p(uid)
	`, c.ID, c.Kind, c.Participants[0], c.Participants[1], c.Status, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConversationAlreadyExists
		}
		return err
	}
	return nil
}

func (r *ConversationRepo) ListForUser(
	ctx context.Context,
	userID string,
	status domain.ConversationStatus,
	page domain.Page,
) ([]domain.Conversation, error) {
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1 AND c.status = $2
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
		LIMIT $3 OFFSET $4
	`, userID, status, page.Size, page.Offset())
	if err != nil {
		return nil, err
	}
	var convs []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadParticipants(ctx, exec, convs...); err != nil {
		return nil, err
	}
	out := make([]domain.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, *c)
	}
	return out, nil
}

func (r *ConversationRepo) LockForWrite(ctx context.Context, convID uuid.UUID) (*time.Time, error) {
	var last sql.NullTime
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx,
		`SELECT last_message_at FROM conversations WHERE id = $1 FOR UPDATE`, convID).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return timePtr(last), nil
}

func (r *ConversationRepo) RecordMessage(ctx context.Context, convID, msgID uuid.UUID, at time.Time) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = $2,
		    last_message_at = $3,
		    message_count = message_count + 1,
		    status = CASE WHEN status = 'archived' THEN 'active' ELSE status END,
		    updated_at = now()
		WHERE id = $1
	`, convID, msgID, at)
	return expectRow(result, err, domain.ErrConversationNotFound)
}

func (r *ConversationRepo) UpdateStatus(ctx context.Context, convID uuid.UUID, status domain.ConversationStatus) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE conversations SET status = $2, updated_at = now() WHERE id = $1
	`, convID, status)
	return expectRow(result, err, domain.ErrConversationNotFound)
}

func expectRow(result sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
