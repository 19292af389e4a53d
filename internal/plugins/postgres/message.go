package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"campuschat/internal/core/domain"

	"github.com/google/uuid"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{
		db: db,
	}
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, type, attachments, status,
	read_at, is_deleted, deleted_at, is_edited, edited_at, original_content, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	var (
		m           domain.Message
		attachments []byte
		readAt      sql.NullTime
		deletedAt   sql.NullTime
		editedAt    sql.NullTime
		original    sql.NullString
	)
	if err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Content,
		&m.Type,
		&attachments,
		&m.Status,
		&readAt,
		&m.IsDeleted,
		&deletedAt,
		&m.IsEdited,
		&editedAt,
		&original,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, err
		}
	}
	m.ReadAt = timePtr(readAt)
	m.DeletedAt = timePtr(deletedAt)
	m.EditedAt = timePtr(editedAt)
	if original.Valid {
		s := original.String
		m.OriginalContent = &s
	}
	return &m, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *MessageRepo) Insert(ctx context.Context, m *domain.Message) error {
	if m.ConversationID == uuid.Nil {
		return domain.ErrInvalidConversationID
	}
	attachments := m.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return err
	}
	exec := GetExecutor(ctx, r.db)
	_, err = exec.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, sender_id, receiver_id, content, type, attachments,
			status, read_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`,
		m.ID,
		m.ConversationID,
		m.SenderID,
		m.ReceiverID,
		m.Content,
		m.Type,
		string(raw),
		m.Status,
		nullTime(m.ReadAt),
		m.CreatedAt,
	)
	return err
}

func (r *MessageRepo) queryOne(ctx context.Context, query string, args ...any) (*domain.Message, error) {
	exec := GetExecutor(ctx, r.db)
	m, err := scanMessage(exec.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *MessageRepo) GetMessageByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	if id == uuid.Nil {
		return nil, domain.ErrInvalidMessageID
	}
	return r.queryOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1 AND NOT is_deleted`, id)
}

func (r *MessageRepo) ListByConversation(
	ctx context.Context,
	convID uuid.UUID,
	page domain.Page,
) ([]domain.Message, error) {
	if convID == uuid.Nil {
		return nil, domain.ErrInvalidConversationID
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, convID, page.Size, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func (r *MessageRepo) LatestInConversation(ctx context.Context, convID uuid.UUID) (*domain.Message, error) {
	return r.queryOne(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, convID)
}

func (r *MessageRepo) LatestAddressedTo(ctx context.Context, convID uuid.UUID, userID string) (*domain.Message, error) {
	return r.queryOne(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND receiver_id = $2 AND NOT is_deleted
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, convID, userID)
}

func (r *MessageRepo) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE messages SET status = 'delivered', updated_at = now()
		WHERE id = $1 AND status = 'sent' AND NOT is_deleted
	`, id)
	return changed(result, err)
}

func (r *MessageRepo) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE messages SET status = 'read', read_at = $2, updated_at = now()
		WHERE id = $1 AND status <> 'read' AND NOT is_deleted
	`, id, at)
	return changed(result, err)
}

func (r *MessageRepo) MarkConversationRead(
	ctx context.Context,
	convID uuid.UUID,
	readerID string,
	at time.Time,
) (int64, error) {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE messages SET status = 'read', read_at = $3, updated_at = now()
		WHERE conversation_id = $1 AND receiver_id = $2 AND status <> 'read' AND NOT is_deleted
	`, convID, readerID, at)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *MessageRepo) CountUnreadBefore(
	ctx context.Context,
	convID uuid.UUID,
	userID string,
	t time.Time,
) (int64, error) {
	exec := GetExecutor(ctx, r.db)
	var n int64
	err := exec.QueryRowContext(ctx, `
		SELECT count(*) FROM messages
		WHERE conversation_id = $1 AND receiver_id = $2 AND status <> 'read'
		  AND NOT is_deleted AND created_at <= $3
	`, convID, userID, t).Scan(&n)
	return n, err
}

func (r *MessageRepo) CountUnread(ctx context.Context, f domain.UnreadFilter) (int64, error) {
	if f.UserID == "" {
		return 0, domain.ErrInvalidUserID
	}
	query := `
		SELECT count(*)
		FROM messages m
		JOIN conversation_participants cp
		  ON cp.conversation_id = m.conversation_id AND cp.user_id = m.receiver_id
		WHERE m.receiver_id = $1
		  AND m.status <> 'read'
		  AND NOT m.is_deleted
		  AND (cp.last_read_message_at IS NULL OR m.created_at > cp.last_read_message_at)`
	args := []any{f.UserID}
	if f.ConversationID != nil {
		query += ` AND m.conversation_id = $2`
		args = append(args, *f.ConversationID)
	}
	exec := GetExecutor(ctx, r.db)
	var n int64
	if err := exec.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE messages SET is_deleted = true, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND NOT is_deleted
	`, id, at)
	return expectRow(result, err, domain.ErrMessageNotFound)
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE messages
		SET original_content = COALESCE(original_content, content),
		    content = $2,
		    is_edited = true,
		    edited_at = $3,
		    updated_at = $3
		WHERE id = $1 AND NOT is_deleted
	`, id, content, at)
	return expectRow(result, err, domain.ErrMessageNotFound)
}

func changed(result sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
