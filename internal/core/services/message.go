package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"campuschat/internal/core/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AppendParams describes a message about to be persisted.
type AppendParams struct {
	ConversationID uuid.UUID
	SenderID       string
	ReceiverID     string
	Content        string
	Type           domain.MessageType
	Attachments    []domain.Attachment
}

// MessageService is the message ledger. It owns the sent -> delivered -> read
// state machine and keeps read cursors consistent with per-message status.
type MessageService struct {
	log   *slog.Logger
	tx    domain.Transactor
	msgs  domain.MessageRepository
	convs domain.ConversationRepository
	users *UserService
	now   func() time.Time
}

func NewMessageService(
	log *slog.Logger,
	tx domain.Transactor,
	msgs domain.MessageRepository,
	convs domain.ConversationRepository,
	users *UserService,
) *MessageService {
	return &MessageService{
		log:   log,
		tx:    tx,
		msgs:  msgs,
		convs: convs,
		users: users,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MessageService) internal(ctx context.Context, op string, err error, args ...any) error {
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}
	s.log.ErrorContext(ctx, "messages - "+op+" - failed", append(args, "err", err)...)
	return domain.Internal(err)
}

// Append persists a new message with status sent and moves the
// conversation's last-message pointer in the same transaction.
func (s *MessageService) Append(ctx context.Context, p AppendParams) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.Append", trace.WithAttributes(
		attribute.String("conv_id", p.ConversationID.String()),
		attribute.String("sender_id", p.SenderID),
		attribute.Int("content_length", len(p.Content)),
	))
	defer span.End()
	if err := domain.ValidateContent(p.Content); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if p.Type == "" {
		p.Type = domain.MessageText
	}
	if !p.Type.Valid() {
		return nil, domain.ErrInvalidMessageType
	}
	conv, err := s.convs.GetConversationByID(ctx, p.ConversationID)
	if err != nil {
		fail(span, err, "load conversation failed")
		return nil, s.internal(ctx, "append", err, "conv_id", p.ConversationID.String())
	}
	if !conv.HasParticipant(p.SenderID) || !conv.HasParticipant(p.ReceiverID) || p.SenderID == p.ReceiverID {
		return nil, domain.ErrNotParticipant
	}
	if conv.Status == domain.ConversationBlocked {
		return nil, domain.ErrConversationBlocked
	}
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		Content:        p.Content,
		Type:           p.Type,
		Attachments:    p.Attachments,
		Status:         domain.StatusSent,
	}
	if err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		last, err := s.convs.LockForWrite(txCtx, msg.ConversationID)
		if err != nil {
			return err
		}
		msg.CreatedAt = s.stamp(last)
		msg.UpdatedAt = msg.CreatedAt
		if err := s.msgs.Insert(txCtx, msg); err != nil {
			return err
		}
		return s.convs.RecordMessage(txCtx, msg.ConversationID, msg.ID, msg.CreatedAt)
	}); err != nil {
		fail(span, err, "transaction failed")
		return nil, s.internal(ctx, "append", err, "conv_id", p.ConversationID.String())
	}
	s.attachUsers(ctx, msg)
	s.log.InfoContext(ctx, "messages - append - success", "message_id", msg.ID.String(), "conv_id", msg.ConversationID.String())
	return msg, nil
}

// stamp returns a creation time strictly after the conversation's last
// message, at the microsecond precision the store keeps. A read cursor then
// never lands past a message that commits later.
func (s *MessageService) stamp(last *time.Time) time.Time {
	at := s.now().Truncate(time.Microsecond)
	if last != nil && !at.After(*last) {
		at = last.Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return at
}

func (s *MessageService) attachUsers(ctx context.Context, msgs ...*domain.Message) {
	ids := make([]string, 0, 2)
	seen := map[string]bool{}
	for _, m := range msgs {
		for _, id := range []string{m.SenderID, m.ReceiverID} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	users, err := s.users.Lookup(ctx, ids)
	if err != nil {
		s.log.WarnContext(ctx, "messages - attach users - failed", "user_ids", ids, "err", err)
		return
	}
	for _, m := range msgs {
		m.Sender = users[m.SenderID]
		m.Receiver = users[m.ReceiverID]
	}
}

// Get returns a live (not soft-deleted) message.
func (s *MessageService) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	msg, err := s.msgs.GetMessageByID(ctx, id)
	if err != nil {
		return nil, s.internal(ctx, "get", err, "message_id", id.String())
	}
	return msg, nil
}

// List returns one page of a conversation in display order: the page is
// selected newest-first and then reversed.
func (s *MessageService) List(ctx context.Context, convID uuid.UUID, page domain.Page) ([]domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.List", trace.WithAttributes(
		attribute.String("conv_id", convID.String()),
		attribute.Int("page", page.Number),
	))
	defer span.End()
	msgs, err := s.msgs.ListByConversation(ctx, convID, page)
	if err != nil {
		fail(span, err, "list failed")
		return nil, s.internal(ctx, "list", err, "conv_id", convID.String())
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	ptrs := make([]*domain.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	s.attachUsers(ctx, ptrs...)
	span.SetAttributes(attribute.Int("message_count", len(msgs)))
	return msgs, nil
}

// MarkDelivered advances sent -> delivered. Any other status is left alone.
func (s *MessageService) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	changed, err := s.msgs.MarkDelivered(ctx, id)
	if err != nil {
		return false, s.internal(ctx, "mark delivered", err, "message_id", id.String())
	}
	return changed, nil
}

// MarkRead marks one message read by its receiver. It reports whether the
// status changed; a message that is already read is returned unchanged.
func (s *MessageService) MarkRead(ctx context.Context, id uuid.UUID, readerID string) (*domain.Message, bool, error) {
	ctx, span := tracer.Start(ctx, "MessageService.MarkRead", trace.WithAttributes(
		attribute.String("message_id", id.String()),
		attribute.String("reader_id", readerID),
	))
	defer span.End()
	msg, err := s.msgs.GetMessageByID(ctx, id)
	if err != nil {
		fail(span, err, "load message failed")
		return nil, false, s.internal(ctx, "mark read", err, "message_id", id.String())
	}
	if msg.ReceiverID != readerID {
		return nil, false, domain.ErrNotReceiver
	}
	if msg.Status == domain.StatusRead {
		return msg, false, nil
	}
	at := s.now()
	var changed bool
	if err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if changed, err = s.msgs.MarkRead(txCtx, id, at); err != nil {
			return err
		}
		return s.advanceCursor(txCtx, msg.ConversationID, readerID, at, msg)
	}); err != nil {
		fail(span, err, "transaction failed")
		return nil, false, s.internal(ctx, "mark read", err, "message_id", id.String())
	}
	if changed {
		msg.Status = domain.StatusRead
		msg.ReadAt = &at
	} else if fresh, err := s.msgs.GetMessageByID(ctx, id); err == nil {
		msg = fresh
	}
	return msg, changed, nil
}

// advanceCursor moves the reader's cursor as far as the "everything at or
// before the cursor is read" rule allows. The newest message addressed to
// the reader is tried first, then each fallback in order.
func (s *MessageService) advanceCursor(
	ctx context.Context,
	convID uuid.UUID,
	readerID string,
	at time.Time,
	fallback ...*domain.Message,
) error {
	latest, err := s.msgs.LatestAddressedTo(ctx, convID, readerID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return nil
		}
		return err
	}
	for _, target := range append([]*domain.Message{latest}, fallback...) {
		pending, err := s.msgs.CountUnreadBefore(ctx, convID, readerID, target.CreatedAt)
		if err != nil {
			return err
		}
		if pending == 0 {
			return s.convs.UpdateReadCursor(ctx, convID, readerID, domain.ReadCursor{
				MessageID: target.ID,
				MessageAt: target.CreatedAt,
				ReadAt:    at,
			})
		}
	}
	return nil
}

// MarkConversationRead marks every unread message addressed to readerID in
// the conversation and moves the reader's cursor to the newest of them.
// Appends to the conversation wait until it commits.
func (s *MessageService) MarkConversationRead(ctx context.Context, convID uuid.UUID, readerID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "MessageService.MarkConversationRead", trace.WithAttributes(
		attribute.String("conv_id", convID.String()),
		attribute.String("reader_id", readerID),
	))
	defer span.End()
	at := s.now()
	var marked int64
	if err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if _, err = s.convs.LockForWrite(txCtx, convID); err != nil {
			return err
		}
		if marked, err = s.msgs.MarkConversationRead(txCtx, convID, readerID, at); err != nil {
			return err
		}
		return s.advanceCursor(txCtx, convID, readerID, at)
	}); err != nil {
		fail(span, err, "transaction failed")
		return 0, s.internal(ctx, "mark conversation read", err, "conv_id", convID.String())
	}
	span.SetAttributes(attribute.Int64("marked_count", marked))
	return marked, nil
}

// UnreadCountFor counts unread messages addressed to userID across all conversations.
func (s *MessageService) UnreadCountFor(ctx context.Context, userID string) (int64, error) {
	n, err := s.msgs.CountUnread(ctx, domain.UnreadFilter{UserID: userID})
	if err != nil {
		return 0, s.internal(ctx, "unread count", err, "user_id", userID)
	}
	return n, nil
}

func (s *MessageService) UnreadCountIn(ctx context.Context, convID uuid.UUID, userID string) (int64, error) {
	n, err := s.msgs.CountUnread(ctx, domain.UnreadFilter{UserID: userID, ConversationID: &convID})
	if err != nil {
		return 0, s.internal(ctx, "unread count", err, "user_id", userID, "conv_id", convID.String())
	}
	return n, nil
}

// SoftDelete hides a message from retrieval and unread counts. Sender only.
func (s *MessageService) SoftDelete(ctx context.Context, id uuid.UUID, requesterID string) (*domain.Message, error) {
	msg, err := s.msgs.GetMessageByID(ctx, id)
	if err != nil {
		return nil, s.internal(ctx, "soft delete", err, "message_id", id.String())
	}
	if msg.SenderID != requesterID {
		return nil, domain.ErrNotSender
	}
	at := s.now()
	if err := s.msgs.SoftDelete(ctx, id, at); err != nil {
		return nil, s.internal(ctx, "soft delete", err, "message_id", id.String())
	}
	msg.IsDeleted = true
	msg.DeletedAt = &at
	s.log.InfoContext(ctx, "messages - soft delete - success", "message_id", id.String(), "requester_id", requesterID)
	return msg, nil
}

// Edit replaces the content. The pre-edit baseline is kept in
// OriginalContent and never overwritten by later edits.
func (s *MessageService) Edit(ctx context.Context, id uuid.UUID, requesterID, content string) (*domain.Message, error) {
	if err := domain.ValidateContent(content); err != nil {
		return nil, err
	}
	msg, err := s.msgs.GetMessageByID(ctx, id)
	if err != nil {
		return nil, s.internal(ctx, "edit", err, "message_id", id.String())
	}
	if msg.SenderID != requesterID {
		return nil, domain.ErrNotSender
	}
	if err := s.msgs.UpdateContent(ctx, id, content, s.now()); err != nil {
		return nil, s.internal(ctx, "edit", err, "message_id", id.String())
	}
	edited, err := s.msgs.GetMessageByID(ctx, id)
	if err != nil {
		return nil, s.internal(ctx, "edit", err, "message_id", id.String())
	}
	s.attachUsers(ctx, edited)
	return edited, nil
}
