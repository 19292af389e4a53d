package services

import (
	"context"
	"log/slog"

	"campuschat/internal/core/contracts"
	"campuschat/internal/core/domain"
	"campuschat/internal/platform/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SendParams is an inbound send request from SenderID.
type SendParams struct {
	SenderID    string
	ReceiverID  string
	Content     string
	Type        domain.MessageType
	Attachments []domain.Attachment
}

// ChatService is the facade used by the transport: it validates requests,
// mutates the directory and ledger, and enqueues realtime notifications.
type ChatService struct {
	log        *slog.Logger
	users      *UserService
	convs      *ConversationService
	msgs       *MessageService
	typing     *TypingService
	presence   contracts.Presence
	dispatcher contracts.Dispatcher
	metrics    *metrics.Metrics
}

func NewChatService(
	log *slog.Logger,
	users *UserService,
	convs *ConversationService,
	msgs *MessageService,
	typing *TypingService,
	presence contracts.Presence,
	dispatcher contracts.Dispatcher,
	m *metrics.Metrics,
) *ChatService {
	return &ChatService{
		log:        log,
		users:      users,
		convs:      convs,
		msgs:       msgs,
		typing:     typing,
		presence:   presence,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

// SendMessage persists a message and pushes it to both parties. Once the
// message is persisted the call succeeds; delivery is best effort.
func (c *ChatService) SendMessage(ctx context.Context, p SendParams) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "ChatService.SendMessage", trace.WithAttributes(
		attribute.String("sender_id", p.SenderID),
		attribute.String("receiver_id", p.ReceiverID),
	))
	defer span.End()
	if p.SenderID == "" || p.ReceiverID == "" {
		return nil, domain.ErrInvalidUserID
	}
	if p.SenderID == p.ReceiverID {
		return nil, domain.ErrSelfConversation
	}
	if err := domain.ValidateContent(p.Content); err != nil {
		return nil, err
	}
	conv, err := c.convs.FindOrCreateDirect(ctx, p.SenderID, p.ReceiverID)
	if err != nil {
		fail(span, err, "resolve conversation failed")
		return nil, err
	}
	msg, err := c.msgs.Append(ctx, AppendParams{
		ConversationID: conv.ID,
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		Content:        p.Content,
		Type:           p.Type,
		Attachments:    p.Attachments,
	})
	if err != nil {
		fail(span, err, "append failed")
		return nil, err
	}
	c.metrics.MessageSent()

	c.dispatcher.PushToUsers(ctx, []string{p.ReceiverID, p.SenderID}, domain.EventNewMessage, msg)
	conv.LastMessageID = &msg.ID
	conv.LastMessageAt = &msg.CreatedAt
	c.dispatcher.BroadcastConversationUpdate(ctx, conv, msg)

	if c.presence.IsOnline(ctx, p.ReceiverID) {
		changed, err := c.msgs.MarkDelivered(ctx, msg.ID)
		switch {
		case err != nil:
			c.log.WarnContext(ctx, "chat - send message - mark delivered failed", "message_id", msg.ID.String(), "err", err)
		case changed:
			msg.Status = domain.StatusDelivered
		}
	}
	span.SetAttributes(attribute.String("status", string(msg.Status)))
	c.log.InfoContext(ctx, "chat - send message - success",
		"message_id", msg.ID.String(),
		"conv_id", conv.ID.String(),
		"status", msg.Status,
	)
	return msg, nil
}

// MarkAsRead marks one message read and sends a receipt to its sender.
func (c *ChatService) MarkAsRead(ctx context.Context, readerID string, messageID uuid.UUID) (*domain.Message, error) {
	msg, err := c.msgs.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := c.convs.RequireParticipant(ctx, msg.ConversationID, readerID); err != nil {
		return nil, err
	}
	msg, changed, err := c.msgs.MarkRead(ctx, messageID, readerID)
	if err != nil {
		return nil, err
	}
	if changed {
		c.dispatcher.PushToUser(ctx, msg.SenderID, domain.EventMessageRead, domain.MessageReadReceipt{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			ReadBy:         readerID,
			ReadAt:         *msg.ReadAt,
		})
	}
	return msg, nil
}

// MarkConversationAsRead marks everything addressed to readerID read and
// sends a bulk receipt to the other participant.
func (c *ChatService) MarkConversationAsRead(ctx context.Context, readerID string, convID uuid.UUID) (*domain.ConversationReadReceipt, error) {
	conv, err := c.convs.RequireParticipant(ctx, convID, readerID)
	if err != nil {
		return nil, err
	}
	marked, err := c.msgs.MarkConversationRead(ctx, convID, readerID)
	if err != nil {
		return nil, err
	}
	receipt := &domain.ConversationReadReceipt{
		ConversationID: convID,
		ReadBy:         readerID,
		MarkedCount:    marked,
	}
	c.dispatcher.PushToUsers(ctx, conv.Others(readerID), domain.EventConversationRead, receipt)
	return receipt, nil
}

// StartConversation finds or creates the direct conversation with participantID.
func (c *ChatService) StartConversation(ctx context.Context, userID, participantID string) (*domain.Conversation, error) {
	return c.convs.FindOrCreateDirect(ctx, userID, participantID)
}

func (c *ChatService) ListConversations(ctx context.Context, userID string, page domain.Page) ([]domain.ConversationSummary, error) {
	return c.convs.ListForUser(ctx, userID, page)
}

func (c *ChatService) ListMessages(ctx context.Context, userID string, convID uuid.UUID, page domain.Page) ([]domain.Message, error) {
	if _, err := c.convs.RequireParticipant(ctx, convID, userID); err != nil {
		return nil, err
	}
	return c.msgs.List(ctx, convID, page)
}

func (c *ChatService) DeleteMessage(ctx context.Context, userID string, messageID uuid.UUID) error {
	msg, err := c.msgs.SoftDelete(ctx, messageID, userID)
	if err != nil {
		return err
	}
	c.dispatcher.PushToUsers(ctx, []string{msg.ReceiverID, msg.SenderID}, domain.EventMessageDeleted, domain.MessageDeleted{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		DeletedAt:      *msg.DeletedAt,
	})
	return nil
}

func (c *ChatService) EditMessage(ctx context.Context, userID string, messageID uuid.UUID, content string) (*domain.Message, error) {
	msg, err := c.msgs.Edit(ctx, messageID, userID, content)
	if err != nil {
		return nil, err
	}
	c.dispatcher.PushToUsers(ctx, []string{msg.ReceiverID, msg.SenderID}, domain.EventMessageEdited, msg)
	return msg, nil
}

func (c *ChatService) StartTyping(ctx context.Context, userID string, convID uuid.UUID) error {
	conv, err := c.convs.RequireParticipant(ctx, convID, userID)
	if err != nil {
		return err
	}
	c.typing.Start(ctx, userID, convID, conv.Others(userID))
	return nil
}

func (c *ChatService) StopTyping(ctx context.Context, userID string, convID uuid.UUID) error {
	if _, err := c.convs.RequireParticipant(ctx, convID, userID); err != nil {
		return err
	}
	c.typing.Stop(ctx, userID, &convID)
	return nil
}

// UnreadCount is the user's total, or the count in convID when it is set.
func (c *ChatService) UnreadCount(ctx context.Context, userID string, convID *uuid.UUID) (int64, error) {
	if convID == nil {
		return c.msgs.UnreadCountFor(ctx, userID)
	}
	if _, err := c.convs.RequireParticipant(ctx, *convID, userID); err != nil {
		return 0, err
	}
	return c.msgs.UnreadCountIn(ctx, *convID, userID)
}

func (c *ChatService) SearchUsers(ctx context.Context, userID, query string, limit int) ([]domain.UserSummary, error) {
	return c.users.Search(ctx, query, userID, limit)
}

func (c *ChatService) ArchiveConversation(ctx context.Context, userID string, convID uuid.UUID) error {
	return c.convs.Archive(ctx, convID, userID)
}

func (c *ChatService) MuteConversation(ctx context.Context, userID string, convID uuid.UUID, muted bool) error {
	return c.convs.SetMuted(ctx, convID, userID, muted)
}

// OnlineUsers lists users with a live session.
func (c *ChatService) OnlineUsers(ctx context.Context) []string {
	return c.presence.OnlineUserIDs(ctx)
}

// HandlePresence is the registry listener: it broadcasts presence changes
// and cancels typing signals of users that went offline.
func (c *ChatService) HandlePresence(ctx context.Context, ev domain.PresenceEvent) {
	event := domain.EventUserOnline
	if !ev.IsOnline {
		event = domain.EventUserOffline
		c.typing.Stop(ctx, ev.UserID, nil)
	}
	c.dispatcher.Broadcast(ctx, event, ev)
}
