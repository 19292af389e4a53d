package services

import (
	"context"
	"errors"
	"log/slog"

	"campuschat/internal/core/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultCreateRetries = 3

// ConversationService is the conversation directory: one direct
// conversation per unordered pair of users.
type ConversationService struct {
	log     *slog.Logger
	convs   domain.ConversationRepository
	msgs    domain.MessageRepository
	users   *UserService
	retries int
}

func NewConversationService(
	log *slog.Logger,
	convs domain.ConversationRepository,
	msgs domain.MessageRepository,
	users *UserService,
	retries int,
) *ConversationService {
	if retries <= 0 {
		retries = defaultCreateRetries
	}
	return &ConversationService{
		log:     log,
		convs:   convs,
		msgs:    msgs,
		users:   users,
		retries: retries,
	}
}

// FindOrCreateDirect resolves the single direct conversation between a and b.
// Concurrent callers racing on creation all end up with the winning row.
func (s *ConversationService) FindOrCreateDirect(ctx context.Context, a, b string) (*domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "ConversationService.FindOrCreateDirect", trace.WithAttributes(
		attribute.String("user_a", a),
		attribute.String("user_b", b),
	))
	defer span.End()
	if a == "" || b == "" {
		return nil, domain.ErrInvalidUserID
	}
	if a == b {
		return nil, domain.ErrSelfConversation
	}
	summaries, err := s.users.Summaries(ctx, a, b)
	if err != nil {
		fail(span, err, "load participants failed")
		return nil, err
	}
	pair := domain.SortedPair(a, b)
	for attempt := 1; attempt <= s.retries; attempt++ {
		conv, err := s.convs.FindDirect(ctx, pair)
		if err == nil {
			conv.Users = summaries
			return conv, nil
		}
		if !errors.Is(err, domain.ErrConversationNotFound) {
			fail(span, err, "find conversation failed")
			s.log.ErrorContext(ctx, "conversation - find or create - find failed", "user_a", a, "user_b", b, "err", err)
			return nil, domain.Internal(err)
		}
		conv = domain.NewDirectConversation(a, b)
		err = s.convs.CreateDirect(ctx, conv)
		if err == nil {
			s.log.InfoContext(ctx, "conversation - find or create - created", "conv_id", conv.ID.String(), "user_a", a, "user_b", b)
			conv.Users = summaries
			return conv, nil
		}
		if !errors.Is(err, domain.ErrConversationAlreadyExists) {
			fail(span, err, "create conversation failed")
			s.log.ErrorContext(ctx, "conversation - find or create - create failed", "user_a", a, "user_b", b, "err", err)
			return nil, domain.Internal(err)
		}
		s.log.DebugContext(ctx, "conversation - find or create - lost creation race", "attempt", attempt)
	}
	span.RecordError(domain.ErrConversationCreateRace)
	s.log.WarnContext(ctx, "conversation - find or create - retries exhausted", "user_a", a, "user_b", b, "retries", s.retries)
	return nil, domain.ErrConversationCreateRace
}

func (s *ConversationService) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	if id == uuid.Nil {
		return nil, domain.ErrInvalidConversationID
	}
	conv, err := s.convs.GetConversationByID(ctx, id)
	if err != nil {
		if domain.KindOf(err) != domain.KindInternal {
			return nil, err
		}
		s.log.ErrorContext(ctx, "conversation - get - lookup failed", "conv_id", id.String(), "err", err)
		return nil, domain.Internal(err)
	}
	return conv, nil
}

// RequireParticipant returns the conversation only when userID is in it.
func (s *ConversationService) RequireParticipant(ctx context.Context, id uuid.UUID, userID string) (*domain.Conversation, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, domain.ErrNotParticipant
	}
	return conv, nil
}

// ListForUser returns the user's active conversations, most recent activity
// first, each annotated with the user's unread count and the last message.
func (s *ConversationService) ListForUser(ctx context.Context, userID string, page domain.Page) ([]domain.ConversationSummary, error) {
	ctx, span := tracer.Start(ctx, "ConversationService.ListForUser", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.Int("page", page.Number),
	))
	defer span.End()
	convs, err := s.convs.ListForUser(ctx, userID, domain.ConversationActive, page)
	if err != nil {
		fail(span, err, "list conversations failed")
		s.log.ErrorContext(ctx, "conversation - list - query failed", "user_id", userID, "err", err)
		return nil, domain.Internal(err)
	}
	ids := make([]string, 0, len(convs)+1)
	seen := map[string]bool{}
	for i := range convs {
		for _, p := range convs[i].Participants {
			if !seen[p] {
				seen[p] = true
				ids = append(ids, p)
			}
		}
	}
	users, err := s.users.Lookup(ctx, ids)
	if err != nil {
		fail(span, err, "load participants failed")
		return nil, err
	}
	out := make([]domain.ConversationSummary, 0, len(convs))
	for i := range convs {
		conv := &convs[i]
		conv.Users = make(map[string]*domain.UserSummary, 2)
		for _, p := range conv.Participants {
			conv.Users[p] = users[p]
		}
		summary := domain.ConversationSummary{Conversation: conv}
		if last, err := s.msgs.LatestInConversation(ctx, conv.ID); err == nil {
			summary.LastMessage = last
		} else if !errors.Is(err, domain.ErrMessageNotFound) {
			s.log.WarnContext(ctx, "conversation - list - last message failed", "conv_id", conv.ID.String(), "err", err)
		}
		convID := conv.ID
		n, err := s.msgs.CountUnread(ctx, domain.UnreadFilter{UserID: userID, ConversationID: &convID})
		if err != nil {
			fail(span, err, "count unread failed")
			s.log.ErrorContext(ctx, "conversation - list - count unread failed", "conv_id", conv.ID.String(), "err", err)
			return nil, domain.Internal(err)
		}
		summary.UnreadCount = n
		out = append(out, summary)
	}
	span.SetAttributes(attribute.Int("conversation_count", len(out)))
	return out, nil
}

// Archive hides the conversation from active lists until the next message.
func (s *ConversationService) Archive(ctx context.Context, id uuid.UUID, userID string) error {
	conv, err := s.RequireParticipant(ctx, id, userID)
	if err != nil {
		return err
	}
	if conv.Status == domain.ConversationBlocked {
		return domain.ErrConversationBlocked
	}
	if err := s.convs.UpdateStatus(ctx, id, domain.ConversationArchived); err != nil {
		s.log.ErrorContext(ctx, "conversation - archive - update failed", "conv_id", id.String(), "err", err)
		return domain.Internal(err)
	}
	return nil
}

func (s *ConversationService) SetMuted(ctx context.Context, id uuid.UUID, userID string, muted bool) error {
	if _, err := s.RequireParticipant(ctx, id, userID); err != nil {
		return err
	}
	if err := s.convs.SetMuted(ctx, id, userID, muted); err != nil {
		if domain.KindOf(err) != domain.KindInternal {
			return err
		}
		s.log.ErrorContext(ctx, "conversation - set muted - update failed", "conv_id", id.String(), "err", err)
		return domain.Internal(err)
	}
	return nil
}
