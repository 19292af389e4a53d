package memory

import (
	"context"
	"sort"
	"time"

	"campuschat/internal/core/domain"

	"github.com/google/uuid"
)

func cloneMessage(m *domain.Message) *domain.Message {
	out := *m
	if m.Attachments != nil {
		out.Attachments = append([]domain.Attachment(nil), m.Attachments...)
	}
	if m.OriginalContent != nil {
		s := *m.OriginalContent
		out.OriginalContent = &s
	}
	out.Sender, out.Receiver = nil, nil
	return &out
}

func (s *Store) Insert(_ context.Context, m *domain.Message) error {
	if m.ConversationID == uuid.Nil {
		return domain.ErrInvalidConversationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return domain.ErrConversationNotFound
	}
	stored := cloneMessage(m)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.messages[m.ID] = stored
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)
	return nil
}

func (s *Store) GetMessageByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	if id == uuid.Nil {
		return nil, domain.ErrInvalidMessageID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok || m.IsDeleted {
		return nil, domain.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

// newestFirst returns live messages of convID, newest first. Caller holds mu.
func (s *Store) newestFirst(convID uuid.UUID, keep func(*domain.Message) bool) []*domain.Message {
	var out []*domain.Message
	for _, id := range s.byConv[convID] {
		m := s.messages[id]
		if m.IsDeleted || (keep != nil && !keep(m)) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) ListByConversation(_ context.Context, convID uuid.UUID, page domain.Page) ([]domain.Message, error) {
	if convID == uuid.Nil {
		return nil, domain.ErrInvalidConversationID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, m := range paginate(s.newestFirst(convID, nil), page) {
		out = append(out, *cloneMessage(m))
	}
	return out, nil
}

func (s *Store) LatestInConversation(_ context.Context, convID uuid.UUID) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.newestFirst(convID, nil)
	if len(msgs) == 0 {
		return nil, domain.ErrMessageNotFound
	}
	return cloneMessage(msgs[0]), nil
}

func (s *Store) LatestAddressedTo(_ context.Context, convID uuid.UUID, userID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.newestFirst(convID, func(m *domain.Message) bool { return m.ReceiverID == userID })
	if len(msgs) == 0 {
		return nil, domain.ErrMessageNotFound
	}
	return cloneMessage(msgs[0]), nil
}

func (s *Store) MarkDelivered(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsDeleted || m.Status != domain.StatusSent {
		return false, nil
	}
	m.Status = domain.StatusDelivered
	m.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) MarkRead(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsDeleted || m.Status == domain.StatusRead {
		return false, nil
	}
	markRead(m, at)
	return true, nil
}

func markRead(m *domain.Message, at time.Time) {
	m.Status = domain.StatusRead
	m.ReadAt = &at
	m.UpdatedAt = time.Now().UTC()
}

func (s *Store) MarkConversationRead(_ context.Context, convID uuid.UUID, readerID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range s.byConv[convID] {
		m := s.messages[id]
		if m.ReceiverID != readerID || m.IsDeleted || m.Status == domain.StatusRead {
			continue
		}
		markRead(m, at)
		n++
	}
	return n, nil
}

func (s *Store) CountUnreadBefore(_ context.Context, convID uuid.UUID, userID string, t time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, id := range s.byConv[convID] {
		m := s.messages[id]
		if unread(m, userID) && !m.CreatedAt.After(t) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUnread(_ context.Context, f domain.UnreadFilter) (int64, error) {
	if f.UserID == "" {
		return 0, domain.ErrInvalidUserID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for convID, ids := range s.byConv {
		if f.ConversationID != nil && *f.ConversationID != convID {
			continue
		}
		cursor, hasCursor := s.conversations[convID].ReadCursors[f.UserID]
		for _, id := range ids {
			m := s.messages[id]
			if !unread(m, f.UserID) {
				continue
			}
			if hasCursor && !m.CreatedAt.After(cursor.MessageAt) {
				continue
			}
			n++
		}
	}
	return n, nil
}

func unread(m *domain.Message, userID string) bool {
	return m.ReceiverID == userID && !m.IsDeleted && m.Status != domain.StatusRead
}

func (s *Store) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsDeleted {
		return domain.ErrMessageNotFound
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	m.UpdatedAt = at
	return nil
}

func (s *Store) UpdateContent(_ context.Context, id uuid.UUID, content string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsDeleted {
		return domain.ErrMessageNotFound
	}
	if m.OriginalContent == nil {
		original := m.Content
		m.OriginalContent = &original
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &at
	m.UpdatedAt = at
	return nil
}
