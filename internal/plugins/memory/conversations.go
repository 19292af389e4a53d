package memory

import (
	"context"
	"sort"
	"time"

	"campuschat/internal/core/domain"

	"github.com/google/uuid"
)

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	out := *c
	out.ReadCursors = make(map[string]domain.ReadCursor, len(c.ReadCursors))
	for k, v := range c.ReadCursors {
		out.ReadCursors[k] = v
	}
	out.Muted = make(map[string]bool, len(c.Muted))
	for k, v := range c.Muted {
		out.Muted[k] = v
	}
	if c.LastMessageID != nil {
		id := *c.LastMessageID
		out.LastMessageID = &id
	}
	if c.LastMessageAt != nil {
		at := *c.LastMessageAt
		out.LastMessageAt = &at
	}
	out.Users = nil
	return &out
}

func (s *Store) GetConversationByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	if id == uuid.Nil {
		return nil, domain.ErrInvalidConversationID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return cloneConversation(c), nil
}

func (s *Store) FindDirect(_ context.Context, pair [2]string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairs[pairKey{kind: domain.KindDirect, low: pair[0], high: pair[1]}]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return cloneConversation(s.conversations[id]), nil
}

func (s *Store) CreateDirect(_ context.Context, c *domain.Conversation) error {
	if c.ID == uuid.Nil {
		return domain.ErrInvalidConversationID
	}
	key := pairKey{kind: c.Kind, low: c.Participants[0], high: c.Participants[1]}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pairs[key]; ok {
		return domain.ErrConversationAlreadyExists
	}
	s.pairs[key] = c.ID
	s.conversations[c.ID] = cloneConversation(c)
	return nil
}

func (s *Store) ListForUser(
	_ context.Context,
	userID string,
	status domain.ConversationStatus,
	page domain.Page,
) ([]domain.Conversation, error) {
	s.mu.RLock()
	var all []domain.Conversation
	for _, c := range s.conversations {
		if c.Status == status && c.HasParticipant(userID) {
			all = append(all, *cloneConversation(c))
		}
	}
	s.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].LastMessageAt, all[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return all[i].CreatedAt.After(all[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return paginate(all, page), nil
}

// LockForWrite relies on WithTx for mutual exclusion; it only reads.
func (s *Store) LockForWrite(_ context.Context, convID uuid.UUID) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[convID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	if c.LastMessageAt == nil {
		return nil, nil
	}
	at := *c.LastMessageAt
	return &at, nil
}

func (s *Store) RecordMessage(_ context.Context, convID, msgID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[convID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	c.LastMessageID = &msgID
	c.LastMessageAt = &at
	c.MessageCount++
	if c.Status == domain.ConversationArchived {
		c.Status = domain.ConversationActive
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateReadCursor(_ context.Context, convID uuid.UUID, userID string, cursor domain.ReadCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[convID]
	if !ok || !c.HasParticipant(userID) {
		return nil
	}
	if cur, ok := c.ReadCursors[userID]; ok && cur.MessageAt.After(cursor.MessageAt) {
		return nil
	}
	c.ReadCursors[userID] = cursor
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, convID uuid.UUID, status domain.ConversationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[convID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetMuted(_ context.Context, convID uuid.UUID, userID string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[convID]
	if !ok || !c.HasParticipant(userID) {
		return domain.ErrNotParticipant
	}
	if muted {
		c.Muted[userID] = true
	} else {
		delete(c.Muted, userID)
	}
	return nil
}

func paginate[T any](items []T, page domain.Page) []T {
	start := page.Offset()
	if start >= len(items) {
		return nil
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
