package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transactor runs fn so that every repository call made with the ctx it
// receives commits or rolls back together.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository is the read side of the external user directory.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*User, error)
	// SearchUsers matches name or handle, excluding excludeID.
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]User, error)
	// UpsertUser seeds the directory (fixtures, integration tests).
	UpsertUser(ctx context.Context, u *User) error
}

// ConversationRepository handles conversation lifecycle.
type ConversationRepository interface {
	GetConversationByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	// FindDirect returns ErrConversationNotFound when the pair has no conversation.
	FindDirect(ctx context.Context, pair [2]string) (*Conversation, error)
	// CreateDirect returns ErrConversationAlreadyExists when the unique
	// (kind, participant pair) constraint rejects the insert.
	CreateDirect(ctx context.Context, c *Conversation) error
	// ListForUser returns conversations with the given status, newest activity first.
	ListForUser(ctx context.Context, userID string, status ConversationStatus, page Page) ([]Conversation, error)
	// LockForWrite locks the conversation row until the enclosing transaction
	// ends and returns its last-message time. Appends and bulk reads on the
	// same conversation serialize on it.
	LockForWrite(ctx context.Context, convID uuid.UUID) (*time.Time, error)
	// RecordMessage moves the last-message pointer, bumps the count and reactivates archived rows.
	RecordMessage(ctx context.Context, convID, msgID uuid.UUID, at time.Time) error
	UpdateReadCursor(ctx context.Context, convID uuid.UUID, userID string, cursor ReadCursor) error
	UpdateStatus(ctx context.Context, convID uuid.UUID, status ConversationStatus) error
	SetMuted(ctx context.Context, convID uuid.UUID, userID string, muted bool) error
}

// UnreadFilter scopes an unread count. A nil ConversationID counts across every conversation.
type UnreadFilter struct {
	UserID         string
	ConversationID *uuid.UUID
}

// MessageRepository persists messages and applies status compare-and-set updates.
type MessageRepository interface {
	Insert(ctx context.Context, m *Message) error
	// GetMessageByID excludes soft-deleted rows.
	GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// ListByConversation returns a newest-first page of non-deleted messages.
	ListByConversation(ctx context.Context, convID uuid.UUID, page Page) ([]Message, error)
	LatestInConversation(ctx context.Context, convID uuid.UUID) (*Message, error)
	// LatestAddressedTo is the newest non-deleted message in convID whose receiver is userID.
	LatestAddressedTo(ctx context.Context, convID uuid.UUID, userID string) (*Message, error)
	// MarkDelivered flips sent -> delivered. Reports whether a row changed.
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkRead sets read + readAt for a non-read message. Reports whether a row changed.
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// MarkConversationRead advances every non-read message addressed to readerID.
	MarkConversationRead(ctx context.Context, convID uuid.UUID, readerID string, at time.Time) (int64, error)
	// CountUnreadBefore counts non-read, non-deleted messages to userID created at or before t.
	CountUnreadBefore(ctx context.Context, convID uuid.UUID, userID string, t time.Time) (int64, error)
	// CountUnread counts non-read, non-deleted messages to the user created after the read cursor.
	CountUnread(ctx context.Context, f UnreadFilter) (int64, error)
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	// UpdateContent replaces content; OriginalContent is captured on the first edit only.
	UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error
}
