package domain

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxContentLength bounds message content, counted in runes.
const MaxContentLength = 5000

// User is owned by the user-management subsystem; the chat engine only reads it.
type User struct {
	ID        string
	Name      string
	Handle    string
	Avatar    string
	Role      string
	Status    string
	CreatedAt time.Time
}

// UserSummary is the display projection attached to conversations and messages.
type UserSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Handle string `json:"handle"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:     u.ID,
		Name:   u.Name,
		Handle: u.Handle,
		Avatar: u.Avatar,
		Role:   u.Role,
		Status: u.Status,
	}
}

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group" // reserved
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationBlocked  ConversationStatus = "blocked"
)

// ReadCursor points at the last message a participant acknowledged.
// MessageAt is the creation time of that message; every message addressed
// to the participant created at or before MessageAt is read.
type ReadCursor struct {
	MessageID uuid.UUID `json:"messageId"`
	MessageAt time.Time `json:"messageAt"`
	ReadAt    time.Time `json:"readAt"`
}

// Conversation is a single two-party thread.
type Conversation struct {
	ID            uuid.UUID               `json:"id"`
	Kind          ConversationKind        `json:"kind"`
	Participants  [2]string               `json:"participantIds"`
	LastMessageID *uuid.UUID              `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time              `json:"lastMessageAt,omitempty"`
	Status        ConversationStatus      `json:"status"`
	ReadCursors   map[string]ReadCursor   `json:"readCursors,omitempty"`
	Muted         map[string]bool         `json:"muted,omitempty"`
	MessageCount  int64                   `json:"messageCount"`
	CreatedAt     time.Time               `json:"createdAt"`
	UpdatedAt     time.Time               `json:"updatedAt"`
	Users         map[string]*UserSummary `json:"participants,omitempty"`
}

// NewDirectConversation builds an unsaved direct conversation for the pair.
func NewDirectConversation(a, b string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:           uuid.New(),
		Kind:         KindDirect,
		Participants: SortedPair(a, b),
		Status:       ConversationActive,
		ReadCursors:  map[string]ReadCursor{},
		Muted:        map[string]bool{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SortedPair normalizes an unordered participant pair.
func SortedPair(a, b string) [2]string {
	p := []string{a, b}
	sort.Strings(p)
	return [2]string{p[0], p[1]}
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Others returns every participant except userID.
func (c *Conversation) Others(userID string) []string {
	out := make([]string, 0, 1)
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

// ConversationSummary is a list-view row for one participant.
type ConversationSummary struct {
	*Conversation
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int64    `json:"unreadCount"`
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

// MessageStatus only moves forward: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message content is immutable except through Edit; lifecycle metadata moves forward only.
type Message struct {
	ID              uuid.UUID     `json:"id"`
	ConversationID  uuid.UUID     `json:"conversationId"`
	SenderID        string        `json:"senderId"`
	ReceiverID      string        `json:"receiverId"`
	Content         string        `json:"content"`
	Type            MessageType   `json:"type"`
	Attachments     []Attachment  `json:"attachments,omitempty"`
	Status          MessageStatus `json:"status"`
	ReadAt          *time.Time    `json:"readAt,omitempty"`
	IsDeleted       bool          `json:"isDeleted"`
	DeletedAt       *time.Time    `json:"deletedAt,omitempty"`
	IsEdited        bool          `json:"isEdited"`
	EditedAt        *time.Time    `json:"editedAt,omitempty"`
	OriginalContent *string       `json:"originalContent,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	Sender          *UserSummary  `json:"sender,omitempty"`
	Receiver        *UserSummary  `json:"receiver,omitempty"`
}

// ValidateContent enforces the encoding, non-empty and length bound rules.
func ValidateContent(content string) error {
	if !utf8.ValidString(content) {
		return ErrInvalidEncoding
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

func (p Page) Offset() int { return (p.Number - 1) * p.Size }
