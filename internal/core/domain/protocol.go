package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Engine -> session events.
const (
	EventUserOnline         = "userOnline"
	EventUserOffline        = "userOffline"
	EventNewMessage         = "newMessage"
	EventConversationUpdate = "conversationUpdate"
	EventMessageRead        = "messageRead"
	EventConversationRead   = "conversationRead"
	EventUserTyping         = "userTyping"
	EventMessageDeleted     = "messageDeleted"
	EventMessageEdited      = "messageEdited"
	EventError              = "error"
)

// Session -> engine events.
const (
	EventHeartbeat            = "heartbeat"
	EventTyping               = "typing"
	EventStopTyping           = "stopTyping"
	EventSendMessage          = "sendMessage"
	EventMarkRead             = "markRead"
	EventMarkConversationRead = "markConversationRead"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DispatchIntent is what the orchestrator enqueues; a worker turns it into
// frames on live sessions. Payload is pre-encoded so intents can cross processes.
type DispatchIntent struct {
	UserIDs   []string        `json:"userIds,omitempty"`
	Broadcast bool            `json:"broadcast,omitempty"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Frame renders the intent as a wire frame.
func (i DispatchIntent) Frame() ([]byte, error) {
	return json.Marshal(Frame{Event: i.Event, Data: i.Payload})
}

type PresenceEvent struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
	IsOnline bool      `json:"isOnline"`
}

type ConversationUpdate struct {
	ConversationID uuid.UUID  `json:"conversationId"`
	LastMessage    *Message   `json:"lastMessage,omitempty"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
}

type MessageReadReceipt struct {
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
}

type ConversationReadReceipt struct {
	ConversationID uuid.UUID `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	MarkedCount    int64     `json:"markedCount"`
}

type TypingEvent struct {
	UserID         string    `json:"userId"`
	ConversationID uuid.UUID `json:"conversationId"`
	IsTyping       bool      `json:"isTyping"`
}

type MessageDeleted struct {
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
	DeletedAt      time.Time `json:"deletedAt"`
}

// Inbound payloads.

type HeartbeatRequest struct {
	UserID string `json:"userId"`
}

type SendMessageRequest struct {
	ReceiverID  string       `json:"receiverId"`
	Content     string       `json:"content"`
	Type        MessageType  `json:"type"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type TypingRequest struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type MarkReadRequest struct {
	MessageID uuid.UUID `json:"messageId"`
}

type MarkConversationReadRequest struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

// ErrorMessage is a WS-safe error.
type ErrorMessage struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
