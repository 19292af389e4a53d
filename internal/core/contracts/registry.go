package contracts

import (
	"context"

	"campuschat/internal/core/domain"
)

// Client is one live session handle. The Registry only needs to address it
// and to sever it.
type Client interface {
	// ID is the session handle, unique per connection.
	ID() string
	UserID() string
	// DeviceID groups reconnects: a new handle for the same device replaces the old one.
	DeviceID() string
	// Send hands data to the session's writer. It should not block; the
	// dispatcher severs a session whose Send fails.
	Send(ctx context.Context, data []byte) error
	Close()
}

// Presence answers liveness questions for the orchestrator.
type Presence interface {
	IsOnline(ctx context.Context, userID string) bool
	OnlineUserIDs(ctx context.Context) []string
}

// SessionDirectory resolves live sessions for delivery.
type SessionDirectory interface {
	Sessions(userID string) []Client
	AllSessions() []Client
}

// Dispatcher is fire-and-forget: failures are logged, never returned.
type Dispatcher interface {
	PushToUser(ctx context.Context, userID, event string, payload any)
	PushToUsers(ctx context.Context, userIDs []string, event string, payload any)
	Broadcast(ctx context.Context, event string, payload any)
	BroadcastConversationUpdate(ctx context.Context, conv *domain.Conversation, last *domain.Message)
}
