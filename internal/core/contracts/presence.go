package contracts

import (
	"context"
	"time"
)

// PresenceStore is a shared liveness index so instances agree on who is online.
// Local session handles never leave the process; only user ids and heartbeat times do.
type PresenceStore interface {
	// Touch records a heartbeat for userID; entries older than ttl are stale.
	Touch(ctx context.Context, userID string, at time.Time) error
	Remove(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string, ttl time.Duration) (bool, error)
	OnlineUsers(ctx context.Context, ttl time.Duration) ([]string, error)
}
