package contracts

import (
	"context"

	"campuschat/internal/core/domain"
)

// DispatchQueue carries dispatch intents from the orchestrator to delivery workers.
type DispatchQueue interface {
	Publish(ctx context.Context, intent domain.DispatchIntent) error
	// Subscribe blocks, handing every intent to handler until ctx is done.
	Subscribe(ctx context.Context, handler func(ctx context.Context, intent domain.DispatchIntent) error) error
}
