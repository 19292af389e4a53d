package contracts

import (
	"context"

	"campuschat/internal/core/domain"
)

type AsyncWorker interface {
	// Run drains the dispatch queue until ctx is done.
	Run(ctx context.Context) error
	// ProcessIntent delivers one intent to the live sessions it targets.
	ProcessIntent(ctx context.Context, intent domain.DispatchIntent) error
}
