package dispatcher

import (
	"context"
	"errors"
	"log/slog"

	"campuschat/internal/core/domain"
	"campuschat/internal/platform/metrics"
)

const DefaultQueueCapacity = 4096

var ErrQueueFull = errors.New("dispatch queue full")

// MemoryQueue is a bounded in-process queue. Publish never blocks: when the
// buffer is full the intent is dropped and counted.
type MemoryQueue struct {
	log     *slog.Logger
	ch      chan domain.DispatchIntent
	metrics *metrics.Metrics
}

func NewMemoryQueue(log *slog.Logger, capacity int, m *metrics.Metrics) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &MemoryQueue{
		log:     log,
		ch:      make(chan domain.DispatchIntent, capacity),
		metrics: m,
	}
}

func (q *MemoryQueue) Publish(_ context.Context, intent domain.DispatchIntent) error {
	select {
	case q.ch <- intent:
		return nil
	default:
		q.metrics.Dropped()
		return ErrQueueFull
	}
}

// Subscribe hands intents to handler in publish order until ctx is done.
func (q *MemoryQueue) Subscribe(
	ctx context.Context,
	handler func(ctx context.Context, intent domain.DispatchIntent) error,
) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case intent := <-q.ch:
			if err := handler(ctx, intent); err != nil {
				q.log.WarnContext(ctx, "dispatch queue - handle - failed", "event", intent.Event, "err", err)
			}
		}
	}
}

func (q *MemoryQueue) Len() int { return len(q.ch) }
func (q *MemoryQueue) Cap() int { return cap(q.ch) }
