package worker

import (
	"context"
	"log/slog"

	"campuschat/internal/core/contracts"
	"campuschat/internal/core/domain"
)

// Deliverer hands one intent to the sessions it targets.
type Deliverer interface {
	Deliver(ctx context.Context, intent domain.DispatchIntent) error
}

// DispatchWorker drains the dispatch queue, decoupling persistence latency
// from delivery latency.
type DispatchWorker struct {
	log       *slog.Logger
	queue     contracts.DispatchQueue
	deliverer Deliverer
}

func NewDispatchWorker(
	log *slog.Logger,
	queue contracts.DispatchQueue,
	deliverer Deliverer,
) contracts.AsyncWorker {
	return &DispatchWorker{
		log:       log,
		queue:     queue,
		deliverer: deliverer,
	}
}

func (w *DispatchWorker) Run(ctx context.Context) error {
	w.log.InfoContext(ctx, "worker - run - subscribed to dispatch queue")
	err := w.queue.Subscribe(ctx, w.ProcessIntent)
	if err != nil {
		w.log.ErrorContext(ctx, "worker - run - subscription ended", "err", err)
		return err
	}
	w.log.Info("worker - run - stopped")
	return nil
}

func (w *DispatchWorker) ProcessIntent(ctx context.Context, intent domain.DispatchIntent) error {
	if err := w.deliverer.Deliver(ctx, intent); err != nil {
		w.log.ErrorContext(ctx, "worker - process intent - deliver failed", "event", intent.Event, "err", err)
		return err
	}
	w.log.DebugContext(ctx, "worker - process intent - delivered", "event", intent.Event, "users", len(intent.UserIDs))
	return nil
}
