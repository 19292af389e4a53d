// Package dispatcher turns orchestrator notifications into frames on live
// sessions. Callers enqueue intents and never see delivery errors; a worker
// drains the queue and calls Deliver.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"campuschat/internal/core/contracts"
	"campuschat/internal/core/domain"
	"campuschat/internal/platform/metrics"
)

const DefaultSendTimeout = 5 * time.Second

type Dispatcher struct {
	log         *slog.Logger
	queue       contracts.DispatchQueue
	sessions    contracts.SessionDirectory
	metrics     *metrics.Metrics
	sendTimeout time.Duration
}

func New(
	log *slog.Logger,
	queue contracts.DispatchQueue,
	sessions contracts.SessionDirectory,
	m *metrics.Metrics,
	sendTimeout time.Duration,
) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Dispatcher{
		log:         log,
		queue:       queue,
		sessions:    sessions,
		metrics:     m,
		sendTimeout: sendTimeout,
	}
}

func (d *Dispatcher) PushToUser(ctx context.Context, userID, event string, payload any) {
	d.PushToUsers(ctx, []string{userID}, event, payload)
}

func (d *Dispatcher) PushToUsers(ctx context.Context, userIDs []string, event string, payload any) {
	if len(userIDs) == 0 {
		return
	}
	d.enqueue(ctx, domain.DispatchIntent{UserIDs: userIDs, Event: event}, payload)
}

func (d *Dispatcher) Broadcast(ctx context.Context, event string, payload any) {
	d.enqueue(ctx, domain.DispatchIntent{Broadcast: true, Event: event}, payload)
}

// BroadcastConversationUpdate lets every participant's conversation list
// reorder without refetching.
func (d *Dispatcher) BroadcastConversationUpdate(ctx context.Context, conv *domain.Conversation, last *domain.Message) {
	update := domain.ConversationUpdate{
		ConversationID: conv.ID,
		LastMessage:    last,
		LastMessageAt:  conv.LastMessageAt,
	}
	if update.LastMessageAt == nil && last != nil {
		update.LastMessageAt = &last.CreatedAt
	}
	d.PushToUsers(ctx, conv.Participants[:], domain.EventConversationUpdate, update)
}

func (d *Dispatcher) enqueue(ctx context.Context, intent domain.DispatchIntent, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		d.log.ErrorContext(ctx, "dispatcher - enqueue - encode failed", "event", intent.Event, "err", err)
		return
	}
	intent.Payload = raw
	intent.CreatedAt = time.Now().UTC()
	if err := d.queue.Publish(ctx, intent); err != nil {
		d.log.WarnContext(ctx, "dispatcher - enqueue - publish failed", "event", intent.Event, "err", err)
	}
}

// Deliver sends the intent to every live session it targets on this
// instance. Users without sessions are skipped. A session whose send fails or
// exceeds sendTimeout is closed, so a stalled reader holds up the queue at
// most once.
func (d *Dispatcher) Deliver(ctx context.Context, intent domain.DispatchIntent) error {
	frame, err := intent.Frame()
	if err != nil {
		return err
	}
	var targets []contracts.Client
	if intent.Broadcast {
		targets = d.sessions.AllSessions()
	} else {
		seen := make(map[string]bool, len(intent.UserIDs))
		for _, userID := range intent.UserIDs {
			if seen[userID] {
				continue
			}
			seen[userID] = true
			targets = append(targets, d.sessions.Sessions(userID)...)
		}
	}
	for _, c := range targets {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := c.Send(sendCtx, frame)
		cancel()
		if err != nil {
			c.Close()
			d.metrics.DeliveryFailed(intent.Event)
			d.log.WarnContext(ctx, "dispatcher - deliver - send failed, session severed",
				"event", intent.Event,
				"user_id", c.UserID(),
				"session_id", c.ID(),
				"err", err,
			)
			continue
		}
		d.metrics.Delivered(intent.Event)
	}
	return nil
}
