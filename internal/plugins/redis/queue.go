package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"campuschat/internal/core/domain"
	"campuschat/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// RedisDispatchQueue fans dispatch intents out over Pub/Sub. Every instance
// subscribes and delivers to the sessions it holds locally.
type RedisDispatchQueue struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisDispatchQueue(rdb *redis.Client, channel string, logger *slog.Logger) *RedisDispatchQueue {
	return &RedisDispatchQueue{
		rdb:     rdb,
		channel: channel,
		logger:  logger,
	}
}

func (q *RedisDispatchQueue) Publish(ctx context.Context, intent domain.DispatchIntent) error {
	raw, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return q.rdb.Publish(ctx, q.channel, raw).Err()
}

func (q *RedisDispatchQueue) Subscribe(
	ctx context.Context,
	handler func(ctx context.Context, intent domain.DispatchIntent) error,
) error {
	pubsub := q.rdb.Subscribe(ctx, q.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so no publish is missed after return.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var intent domain.DispatchIntent
			if err := json.Unmarshal([]byte(msg.Payload), &intent); err != nil {
				q.logger.Warn("dispatch queue - decode - failed", logging.Err(err))
				continue
			}
			if err := handler(ctx, intent); err != nil {
				q.logger.Warn("dispatch queue - handle - failed",
					logging.Event(intent.Event),
					logging.Err(err),
				)
			}
		}
	}
}
