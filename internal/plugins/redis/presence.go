package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKey = "presence:users"

// RedisPresenceStore keeps one ZSet of user ids scored by last heartbeat
// (unix millis), shared by every instance.
type RedisPresenceStore struct {
	rdb *redis.Client
	key string
}

func NewRedisPresenceStore(rdb *redis.Client) *RedisPresenceStore {
	return &RedisPresenceStore{
		rdb: rdb,
		key: presenceKey,
	}
}

// Touch adds/updates a user with the heartbeat timestamp.
func (p *RedisPresenceStore) Touch(ctx context.Context, userID string, at time.Time) error {
	return p.rdb.ZAdd(ctx, p.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: userID,
	}).Err()
}

func (p *RedisPresenceStore) Remove(ctx context.Context, userID string) error {
	return p.rdb.ZRem(ctx, p.key, userID).Err()
}

func (p *RedisPresenceStore) IsOnline(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	score, err := p.rdb.ZScore(ctx, p.key, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return int64(score) >= time.Now().Add(-ttl).UnixMilli(), nil
}

// OnlineUsers returns users who have checked in within ttl.
func (p *RedisPresenceStore) OnlineUsers(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := strconv.FormatInt(time.Now().Add(-ttl).UnixMilli(), 10)

	// Remove stale members first (self-cleaning).
	if err := p.rdb.ZRemRangeByScore(ctx, p.key, "-inf", "("+threshold).Err(); err != nil {
		return nil, err
	}
	return p.rdb.ZRangeByScore(ctx, p.key, &redis.ZRangeBy{Min: threshold, Max: "+inf"}).Result()
}
