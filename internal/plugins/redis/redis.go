// Package redis holds the shared-state backends used when several instances
// serve the same users: the presence mirror and the dispatch bus.
package redis

import (
	"context"
	"fmt"

	"campuschat/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient dials cfg.URL and fails unless a ping succeeds within PingTimeout.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	// Commands honor ctx deadlines.
	opts.ContextTimeoutEnabled = true

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
