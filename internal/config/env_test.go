package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.NotNil(t, cfg.Presence)
	assert.Equal(t, "local", cfg.Presence.Backend)
	assert.Equal(t, 60*time.Second, cfg.Presence.HeartbeatTimeout)
	assert.Equal(t, 3*time.Second, cfg.Typing.Window)
	assert.Equal(t, 3, cfg.Chat.CreateRetries)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TYPING_WINDOW", "500ms")
	t.Setenv("REGISTRY_SHARDS", "8")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("DB_AUTO_MIGRATE", "false")
	t.Setenv("LOG_FORMAT", "text")

	cfg := Load()
	assert.Equal(t, 500*time.Millisecond, cfg.Typing.Window)
	assert.Equal(t, 8, cfg.Presence.Shards)
	assert.InDelta(t, 2.5, cfg.RateLimit.RPS, 0.001)
	assert.False(t, cfg.Postgres.AutoMigrate)
	assert.Equal(t, "TEXT", cfg.Logger.Format)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("PRESENCE_SWEEP_INTERVAL", "soon")
	t.Setenv("DISPATCH_QUEUE_CAPACITY", "many")

	cfg := Load()
	assert.Equal(t, 30*time.Second, cfg.Presence.SweepInterval)
	assert.Equal(t, 4096, cfg.Dispatch.QueueCapacity)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}
