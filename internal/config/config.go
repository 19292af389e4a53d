package config

import (
	"log/slog"
	"time"
)

type Config struct {
	Service     *ServiceConfig
	Store       *StoreConfig
	Redis       *RedisConfig
	Postgres    *PostgresConfig
	Logger      *LoggerConfig
	Tracer      *TracerConfig
	Presence    *PresenceConfig
	Typing      *TypingConfig
	Dispatch    *DispatchConfig
	Chat        *ChatConfig
	RateLimit   *RateLimitConfig
	SecretToken string
}

type ServiceConfig struct {
	Name string
	Env  string
	Add  string
}

type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string
}

type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	AutoMigrate     bool
}

type LoggerConfig struct {
	Level  slog.Level
	Format string
	// File, when set, receives a JSON copy of every record.
	File string
}

type TracerConfig struct {
	Address string
}

type PresenceConfig struct {
	// Backend is "local" or "redis".
	Backend          string
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	Shards           int
}

type TypingConfig struct {
	Window time.Duration
}

type DispatchConfig struct {
	// Backend is "local" or "redis".
	Backend       string
	QueueCapacity int
	Channel       string
	SendTimeout   time.Duration
}

type ChatConfig struct {
	CreateRetries int
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}
