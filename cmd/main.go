package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campuschat/internal/app/dispatcher"
	"campuschat/internal/app/registry"
	"campuschat/internal/app/server"
	"campuschat/internal/app/worker"
	"campuschat/internal/config"
	"campuschat/internal/core/contracts"
	"campuschat/internal/core/domain"
	"campuschat/internal/core/services"
	"campuschat/internal/platform/logger"
	"campuschat/internal/platform/metrics"
	"campuschat/internal/platform/telemetry"
	"campuschat/internal/plugins/memory"
	"campuschat/internal/plugins/postgres"
	redisPlugin "campuschat/internal/plugins/redis"
	"campuschat/pkg/middleware"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// repositories is the storage a driver provides.
type repositories struct {
	tx    domain.Transactor
	users domain.UserRepository
	convs domain.ConversationRepository
	msgs  domain.MessageRepository
}

func main() {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg := config.Load()

	// Logger
	log, closeLog := logger.NewLogger(*cfg)
	defer func() { _ = closeLog() }()
	log.Info("starting application")

	if cfg.SecretToken == "" {
		log.Error("JWT_SECRET is required")
		return
	}

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "err", err)
		}
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Storage
	repos, closeStore, err := openStore(ctx, log, cfg)
	if err != nil {
		log.Error("store initialization failed", "driver", cfg.Store.Driver, "err", err)
		return
	}
	defer closeStore()

	// Redis, only when a backend needs it
	var rdb *redis.Client
	if cfg.Presence.Backend == "redis" || cfg.Dispatch.Backend == "redis" {
		if rdb, err = redisPlugin.NewRedisClient(ctx, *cfg.Redis); err != nil {
			log.Error("redis connection failed", "url", cfg.Redis.URL, "err", err)
			return
		}
		defer rdb.Close()
		log.Info("redis connected")
	}

	var presenceStore contracts.PresenceStore
	if cfg.Presence.Backend == "redis" {
		presenceStore = redisPlugin.NewRedisPresenceStore(rdb)
	}

	var queue contracts.DispatchQueue
	switch cfg.Dispatch.Backend {
	case "redis":
		queue = redisPlugin.NewRedisDispatchQueue(rdb, cfg.Dispatch.Channel, log)
		log.Info("dispatch queue ready", "backend", "redis", "channel", cfg.Dispatch.Channel)
	default:
		mq := dispatcher.NewMemoryQueue(log, cfg.Dispatch.QueueCapacity, m)
		queue = mq
		log.Info("dispatch queue ready", "backend", "local", "capacity", humanize.Comma(int64(mq.Cap())))
	}

	// Core
	hub := registry.NewRegistry(log, registry.Options{
		HeartbeatTimeout: cfg.Presence.HeartbeatTimeout,
		SweepInterval:    cfg.Presence.SweepInterval,
		Shards:           cfg.Presence.Shards,
		Store:            presenceStore,
		Metrics:          m,
	})
	disp := dispatcher.New(log, queue, hub, m, cfg.Dispatch.SendTimeout)

	userSvc := services.NewUserService(log, repos.users)
	convSvc := services.NewConversationService(log, repos.convs, repos.msgs, userSvc, cfg.Chat.CreateRetries)
	msgSvc := services.NewMessageService(log, repos.tx, repos.msgs, repos.convs, userSvc)
	typingSvc := services.NewTypingService(log, disp, m, cfg.Typing.Window)
	chatSvc := services.NewChatService(log, userSvc, convSvc, msgSvc, typingSvc, hub, disp, m)
	tokenSvc := services.NewTokenService(cfg.SecretToken)
	hub.Subscribe(chatSvc.HandlePresence)

	// Background workers
	wrkr := worker.NewDispatchWorker(log, queue, disp)
	go func() {
		if err := wrkr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("dispatch worker stopped", "err", err)
			stop()
		}
	}()
	go hub.RunSweeper(ctx)

	limiter := middleware.NewLimiterPool(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	defer limiter.Shutdown()

	// Server
	srv := server.NewServer(log, cfg.Service.Name, cfg.Service.Add, chatSvc, tokenSvc, hub, limiter,
		cfg.Presence.HeartbeatTimeout, reg)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "err", err)
	}
	for _, c := range hub.AllSessions() {
		c.Close()
	}
}

func openStore(ctx context.Context, log *slog.Logger, cfg *config.Config) (repositories, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		store := memory.NewStore()
		return repositories{tx: store, users: store, convs: store, msgs: store}, func() {}, nil
	case "postgres":
		pdb, err := postgres.New(ctx, *cfg.Postgres)
		if err != nil {
			return repositories{}, nil, err
		}
		log.Info("postgres connected")
		return repositories{
			tx:    postgres.NewTxManager(pdb),
			users: postgres.NewUserRepository(pdb),
			convs: postgres.NewConversationRepo(pdb),
			msgs:  postgres.NewMessageRepo(pdb),
		}, func() { _ = pdb.Close() }, nil
	default:
		return repositories{}, nil, errors.New("unknown store driver " + cfg.Store.Driver)
	}
}
