package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"campuschat/internal/app/registry"
	"campuschat/internal/app/server/handlers"
	"campuschat/internal/core/services"
	"campuschat/pkg/middleware"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	log         *slog.Logger
	name        string
	addr        string
	mux         *http.ServeMux
	chatHandler *handlers.ChatHandler
	wsHandler   *handlers.WSHandler
	tokens      middleware.TokenValidator
	limiter     *middleware.LimiterPool
	gatherer    prometheus.Gatherer
	http        *http.Server
}

func NewServer(
	log *slog.Logger,
	name, addr string,
	chat *services.ChatService,
	tokens middleware.TokenValidator,
	hub *registry.Registry,
	limiter *middleware.LimiterPool,
	heartbeatTimeout time.Duration,
	gatherer prometheus.Gatherer,
) *Server {
	s := &Server{
		log:         log,
		name:        name,
		addr:        addr,
		mux:         http.NewServeMux(),
		chatHandler: handlers.NewChatHandler(chat),
		wsHandler:   handlers.NewWSHandler(hub, chat, limiter, heartbeatTimeout),
		tokens:      tokens,
		limiter:     limiter,
		gatherer:    gatherer,
	}
	s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	auth := middleware.AuthMiddleware(s.tokens)
	limited := func(h http.HandlerFunc) http.Handler {
		return auth(middleware.RateLimit(s.limiter)(h))
	}
	protected := func(h http.HandlerFunc) http.Handler {
		return auth(h)
	}

	// Public
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Conversations
	s.mux.Handle("GET /api/conversations", protected(s.chatHandler.ListConversations))
	s.mux.Handle("POST /api/conversations", protected(s.chatHandler.StartConversation))
	s.mux.Handle("GET /api/conversations/{id}/messages", protected(s.chatHandler.ListMessages))
	s.mux.Handle("POST /api/conversations/{id}/read", protected(s.chatHandler.MarkConversationRead))
	s.mux.Handle("POST /api/conversations/{id}/archive", protected(s.chatHandler.ArchiveConversation))
	s.mux.Handle("POST /api/conversations/{id}/mute", protected(s.chatHandler.MuteConversation))

	// Messages
	s.mux.Handle("POST /api/messages", limited(s.chatHandler.SendMessage))
	s.mux.Handle("GET /api/messages/unread", protected(s.chatHandler.UnreadCount))
	s.mux.Handle("POST /api/messages/{id}/read", protected(s.chatHandler.MarkMessageRead))
	s.mux.Handle("PATCH /api/messages/{id}", limited(s.chatHandler.EditMessage))
	s.mux.Handle("DELETE /api/messages/{id}", protected(s.chatHandler.DeleteMessage))

	// Directory and presence
	s.mux.Handle("GET /api/users/search", protected(s.chatHandler.SearchUsers))
	s.mux.Handle("GET /api/presence/online", protected(s.chatHandler.OnlineUsers))

	// Realtime
	s.mux.Handle("GET /ws", protected(s.wsHandler.Handler))
}

// Handler is the mux behind tracing and request logging.
func (s *Server) Handler() http.Handler {
	return middleware.TracerMiddleware(s.name)(middleware.RequestLogger(s.log)(s.mux))
}

// Start blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) Start() error {
	s.log.Info("server - start - listening", "addr", s.addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
