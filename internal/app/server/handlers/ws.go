package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"campuschat/internal/app/registry"
	"campuschat/internal/app/server/ws"
	"campuschat/internal/core/domain"
	"campuschat/internal/core/services"
	"campuschat/pkg/logging"
	"campuschat/pkg/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ws-handler")

var (
	errMalformedFrame = domain.Invalid("malformed frame")
	errUnknownEvent   = domain.Invalid("unknown event")
	errRateLimited    = domain.Invalid("rate limit exceeded")
)

type WSHandler struct {
	hub         *registry.Registry
	chat        *services.ChatService
	limiter     *middleware.LimiterPool
	readTimeout time.Duration
	upgrader    websocket.Upgrader
}

// NewWSHandler pings each session three times per heartbeatTimeout; every
// pong counts as a heartbeat.
func NewWSHandler(
	hub *registry.Registry,
	chat *services.ChatService,
	limiter *middleware.LimiterPool,
	heartbeatTimeout time.Duration,
) *WSHandler {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = registry.DefaultHeartbeatTimeout
	}
	return &WSHandler{
		hub:         hub,
		chat:        chat,
		limiter:     limiter,
		readTimeout: heartbeatTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		log.ErrorContext(r.Context(), "ws handler - unauthorised missing user_id")
		http.Error(w, "Unauthorized: User ID missing", http.StatusUnauthorized)
		return
	}
	device := r.URL.Query().Get("device")
	if device == "" {
		device = registry.DefaultDevice
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("chat.device", device),
	)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", logging.Err(err))
		return
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	socket := ws.NewWebSocket(ctx, log, conn)
	client := ws.NewClient(ctx, socket, userID, device)
	ctx, sessLog := logging.WithSession(ctx, log, userID, client.ID())

	h.hub.Connect(ctx, client)
	defer h.hub.Disconnect(ctx, client)
	defer client.Close()
	sessLog.InfoContext(ctx, "ws handler - connect - session established", "device", device)

	socket.KeepAlive(h.readTimeout/3, h.readTimeout, func() {
		h.hub.Heartbeat(ctx, userID)
	})
	// Frames are handled in arrival order.
	socket.ReadLoop(func(data []byte) {
		h.handleFrame(ctx, sessLog, client, data)
	})
	sessLog.InfoContext(ctx, "ws handler - disconnect - read loop ended")
}

func (h *WSHandler) handleFrame(ctx context.Context, log *slog.Logger, client *ws.RuntimeClient, data []byte) {
	var f domain.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		h.sendError(ctx, log, client, errMalformedFrame)
		return
	}
	ctx, span := tracer.Start(ctx, "ws."+f.Event, trace.WithAttributes(
		attribute.String("chat.event", f.Event),
		attribute.String("user.id", client.UserID()),
	))
	defer span.End()

	if err := h.dispatchFrame(ctx, client, f); err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			log.ErrorContext(ctx, "ws handler - frame - failed", logging.Event(f.Event), logging.Err(err))
		} else {
			log.DebugContext(ctx, "ws handler - frame - rejected", logging.Event(f.Event), logging.Err(err))
		}
		h.sendError(ctx, log, client, err)
	}
}

func (h *WSHandler) dispatchFrame(ctx context.Context, client *ws.RuntimeClient, f domain.Frame) error {
	userID := client.UserID()
	switch f.Event {
	case domain.EventHeartbeat:
		h.hub.Heartbeat(ctx, userID)
		return nil
	case domain.EventTyping:
		var req domain.TypingRequest
		if err := decodeFrame(f, &req); err != nil {
			return err
		}
		return h.chat.StartTyping(ctx, userID, req.ConversationID)
	case domain.EventStopTyping:
		var req domain.TypingRequest
		if err := decodeFrame(f, &req); err != nil {
			return err
		}
		return h.chat.StopTyping(ctx, userID, req.ConversationID)
	case domain.EventSendMessage:
		if h.limiter != nil && !h.limiter.Allow(userID) {
			return errRateLimited
		}
		var req domain.SendMessageRequest
		if err := decodeFrame(f, &req); err != nil {
			return err
		}
		_, err := h.chat.SendMessage(ctx, services.SendParams{
			SenderID:    userID,
			ReceiverID:  req.ReceiverID,
			Content:     req.Content,
			Type:        req.Type,
			Attachments: req.Attachments,
		})
		return err
	case domain.EventMarkRead:
		var req domain.MarkReadRequest
		if err := decodeFrame(f, &req); err != nil {
			return err
		}
		_, err := h.chat.MarkAsRead(ctx, userID, req.MessageID)
		return err
	case domain.EventMarkConversationRead:
		var req domain.MarkConversationReadRequest
		if err := decodeFrame(f, &req); err != nil {
			return err
		}
		_, err := h.chat.MarkConversationAsRead(ctx, userID, req.ConversationID)
		return err
	default:
		return errUnknownEvent
	}
}

func decodeFrame(f domain.Frame, dst any) error {
	if len(f.Data) == 0 {
		return errMalformedFrame
	}
	if err := json.Unmarshal(f.Data, dst); err != nil {
		return domain.WithCause(errMalformedFrame, err)
	}
	return nil
}

func (h *WSHandler) sendError(ctx context.Context, log *slog.Logger, client *ws.RuntimeClient, err error) {
	payload, _ := json.Marshal(domain.ErrorMessage{Kind: domain.KindOf(err), Message: domain.PublicMessage(err)})
	frame, _ := json.Marshal(domain.Frame{Event: domain.EventError, Data: payload})
	if sendErr := client.Send(ctx, frame); sendErr != nil {
		log.DebugContext(ctx, "ws handler - error frame - send failed", logging.Err(sendErr))
	}
}
