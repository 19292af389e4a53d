package handlers

import (
	"net/http"

	"campuschat/internal/core/domain"
	"campuschat/internal/core/services"

	"github.com/google/uuid"
)

type ChatHandler struct {
	chat *services.ChatService
}

func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type startConversationRequest struct {
	ParticipantID string `json:"participantId"`
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	convs, err := h.chat.ListConversations(r.Context(), userID, pageFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if convs == nil {
		convs = []domain.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *ChatHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req startConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	conv, err := h.chat.StartConversation(r.Context(), userID, req.ParticipantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	convID, err := pathUUID(r, "id", domain.ErrInvalidConversationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := h.chat.ListMessages(r.Context(), userID, convID, pageFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *ChatHandler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	convID, err := pathUUID(r, "id", domain.ErrInvalidConversationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	receipt, err := h.chat.MarkConversationAsRead(r.Context(), userID, convID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *ChatHandler) ArchiveConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	convID, err := pathUUID(r, "id", domain.ErrInvalidConversationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.chat.ArchiveConversation(r.Context(), userID, convID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) MuteConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	convID, err := pathUUID(r, "id", domain.ErrInvalidConversationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req muteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.chat.MuteConversation(r.Context(), userID, convID, req.Muted); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req domain.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.chat.SendMessage(r.Context(), services.SendParams{
		SenderID:    userID,
		ReceiverID:  req.ReceiverID,
		Content:     req.Content,
		Type:        req.Type,
		Attachments: req.Attachments,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandler) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgID, err := pathUUID(r, "id", domain.ErrInvalidMessageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.chat.MarkAsRead(r.Context(), userID, msgID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *ChatHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgID, err := pathUUID(r, "id", domain.ErrInvalidMessageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req editMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.chat.EditMessage(r.Context(), userID, msgID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgID, err := pathUUID(r, "id", domain.ErrInvalidMessageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.chat.DeleteMessage(r.Context(), userID, msgID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnreadCount returns the caller's total, or one conversation's count when
// ?conversationId is set.
func (h *ChatHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var convID *uuid.UUID
	if raw := r.URL.Query().Get("conversationId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, domain.ErrInvalidConversationID)
			return
		}
		convID = &id
	}
	n, err := h.chat.UnreadCount(r.Context(), userID, convID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *ChatHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	users, err := h.chat.SearchUsers(r.Context(), userID, r.URL.Query().Get("q"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []domain.UserSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *ChatHandler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	ids := h.chat.OnlineUsers(r.Context())
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"userIds": ids})
}
