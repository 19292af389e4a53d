package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campuschat/internal/app/dispatcher"
	"campuschat/internal/app/registry"
	"campuschat/internal/app/worker"
	"campuschat/internal/core/domain"
	"campuschat/internal/core/services"
	"campuschat/internal/plugins/memory"
	"campuschat/pkg/middleware"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	srv    *httptest.Server
	tokens *services.TokenService
	hub    *registry.Registry
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.NewStore()
	for _, u := range []domain.User{
		{ID: "alice", Name: "Alice", Handle: "alice"},
		{ID: "bob", Name: "Bob", Handle: "bob"},
		{ID: "carol", Name: "Carol", Handle: "carol"},
	} {
		u := u
		require.NoError(t, store.UpsertUser(ctx, &u))
	}

	hub := registry.NewRegistry(log, registry.Options{})
	queue := dispatcher.NewMemoryQueue(log, 0, nil)
	disp := dispatcher.New(log, queue, hub, nil, time.Second)
	go func() { _ = worker.NewDispatchWorker(log, queue, disp).Run(ctx) }()

	users := services.NewUserService(log, store)
	convs := services.NewConversationService(log, store, store, users, 3)
	msgs := services.NewMessageService(log, store, store, store, users)
	typing := services.NewTypingService(log, disp, nil, time.Second)
	chat := services.NewChatService(log, users, convs, msgs, typing, hub, disp, nil)
	hub.Subscribe(chat.HandlePresence)

	tokens := services.NewTokenService("test-secret")
	limiter := middleware.NewLimiterPool(1000, 1000)
	t.Cleanup(limiter.Shutdown)

	s := NewServer(log, "campuschat-test", "", chat, tokens, hub, limiter, time.Minute, prometheus.NewRegistry())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testApp{srv: srv, tokens: tokens, hub: hub}
}

func (a *testApp) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := a.tokens.GenerateToken(userID)
	require.NoError(t, err)
	return tok
}

// call performs a request as userID and decodes a JSON response into out when set.
func (a *testApp) call(t *testing.T, userID, method, path string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testApp) dial(t *testing.T, userID, device string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws?device=" + device + "&token=" + a.token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// next reads frames until one with the given event arrives.
func next(t *testing.T, conn *websocket.Conn, event string) domain.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f domain.Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == event {
			return f
		}
	}
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)
	assert.Equal(t, http.StatusOK, app.call(t, "", http.MethodGet, "/healthz", nil, nil))
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)
	assert.Equal(t, http.StatusOK, app.call(t, "", http.MethodGet, "/metrics", nil, nil))
}

func TestAPIRequiresAuth(t *testing.T) {
	app := newTestApp(t)
	assert.Equal(t, http.StatusUnauthorized, app.call(t, "", http.MethodGet, "/api/conversations", nil, nil))

	req, err := http.NewRequest(http.MethodGet, app.srv.URL+"/api/conversations", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConversationFlow(t *testing.T) {
	app := newTestApp(t)

	var conv domain.Conversation
	require.Equal(t, http.StatusOK, app.call(t, "alice", http.MethodPost, "/api/conversations",
		map[string]string{"participantId": "bob"}, &conv))
	var again domain.Conversation
	require.Equal(t, http.StatusOK, app.call(t, "bob", http.MethodPost, "/api/conversations",
		map[string]string{"participantId": "alice"}, &again))
	assert.Equal(t, conv.ID, again.ID)

	var msg domain.Message
	require.Equal(t, http.StatusCreated, app.call(t, "alice", http.MethodPost, "/api/messages",
		domain.SendMessageRequest{ReceiverID: "bob", Content: "hi bob"}, &msg))
	assert.Equal(t, conv.ID, msg.ConversationID)
	assert.Equal(t, domain.StatusSent, msg.Status)

	var unread map[string]int64
	require.Equal(t, http.StatusOK, app.call(t, "bob", http.MethodGet, "/api/messages/unread", nil, &unread))
	assert.Equal(t, int64(1), unread["count"])

	var page struct {
		Messages []domain.Message `json:"messages"`
	}
	require.Equal(t, http.StatusOK, app.call(t, "bob", http.MethodGet,
		"/api/conversations/"+conv.ID.String()+"/messages?page=1&limit=10", nil, &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "hi bob", page.Messages[0].Content)

	var receipt domain.ConversationReadReceipt
	require.Equal(t, http.StatusOK, app.call(t, "bob", http.MethodPost,
		"/api/conversations/"+conv.ID.String()+"/read", nil, &receipt))
	assert.Equal(t, int64(1), receipt.MarkedCount)

	require.Equal(t, http.StatusOK, app.call(t, "bob", http.MethodGet,
		"/api/messages/unread?conversationId="+conv.ID.String(), nil, &unread))
	assert.Equal(t, int64(0), unread["count"])

	var list struct {
		Conversations []domain.ConversationSummary `json:"conversations"`
	}
	require.Equal(t, http.StatusOK, app.call(t, "alice", http.MethodGet, "/api/conversations", nil, &list))
	require.Len(t, list.Conversations, 1)
	require.NotNil(t, list.Conversations[0].LastMessage)
	assert.Equal(t, msg.ID, list.Conversations[0].LastMessage.ID)
}

func TestMessageEditAndDelete(t *testing.T) {
	app := newTestApp(t)

	var msg domain.Message
	require.Equal(t, http.StatusCreated, app.call(t, "alice", http.MethodPost, "/api/messages",
		domain.SendMessageRequest{ReceiverID: "bob", Content: "draft"}, &msg))

	var edited domain.Message
	require.Equal(t, http.StatusOK, app.call(t, "alice", http.MethodPatch, "/api/messages/"+msg.ID.String(),
		map[string]string{"content": "final"}, &edited))
	assert.Equal(t, "final", edited.Content)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.OriginalContent)
	assert.Equal(t, "draft", *edited.OriginalContent)

	assert.Equal(t, http.StatusForbidden, app.call(t, "bob", http.MethodDelete, "/api/messages/"+msg.ID.String(), nil, nil))
	assert.Equal(t, http.StatusNoContent, app.call(t, "alice", http.MethodDelete, "/api/messages/"+msg.ID.String(), nil, nil))
	assert.Equal(t, http.StatusNotFound, app.call(t, "bob", http.MethodPost, "/api/messages/"+msg.ID.String()+"/read", nil, nil))
}

func TestErrorStatusMapping(t *testing.T) {
	app := newTestApp(t)
	var conv domain.Conversation
	require.Equal(t, http.StatusOK, app.call(t, "alice", http.MethodPost, "/api/conversations",
		map[string]string{"participantId": "bob"}, &conv))

	tests := []struct {
		name   string
		user   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed conversation id", "alice", http.MethodGet, "/api/conversations/nope/messages", nil, http.StatusBadRequest},
		{"outsider reads thread", "carol", http.MethodGet, "/api/conversations/" + conv.ID.String() + "/messages", nil, http.StatusForbidden},
		{"unknown conversation", "alice", http.MethodPost, "/api/conversations/00000000-0000-0000-0000-000000000001/read", nil, http.StatusNotFound},
		{"message to self", "alice", http.MethodPost, "/api/messages", domain.SendMessageRequest{ReceiverID: "alice", Content: "me"}, http.StatusBadRequest},
		{"empty content", "alice", http.MethodPost, "/api/messages", domain.SendMessageRequest{ReceiverID: "bob", Content: "  "}, http.StatusBadRequest},
		{"unknown receiver", "alice", http.MethodPost, "/api/messages", domain.SendMessageRequest{ReceiverID: "zed", Content: "hi"}, http.StatusNotFound},
		{"invalid body", "alice", http.MethodPost, "/api/conversations", "not an object", http.StatusBadRequest},
		{"empty search", "alice", http.MethodGet, "/api/users/search?q=", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, app.call(t, tt.user, tt.method, tt.path, tt.body, nil))
		})
	}
}

func TestSearchUsers(t *testing.T) {
	app := newTestApp(t)
	var res struct {
		Users []domain.UserSummary `json:"users"`
	}
	require.Equal(t, http.StatusOK, app.call(t, "alice", http.MethodGet, "/api/users/search?q=bo", nil, &res))
	require.Len(t, res.Users, 1)
	assert.Equal(t, "bob", res.Users[0].ID)
}

func TestWebSocketDelivery(t *testing.T) {
	app := newTestApp(t)
	bob := app.dial(t, "bob", "phone")
	alice := app.dial(t, "alice", "web")

	require.Eventually(t, func() bool {
		return app.hub.IsOnline(context.Background(), "alice") && app.hub.IsOnline(context.Background(), "bob")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"event": domain.EventSendMessage,
		"data":  domain.SendMessageRequest{ReceiverID: "bob", Content: "over the wire"},
	}))

	var got domain.Message
	require.NoError(t, json.Unmarshal(next(t, bob, domain.EventNewMessage).Data, &got))
	assert.Equal(t, "over the wire", got.Content)
	assert.Equal(t, "alice", got.SenderID)

	var echo domain.Message
	require.NoError(t, json.Unmarshal(next(t, alice, domain.EventNewMessage).Data, &echo))
	assert.Equal(t, got.ID, echo.ID)

	require.NoError(t, bob.WriteJSON(map[string]any{
		"event": domain.EventMarkRead,
		"data":  domain.MarkReadRequest{MessageID: got.ID},
	}))
	var receipt domain.MessageReadReceipt
	require.NoError(t, json.Unmarshal(next(t, alice, domain.EventMessageRead).Data, &receipt))
	assert.Equal(t, got.ID, receipt.MessageID)
	assert.Equal(t, "bob", receipt.ReadBy)
}

func TestWebSocketErrorFrame(t *testing.T) {
	app := newTestApp(t)
	conn := app.dial(t, "alice", "web")

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "dance"}))
	var msg domain.ErrorMessage
	require.NoError(t, json.Unmarshal(next(t, conn, domain.EventError).Data, &msg))
	assert.Equal(t, domain.KindValidation, msg.Kind)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	require.NoError(t, json.Unmarshal(next(t, conn, domain.EventError).Data, &msg))
	assert.Equal(t, "malformed frame", msg.Message)
}

func TestWebSocketPresence(t *testing.T) {
	app := newTestApp(t)
	watcher := app.dial(t, "alice", "web")
	require.Eventually(t, func() bool {
		return app.hub.IsOnline(context.Background(), "alice")
	}, 2*time.Second, 10*time.Millisecond)

	bob := app.dial(t, "bob", "web")
	var ev domain.PresenceEvent
	require.NoError(t, json.Unmarshal(next(t, watcher, domain.EventUserOnline).Data, &ev))
	for ev.UserID != "bob" {
		require.NoError(t, json.Unmarshal(next(t, watcher, domain.EventUserOnline).Data, &ev))
	}
	assert.True(t, ev.IsOnline)

	var online struct {
		UserIDs []string `json:"userIds"`
	}
	require.Equal(t, http.StatusOK, app.call(t, "alice", http.MethodGet, "/api/presence/online", nil, &online))
	assert.ElementsMatch(t, []string{"alice", "bob"}, online.UserIDs)

	require.NoError(t, bob.Close())
	require.NoError(t, json.Unmarshal(next(t, watcher, domain.EventUserOffline).Data, &ev))
	assert.Equal(t, "bob", ev.UserID)
	assert.False(t, ev.IsOnline)
}
