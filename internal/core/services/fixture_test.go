package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"campuschat/internal/core/domain"
	"campuschat/internal/plugins/memory"

	"github.com/stretchr/testify/require"
)

type pushed struct {
	users     []string
	broadcast bool
	event     string
	payload   any
}

type recordingDispatcher struct {
	mu     sync.Mutex
	pushes []pushed
}

func (d *recordingDispatcher) record(p pushed) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushes = append(d.pushes, p)
}

func (d *recordingDispatcher) PushToUser(_ context.Context, userID, event string, payload any) {
	d.record(pushed{users: []string{userID}, event: event, payload: payload})
}

func (d *recordingDispatcher) PushToUsers(_ context.Context, userIDs []string, event string, payload any) {
	d.record(pushed{users: append([]string(nil), userIDs...), event: event, payload: payload})
}

func (d *recordingDispatcher) Broadcast(_ context.Context, event string, payload any) {
	d.record(pushed{broadcast: true, event: event, payload: payload})
}

func (d *recordingDispatcher) BroadcastConversationUpdate(_ context.Context, conv *domain.Conversation, last *domain.Message) {
	d.record(pushed{
		users: conv.Participants[:],
		event: domain.EventConversationUpdate,
		payload: domain.ConversationUpdate{
			ConversationID: conv.ID,
			LastMessage:    last,
			LastMessageAt:  conv.LastMessageAt,
		},
	})
}

// events returns the pushes of the given event, in order.
func (d *recordingDispatcher) events(event string) []pushed {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []pushed
	for _, p := range d.pushes {
		if p.event == event {
			out = append(out, p)
		}
	}
	return out
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func (p *fakePresence) set(userID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = online
}

func (p *fakePresence) IsOnline(_ context.Context, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func (p *fakePresence) OnlineUserIDs(context.Context) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id, ok := range p.online {
		if ok {
			out = append(out, id)
		}
	}
	return out
}

type fixture struct {
	store      *memory.Store
	dispatcher *recordingDispatcher
	presence   *fakePresence
	users      *UserService
	convs      *ConversationService
	msgs       *MessageService
	typing     *TypingService
	chat       *ChatService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := discardLogger()
	store := memory.NewStore()
	for _, u := range []domain.User{
		{ID: "alice", Name: "Alice", Handle: "alice"},
		{ID: "bob", Name: "Bob", Handle: "bob"},
		{ID: "carol", Name: "Carol", Handle: "carol"},
	} {
		u := u
		require.NoError(t, store.UpsertUser(context.Background(), &u))
	}
	f := &fixture{
		store:      store,
		dispatcher: &recordingDispatcher{},
		presence:   &fakePresence{online: map[string]bool{}},
	}
	f.users = NewUserService(log, store)
	f.convs = NewConversationService(log, store, store, f.users, 3)
	f.msgs = NewMessageService(log, store, store, store, f.users)
	f.typing = NewTypingService(log, f.dispatcher, nil, 50*time.Millisecond)
	f.chat = NewChatService(log, f.users, f.convs, f.msgs, f.typing, f.presence, f.dispatcher, nil)
	return f
}

// clock makes message timestamps strictly increasing.
func (f *fixture) clock(start time.Time) {
	var mu sync.Mutex
	now := start
	f.msgs.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func (f *fixture) send(t *testing.T, from, to, content string) *domain.Message {
	t.Helper()
	msg, err := f.chat.SendMessage(context.Background(), SendParams{SenderID: from, ReceiverID: to, Content: content})
	require.NoError(t, err)
	return msg
}
