package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"campuschat/internal/core/contracts"
	"campuschat/internal/core/domain"
	"campuschat/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id, user string
	fail     bool
	mu       sync.Mutex
	frames   []domain.Frame
}

func (c *fakeClient) ID() string       { return c.id }
func (c *fakeClient) UserID() string   { return c.user }
func (c *fakeClient) DeviceID() string { return "" }
func (c *fakeClient) Close()           {}

func (c *fakeClient) Send(_ context.Context, data []byte) error {
	if c.fail {
		return errors.New("connection gone")
	}
	var f domain.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeClient) received() []domain.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Frame(nil), c.frames...)
}

type directory map[string][]contracts.Client

func (d directory) Sessions(userID string) []contracts.Client { return d[userID] }

func (d directory) AllSessions() []contracts.Client {
	var out []contracts.Client
	for _, cs := range d {
		out = append(out, cs...)
	}
	return out
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// drain delivers everything currently queued.
func drain(t *testing.T, q *MemoryQueue, d *Dispatcher) {
	t.Helper()
	for q.Len() > 0 {
		require.NoError(t, d.Deliver(context.Background(), <-q.ch))
	}
}

func TestPushFansOutToEverySession(t *testing.T) {
	tab1 := &fakeClient{id: "1", user: "alice"}
	tab2 := &fakeClient{id: "2", user: "alice"}
	bob := &fakeClient{id: "3", user: "bob"}
	q := NewMemoryQueue(discard(), 16, nil)
	d := New(discard(), q, directory{"alice": {tab1, tab2}, "bob": {bob}}, nil, time.Second)

	d.PushToUsers(context.Background(), []string{"alice", "alice", "carol"}, domain.EventNewMessage, map[string]string{"content": "hi"})
	drain(t, q, d)

	for _, c := range []*fakeClient{tab1, tab2} {
		frames := c.received()
		require.Len(t, frames, 1, "duplicated user ids deliver once")
		assert.Equal(t, domain.EventNewMessage, frames[0].Event)
		assert.JSONEq(t, `{"content":"hi"}`, string(frames[0].Data))
	}
	assert.Empty(t, bob.received())
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	alice := &fakeClient{id: "1", user: "alice"}
	bob := &fakeClient{id: "2", user: "bob"}
	q := NewMemoryQueue(discard(), 16, nil)
	d := New(discard(), q, directory{"alice": {alice}, "bob": {bob}}, nil, time.Second)

	d.Broadcast(context.Background(), domain.EventUserOnline, domain.PresenceEvent{UserID: "carol", IsOnline: true})
	drain(t, q, d)

	assert.Len(t, alice.received(), 1)
	assert.Len(t, bob.received(), 1)
}

func TestConversationUpdateTargetsParticipants(t *testing.T) {
	alice := &fakeClient{id: "1", user: "alice"}
	bob := &fakeClient{id: "2", user: "bob"}
	carol := &fakeClient{id: "3", user: "carol"}
	q := NewMemoryQueue(discard(), 16, nil)
	d := New(discard(), q, directory{"alice": {alice}, "bob": {bob}, "carol": {carol}}, nil, time.Second)

	conv := domain.NewDirectConversation("alice", "bob")
	msg := &domain.Message{ID: uuid.New(), ConversationID: conv.ID, Content: "hi", CreatedAt: time.Now()}
	d.BroadcastConversationUpdate(context.Background(), conv, msg)
	drain(t, q, d)

	require.Len(t, alice.received(), 1)
	var update domain.ConversationUpdate
	require.NoError(t, json.Unmarshal(alice.received()[0].Data, &update))
	assert.Equal(t, conv.ID, update.ConversationID)
	require.NotNil(t, update.LastMessageAt)
	assert.Len(t, bob.received(), 1)
	assert.Empty(t, carol.received())
}

func TestDeliverCountsFailuresWithoutError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	dead := &fakeClient{id: "1", user: "bob", fail: true}
	live := &fakeClient{id: "2", user: "bob"}
	q := NewMemoryQueue(discard(), 16, m)
	d := New(discard(), q, directory{"bob": {dead, live}}, m, time.Second)

	d.PushToUser(context.Background(), "bob", domain.EventNewMessage, "x")
	drain(t, q, d)

	assert.Len(t, live.received(), 1)
	n, err := testutil.GatherAndCount(reg, "chat_dispatch_failed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// stalledClient never drains; Send blocks until the caller gives up or the
// session is closed.
type stalledClient struct {
	closed chan struct{}
	once   sync.Once
}

func newStalledClient() *stalledClient { return &stalledClient{closed: make(chan struct{})} }

func (c *stalledClient) ID() string       { return "stalled" }
func (c *stalledClient) UserID() string   { return "mallory" }
func (c *stalledClient) DeviceID() string { return "" }
func (c *stalledClient) Close()           { c.once.Do(func() { close(c.closed) }) }

func (c *stalledClient) Send(ctx context.Context, _ []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return errors.New("closed")
	}
}

func TestStalledSessionDoesNotDelayOtherUsers(t *testing.T) {
	const sendTimeout = 200 * time.Millisecond
	stalled := newStalledClient()
	bob := &fakeClient{id: "b", user: "bob"}
	q := NewMemoryQueue(discard(), 16, nil)
	d := New(discard(), q, directory{"mallory": {stalled}, "bob": {bob}}, nil, sendTimeout)

	for i := 0; i < 5; i++ {
		d.PushToUser(context.Background(), "mallory", domain.EventNewMessage, i)
	}
	d.PushToUser(context.Background(), "bob", domain.EventNewMessage, "hi")

	start := time.Now()
	drain(t, q, d)
	elapsed := time.Since(start)

	require.Len(t, bob.received(), 1)
	// Only the first frame to the stalled session waits out the timeout.
	assert.Less(t, elapsed, 2*sendTimeout)
	select {
	case <-stalled.closed:
	default:
		t.Fatal("stalled session was not severed")
	}
}

func TestMemoryQueueDropsWhenFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := NewMemoryQueue(discard(), 1, m)

	require.NoError(t, q.Publish(context.Background(), domain.DispatchIntent{Event: "a"}))
	assert.ErrorIs(t, q.Publish(context.Background(), domain.DispatchIntent{Event: "b"}), ErrQueueFull)

	d := New(discard(), q, directory{}, m, time.Second)
	// Publishing through the dispatcher swallows the error.
	d.Broadcast(context.Background(), "c", nil)
	assert.Equal(t, 1, q.Len())
}

func TestMemoryQueueSubscribeKeepsOrder(t *testing.T) {
	q := NewMemoryQueue(discard(), 16, nil)
	for _, e := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(context.Background(), domain.DispatchIntent{Event: e}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- q.Subscribe(ctx, func(_ context.Context, intent domain.DispatchIntent) error {
			got = append(got, intent.Event)
			if len(got) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
