package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"campuschat/internal/core/domain"
	"campuschat/internal/plugins/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendValidation(t *testing.T) {
	f := newFixture(t)
	conv, err := f.convs.FindOrCreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)

	tests := []struct {
		name   string
		params AppendParams
		want   error
	}{
		{
			name:   "empty content",
			params: AppendParams{ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob", Content: "   "},
			want:   domain.ErrEmptyContent,
		},
		{
			name: "too long",
			params: AppendParams{
				ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob",
				Content: strings.Repeat("x", domain.MaxContentLength+1),
			},
			want: domain.ErrContentTooLong,
		},
		{
			name:   "invalid utf-8",
			params: AppendParams{ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob", Content: "hi \xff\xfe"},
			want:   domain.ErrInvalidEncoding,
		},
		{
			name: "bad type",
			params: AppendParams{
				ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob", Content: "hi", Type: "video",
			},
			want: domain.ErrInvalidMessageType,
		},
		{
			name:   "outsider",
			params: AppendParams{ConversationID: conv.ID, SenderID: "carol", ReceiverID: "bob", Content: "hi"},
			want:   domain.ErrNotParticipant,
		},
		{
			name:   "unknown conversation",
			params: AppendParams{ConversationID: uuid.New(), SenderID: "alice", ReceiverID: "bob", Content: "hi"},
			want:   domain.ErrConversationNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.msgs.Append(context.Background(), tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAppendPersistsAndUpdatesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.convs.FindOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	msg, err := f.msgs.Append(ctx, AppendParams{
		ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob", Content: "hello",
		Attachments: []domain.Attachment{{URL: "https://cdn/x.png", MimeType: "image/png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.Equal(t, domain.MessageText, msg.Type)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "Alice", msg.Sender.Name)
	require.NotNil(t, msg.Receiver)
	assert.Equal(t, "Bob", msg.Receiver.Name)

	got, err := f.convs.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MessageCount)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, msg.ID, *got.LastMessageID)
}

func TestStatusNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.send(t, "alice", "bob", "hi")

	_, changed, err := f.msgs.MarkRead(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.msgs.MarkDelivered(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	got, changed, err := f.msgs.MarkRead(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.StatusRead, got.Status)
	assert.NotNil(t, got.ReadAt)
}

func TestConcurrentDeliveredAndReadEndRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		msg := f.send(t, "alice", "bob", "hi")
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.msgs.MarkDelivered(ctx, msg.ID)
		}()
		go func() {
			defer wg.Done()
			_, _, _ = f.msgs.MarkRead(ctx, msg.ID, "bob")
		}()
		wg.Wait()
		got, err := f.msgs.Get(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRead, got.Status)
		assert.NotNil(t, got.ReadAt)
	}
}

func TestMarkReadRequiresReceiver(t *testing.T) {
	f := newFixture(t)
	msg := f.send(t, "alice", "bob", "hi")

	_, _, err := f.msgs.MarkRead(context.Background(), msg.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNotReceiver)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestUnreadCountAcrossInterleavedReads(t *testing.T) {
	type step struct {
		op   string // "send", "read", "readAll"
		idx  int
		want int64
	}
	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "read oldest first",
			steps: []step{
				{op: "send", want: 1}, {op: "send", want: 2}, {op: "send", want: 3},
				{op: "read", idx: 0, want: 2}, {op: "read", idx: 1, want: 1}, {op: "read", idx: 2, want: 0},
			},
		},
		{
			name: "read newest first",
			steps: []step{
				{op: "send", want: 1}, {op: "send", want: 2}, {op: "send", want: 3},
				{op: "read", idx: 2, want: 2}, {op: "read", idx: 0, want: 1}, {op: "send", want: 2},
				{op: "read", idx: 1, want: 1}, {op: "read", idx: 3, want: 0},
			},
		},
		{
			name: "bulk then individual",
			steps: []step{
				{op: "send", want: 1}, {op: "send", want: 2}, {op: "readAll", want: 0},
				{op: "send", want: 1}, {op: "read", idx: 0, want: 1}, {op: "read", idx: 2, want: 0},
			},
		},
		{
			name: "individual then bulk",
			steps: []step{
				{op: "send", want: 1}, {op: "send", want: 2}, {op: "send", want: 3},
				{op: "read", idx: 1, want: 2}, {op: "readAll", want: 0}, {op: "send", want: 1},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.clock(time.Now())
			ctx := context.Background()
			var sent []*domain.Message
			for i, st := range tt.steps {
				switch st.op {
				case "send":
					sent = append(sent, f.send(t, "alice", "bob", "hi"))
				case "read":
					_, _, err := f.msgs.MarkRead(ctx, sent[st.idx].ID, "bob")
					require.NoError(t, err)
				case "readAll":
					_, err := f.msgs.MarkConversationRead(ctx, sent[0].ConversationID, "bob")
					require.NoError(t, err)
				}
				total, err := f.msgs.UnreadCountFor(ctx, "bob")
				require.NoError(t, err)
				assert.Equal(t, st.want, total, "step %d (%s)", i, st.op)
				in, err := f.msgs.UnreadCountIn(ctx, sent[0].ConversationID, "bob")
				require.NoError(t, err)
				assert.Equal(t, total, in)
			}
		})
	}
}

func TestMarkReadAdvancesCursorOnlyPastReadMessages(t *testing.T) {
	f := newFixture(t)
	f.clock(time.Now())
	ctx := context.Background()
	first := f.send(t, "alice", "bob", "one")
	second := f.send(t, "alice", "bob", "two")

	_, _, err := f.msgs.MarkRead(ctx, second.ID, "bob")
	require.NoError(t, err)
	conv, err := f.convs.Get(ctx, first.ConversationID)
	require.NoError(t, err)
	_, hasCursor := conv.ReadCursors["bob"]
	assert.False(t, hasCursor, "older unread message blocks the cursor")

	_, _, err = f.msgs.MarkRead(ctx, first.ID, "bob")
	require.NoError(t, err)
	conv, err = f.convs.Get(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, conv.ReadCursors["bob"].MessageID)
}

func TestMarkConversationReadCountsAndCursor(t *testing.T) {
	f := newFixture(t)
	f.clock(time.Now())
	ctx := context.Background()
	f.send(t, "alice", "bob", "one")
	f.send(t, "bob", "alice", "reply")
	last := f.send(t, "alice", "bob", "two")

	n, err := f.msgs.MarkConversationRead(ctx, last.ConversationID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	conv, err := f.convs.Get(ctx, last.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, last.ID, conv.ReadCursors["bob"].MessageID)

	aliceUnread, err := f.msgs.UnreadCountFor(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), aliceUnread)

	n, err = f.msgs.MarkConversationRead(ctx, last.ConversationID, "bob")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEditRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.send(t, "alice", "bob", "draft")

	edited, err := f.msgs.Edit(ctx, msg.ID, "alice", "new")
	require.NoError(t, err)
	assert.Equal(t, "new", edited.Content)
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)
	require.NotNil(t, edited.OriginalContent)
	assert.Equal(t, "draft", *edited.OriginalContent)

	edited, err = f.msgs.Edit(ctx, msg.ID, "alice", "newer")
	require.NoError(t, err)
	assert.Equal(t, "newer", edited.Content)
	assert.Equal(t, "draft", *edited.OriginalContent)

	_, err = f.msgs.Edit(ctx, msg.ID, "bob", "hijack")
	assert.ErrorIs(t, err, domain.ErrNotSender)
	_, err = f.msgs.Edit(ctx, msg.ID, "alice", "")
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
}

func TestSoftDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.send(t, "alice", "bob", "oops")

	_, err := f.msgs.SoftDelete(ctx, msg.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrNotSender)

	deleted, err := f.msgs.SoftDelete(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)

	_, err = f.msgs.Get(ctx, msg.ID)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	list, err := f.msgs.List(ctx, msg.ConversationID, domain.NewPage(1, 10))
	require.NoError(t, err)
	assert.Empty(t, list)
	n, err := f.msgs.UnreadCountFor(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListReturnsChronologicalPage(t *testing.T) {
	f := newFixture(t)
	f.clock(time.Now())
	var sent []*domain.Message
	for _, c := range []string{"1", "2", "3", "4", "5"} {
		sent = append(sent, f.send(t, "alice", "bob", c))
	}

	page, err := f.msgs.List(context.Background(), sent[0].ConversationID, domain.NewPage(1, 3))
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"3", "4", "5"}, []string{page[0].Content, page[1].Content, page[2].Content})

	page, err = f.msgs.List(context.Background(), sent[0].ConversationID, domain.NewPage(2, 3))
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "1", page[0].Content)
}

func TestSendStampedBeforeBulkReadStaysUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	var mu sync.Mutex
	now := base.Add(2 * time.Millisecond)
	f.msgs.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	newer := f.send(t, "alice", "bob", "newer")
	_, err := f.msgs.MarkConversationRead(ctx, newer.ConversationID, "bob")
	require.NoError(t, err)

	// The sender's clock reads earlier than the message the cursor now points at.
	mu.Lock()
	now = base.Add(time.Millisecond)
	mu.Unlock()
	late := f.send(t, "alice", "bob", "late")
	assert.True(t, late.CreatedAt.After(newer.CreatedAt), "creation time is clamped past the last message")

	stored, err := f.msgs.Get(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)

	total, err := f.msgs.UnreadCountFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	in, err := f.msgs.UnreadCountIn(ctx, late.ConversationID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), in)
}

func TestUnreadCountMatchesStatusUnderConcurrentSendsAndReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.convs.FindOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.chat.SendMessage(ctx, SendParams{SenderID: "alice", ReceiverID: "bob", Content: "hi"})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.msgs.MarkConversationRead(ctx, conv.ID, "bob")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	page, err := f.msgs.List(ctx, conv.ID, domain.NewPage(1, domain.MaxPageSize))
	require.NoError(t, err)
	var unread int64
	for _, m := range page {
		if m.ReceiverID == "bob" && m.Status != domain.StatusRead {
			unread++
		}
	}
	total, err := f.msgs.UnreadCountFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, unread, total)
}

// brokenDirectory fails every batch lookup.
type brokenDirectory struct {
	*memory.Store
}

func (brokenDirectory) GetUsersByIDs(context.Context, []string) (map[string]*domain.User, error) {
	return nil, errors.New("directory unavailable")
}

func TestAppendLogsFailedUserLookup(t *testing.T) {
	f := newFixture(t)
	conv, err := f.convs.FindOrCreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	msgs := NewMessageService(log, f.store, f.store, f.store, NewUserService(log, brokenDirectory{f.store}))

	msg, err := msgs.Append(context.Background(), AppendParams{
		ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob", Content: "hi",
	})
	require.NoError(t, err)
	assert.Nil(t, msg.Sender)
	assert.Contains(t, buf.String(), "messages - attach users - failed")
}
