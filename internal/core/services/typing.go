package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"campuschat/internal/core/contracts"
	"campuschat/internal/core/domain"
	"campuschat/internal/platform/metrics"

	"github.com/google/uuid"
)

const DefaultTypingWindow = 3 * time.Second

type typingKey struct {
	conv uuid.UUID
	user string
}

type typingSignal struct {
	timer   *time.Timer
	targets []string
	gen     uint64
}

// TypingService tracks ephemeral "user is typing" signals. A signal expires
// after the window unless Start refreshes it.
type TypingService struct {
	log        *slog.Logger
	dispatcher contracts.Dispatcher
	metrics    *metrics.Metrics
	window     time.Duration

	mu      sync.Mutex
	signals map[typingKey]*typingSignal
}

func NewTypingService(
	log *slog.Logger,
	dispatcher contracts.Dispatcher,
	m *metrics.Metrics,
	window time.Duration,
) *TypingService {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &TypingService{
		log:        log,
		dispatcher: dispatcher,
		metrics:    m,
		window:     window,
		signals:    make(map[typingKey]*typingSignal),
	}
}

// Start records or refreshes the signal and tells targets the user is typing.
func (s *TypingService) Start(ctx context.Context, userID string, convID uuid.UUID, targets []string) {
	key := typingKey{conv: convID, user: userID}
	s.mu.Lock()
	sig, ok := s.signals[key]
	if ok {
		sig.timer.Stop()
		sig.gen++
	} else {
		sig = &typingSignal{}
		s.signals[key] = sig
	}
	sig.targets = targets
	gen := sig.gen
	sig.timer = time.AfterFunc(s.window, func() { s.expire(key, gen) })
	active := len(s.signals)
	s.mu.Unlock()

	s.metrics.SetTyping(active)
	s.notify(ctx, key, targets, true)
}

// Stop cancels the user's signal in convID, or every signal the user owns
// when convID is nil.
func (s *TypingService) Stop(ctx context.Context, userID string, convID *uuid.UUID) {
	type stopped struct {
		key     typingKey
		targets []string
	}
	var out []stopped
	s.mu.Lock()
	if convID != nil {
		key := typingKey{conv: *convID, user: userID}
		if sig, ok := s.signals[key]; ok {
			sig.timer.Stop()
			delete(s.signals, key)
			out = append(out, stopped{key: key, targets: sig.targets})
		}
	} else {
		for key, sig := range s.signals {
			if key.user != userID {
				continue
			}
			sig.timer.Stop()
			delete(s.signals, key)
			out = append(out, stopped{key: key, targets: sig.targets})
		}
	}
	active := len(s.signals)
	s.mu.Unlock()

	s.metrics.SetTyping(active)
	for _, st := range out {
		s.notify(ctx, st.key, st.targets, false)
	}
}

// IsTyping reports whether userID has a live signal in convID.
func (s *TypingService) IsTyping(userID string, convID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.signals[typingKey{conv: convID, user: userID}]
	return ok
}

func (s *TypingService) expire(key typingKey, gen uint64) {
	s.mu.Lock()
	sig, ok := s.signals[key]
	if !ok || sig.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.signals, key)
	active := len(s.signals)
	s.mu.Unlock()

	s.metrics.SetTyping(active)
	s.log.Debug("typing - expire - signal expired", "user_id", key.user, "conv_id", key.conv.String())
	s.notify(context.Background(), key, sig.targets, false)
}

func (s *TypingService) notify(ctx context.Context, key typingKey, targets []string, typing bool) {
	if len(targets) == 0 {
		return
	}
	s.dispatcher.PushToUsers(ctx, targets, domain.EventUserTyping, domain.TypingEvent{
		UserID:         key.user,
		ConversationID: key.conv,
		IsTyping:       typing,
	})
}
