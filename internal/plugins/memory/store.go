// Package memory is an in-process implementation of the chat repositories.
// It backs STORE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"sync"

	"campuschat/internal/core/domain"

	"github.com/google/uuid"
)

type txKeyType struct{}

var txKey = txKeyType{}

// Store implements domain.UserRepository, domain.ConversationRepository,
// domain.MessageRepository and domain.Transactor.
//
// Transactions serialize against each other but do not roll back.
type Store struct {
	txMu sync.Mutex

	mu            sync.RWMutex
	users         map[string]domain.User
	conversations map[uuid.UUID]*domain.Conversation
	pairs         map[pairKey]uuid.UUID
	messages      map[uuid.UUID]*domain.Message
	byConv        map[uuid.UUID][]uuid.UUID
}

type pairKey struct {
	kind domain.ConversationKind
	low  string
	high string
}

func NewStore() *Store {
	return &Store{
		users:         make(map[string]domain.User),
		conversations: make(map[uuid.UUID]*domain.Conversation),
		pairs:         make(map[pairKey]uuid.UUID),
		messages:      make(map[uuid.UUID]*domain.Message),
		byConv:        make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey, struct{}{}))
}
