package services

import (
	"context"
	"log/slog"
	"strings"

	"campuschat/internal/core/domain"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// UserService is the engine's read-only view of the user directory.
type UserService struct {
	log  *slog.Logger
	repo domain.UserRepository
}

func NewUserService(log *slog.Logger, repo domain.UserRepository) *UserService {
	return &UserService{
		log:  log,
		repo: repo,
	}
}

func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrInvalidUserID
	}
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if domain.KindOf(err) != domain.KindInternal {
			return nil, err
		}
		s.log.ErrorContext(ctx, "user - get - lookup failed", "user_id", id, "err", err)
		return nil, domain.Internal(err)
	}
	return u, nil
}

// Summaries loads display data for ids. Every id must exist.
func (s *UserService) Summaries(ctx context.Context, ids ...string) (map[string]*domain.UserSummary, error) {
	users, err := s.repo.GetUsersByIDs(ctx, ids)
	if err != nil {
		s.log.ErrorContext(ctx, "user - summaries - lookup failed", "err", err)
		return nil, domain.Internal(err)
	}
	out := make(map[string]*domain.UserSummary, len(users))
	for _, id := range ids {
		u, ok := users[id]
		if !ok {
			return nil, domain.ErrUserNotFound
		}
		out[id] = u.Summary()
	}
	return out, nil
}

// Lookup loads display data for ids, skipping users that no longer exist.
func (s *UserService) Lookup(ctx context.Context, ids []string) (map[string]*domain.UserSummary, error) {
	users, err := s.repo.GetUsersByIDs(ctx, ids)
	if err != nil {
		s.log.ErrorContext(ctx, "user - lookup - query failed", "err", err)
		return nil, domain.Internal(err)
	}
	out := make(map[string]*domain.UserSummary, len(users))
	for id, u := range users {
		out[id] = u.Summary()
	}
	return out, nil
}

// Search finds users to start a conversation with, never including the caller.
func (s *UserService) Search(ctx context.Context, query, callerID string, limit int) ([]domain.UserSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.Invalid("search query is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	users, err := s.repo.SearchUsers(ctx, query, callerID, limit)
	if err != nil {
		s.log.ErrorContext(ctx, "user - search - query failed", "err", err)
		return nil, domain.Internal(err)
	}
	out := make([]domain.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, *users[i].Summary())
	}
	return out, nil
}
