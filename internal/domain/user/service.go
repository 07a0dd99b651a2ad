package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rpggio/taskhub/internal/repository"
)

// Service handles user operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new user service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, logger: logger}
}

// Ensure records the identity so it can be listed and assigned tasks.
func (s *Service) Ensure(ctx context.Context, id Identity) (*User, error) {
	if strings.TrimSpace(id.ID) == "" || strings.TrimSpace(id.Username) == "" {
		return nil, ErrInvalidInput
	}

	existing, err := s.repo.Get(ctx, id.ID)
	if err == nil && existing.Username == id.Username {
		return existing, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	u := &User{
		ID:        id.ID,
		Username:  id.Username,
		LastSeen:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if existing != nil {
		u.IsOnline = existing.IsOnline
		u.LastSeen = existing.LastSeen
		u.CreatedAt = existing.CreatedAt
	}
	if err := s.repo.Upsert(ctx, u); err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}
	if existing == nil {
		s.logger.Info("registered user", "user_id", u.ID, "username", u.Username)
	}
	return u, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// List returns every known user ordered by username.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}
