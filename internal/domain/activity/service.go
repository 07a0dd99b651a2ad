package activity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rpggio/taskhub/internal/event"
)

// DefaultFeedLimit is the number of entries pushed to clients as the live feed.
const DefaultFeedLimit = 20

// Service records audit entries and fans them out.
type Service struct {
	repo      Repository
	publisher event.Publisher
	feedLimit int
	logger    *slog.Logger
}

// NewService creates a new activity service.
func NewService(repo Repository, publisher event.Publisher, feedLimit int, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = event.Nop{}
	}
	if feedLimit <= 0 {
		feedLimit = DefaultFeedLimit
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, publisher: publisher, feedLimit: feedLimit, logger: logger}
}

// Record persists entry and then pushes it to every connection. A persistence
// failure is returned wrapped in ErrDegraded and nothing is pushed.
func (s *Service) Record(ctx context.Context, entry *Entry) error {
	if entry == nil || !entry.Action.Valid() || entry.ActorID == "" {
		return ErrInvalidInput
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("%w: logging %s: %v", ErrDegraded, entry.Action, err)
	}

	s.publisher.Publish(ctx, event.Event{Name: event.ActivityLogged, Payload: entry})
	return nil
}

// Recent returns the newest entries first. Limit is clamped to the feed limit.
func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.feedLimit {
		limit = s.feedLimit
	}
	entries, err := s.repo.List(ctx, ListOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return entries, nil
}

// List lists entries with filtering.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	return s.repo.List(ctx, opts)
}
