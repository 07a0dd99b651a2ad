package presence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rpggio/taskhub/internal/domain/user"
	"github.com/rpggio/taskhub/internal/event"
)

// Handle identifies one live connection.
type Handle string

// UserStore records presence and lists users.
type UserStore interface {
	SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error
	List(ctx context.Context) ([]user.User, error)
}

// LockReleaser clears edit locks left behind by a departing identity.
type LockReleaser interface {
	ReleaseLocksHeldBy(ctx context.Context, userID string) ([]string, error)
}

// Registry maps connected identities to their live connection handle.
type Registry struct {
	mu        sync.RWMutex
	handles   map[string]Handle
	users     UserStore
	locks     LockReleaser
	publisher event.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewRegistry creates an empty presence registry.
func NewRegistry(users UserStore, locks LockReleaser, publisher event.Publisher, logger *slog.Logger) *Registry {
	if publisher == nil {
		publisher = event.Nop{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		handles:   make(map[string]Handle),
		users:     users,
		locks:     locks,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Connect records handle as the live connection of id, marks it online and
// broadcasts the refreshed user list, which is also returned. If the store
// rejects the online mark the handle is forgotten again.
func (r *Registry) Connect(ctx context.Context, id user.Identity, handle Handle) ([]user.User, error) {
	r.mu.Lock()
	previous, hadPrevious := r.handles[id.ID]
	r.handles[id.ID] = handle
	r.mu.Unlock()

	if err := r.users.SetPresence(ctx, id.ID, true, r.now()); err != nil {
		r.mu.Lock()
		if r.handles[id.ID] == handle {
			if hadPrevious {
				r.handles[id.ID] = previous
			} else {
				delete(r.handles, id.ID)
			}
		}
		r.mu.Unlock()
		return nil, fmt.Errorf("marking online: %w", err)
	}
	return r.publishUsers(ctx)
}

// Disconnect removes the handle for id, marks it offline, releases its edit
// locks and broadcasts the refreshed user list. Each step runs even when an
// earlier one fails; the failures are returned joined. A handle that has
// already been replaced by a newer connection is ignored and returns nil.
func (r *Registry) Disconnect(ctx context.Context, id user.Identity, handle Handle) ([]user.User, error) {
	r.mu.Lock()
	current, ok := r.handles[id.ID]
	if !ok || current != handle {
		r.mu.Unlock()
		return nil, nil
	}
	delete(r.handles, id.ID)
	r.mu.Unlock()

	var errs []error
	if err := r.users.SetPresence(ctx, id.ID, false, r.now()); err != nil {
		r.logger.Warn("marking offline on disconnect", "user_id", id.ID, "error", err)
		errs = append(errs, fmt.Errorf("marking offline: %w", err))
	}
	if r.locks != nil {
		released, err := r.locks.ReleaseLocksHeldBy(ctx, id.ID)
		if err != nil {
			r.logger.Warn("releasing locks on disconnect", "user_id", id.ID, "error", err)
			errs = append(errs, fmt.Errorf("releasing locks: %w", err))
		}
		if len(released) > 0 {
			r.logger.Info("released edit locks on disconnect", "user_id", id.ID, "tasks", released)
		}
	}
	users, err := r.publishUsers(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	return users, errors.Join(errs...)
}

// HandleFor returns the live handle of id.
func (r *Registry) HandleFor(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// Online returns the IDs of connected identities.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}

// Users lists every known identity with its presence.
func (r *Registry) Users(ctx context.Context) ([]user.User, error) {
	return r.users.List(ctx)
}

func (r *Registry) publishUsers(ctx context.Context) ([]user.User, error) {
	users, err := r.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	r.publisher.Publish(ctx, event.Event{Name: event.PresenceListUpdated, Payload: users})
	return users, nil
}
