package task

import (
	"context"
	"time"

	"github.com/rpggio/taskhub/internal/domain/activity"
)

// Repository provides persistence for tasks.
type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, opts ListOptions) ([]Task, error)
	Search(ctx context.Context, query string, opts ListOptions) ([]Task, error)
	FindByTitle(ctx context.Context, title string) (*Task, error)
	// Update writes t only if the stored version still equals expectedVersion.
	Update(ctx context.Context, t *Task, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
	// AcquireLock takes the edit lock only if nobody holds it.
	AcquireLock(ctx context.Context, id, userID string, since time.Time) (bool, error)
	ReleaseLock(ctx context.Context, id string) error
	// ReleaseLockIf clears the lock only if it is still held by holder since since.
	ReleaseLockIf(ctx context.Context, id, holder string, since time.Time) (bool, error)
	// ListLocked lists locked tasks, restricted to holder when it is non-empty.
	ListLocked(ctx context.Context, holder string) ([]Task, error)
	CountActiveByAssignee(ctx context.Context, userID string) (int, error)
}

// ActivityRecorder records audit entries.
type ActivityRecorder interface {
	Record(ctx context.Context, entry *activity.Entry) error
}
