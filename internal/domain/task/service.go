package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/user"
	"github.com/rpggio/taskhub/internal/event"
	"github.com/rpggio/taskhub/internal/repository"
)

// Service handles task business logic: creation, conflict-checked updates,
// soft edit locks and smart assignment.
type Service struct {
	tasks      Repository
	activities ActivityRecorder
	publisher  event.Publisher
	keys       *keyedMutex
	now        func() time.Time
	logger     *slog.Logger
}

// NewService creates a new task service.
func NewService(tasks Repository, activities ActivityRecorder, publisher event.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = event.Nop{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		tasks:      tasks,
		activities: activities,
		publisher:  publisher,
		keys:       newKeyedMutex(),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// CreateRequest describes a task creation request.
type CreateRequest struct {
	Title       string
	Description string
	Priority    Priority
	Status      Status
	AssignedTo  *string
}

// UpdateRequest describes a partial task update.
type UpdateRequest struct {
	ID     string
	Fields Fields
	// BaseVersion, when set, is the version the submitter last saw.
	BaseVersion *int64
}

// ResolveRequest carries the version chosen in conflict handling.
type ResolveRequest struct {
	ID         string
	Fields     Fields
	Resolution string
}

// Create validates and stores a new task at version 0.
func (s *Service) Create(ctx context.Context, actor user.Identity, req CreateRequest) (*Task, error) {
	if err := ValidateCreateInput(&req); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueTitle(ctx, req.Title, ""); err != nil {
		return nil, err
	}

	now := s.now()
	t := &Task{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      req.Status,
		AssignedTo:  req.AssignedTo,
		CreatedBy:   actor.ID,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateTitle
		}
		return nil, fmt.Errorf("creating task: %w", err)
	}

	s.record(ctx, actor, activity.ActionCreated, t, "", nil)
	s.publisher.Publish(ctx, event.Event{Name: event.TaskCreated, Payload: t})
	return t, nil
}

// Get returns a task by ID.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return t, nil
}

// List returns tasks newest first. A non-empty Query runs a text search.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Task, error) {
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if q := strings.TrimSpace(opts.Query); q != "" {
		return s.tasks.Search(ctx, q, opts)
	}
	return s.tasks.List(ctx, opts)
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, actor user.Identity, id string) error {
	unlock := s.keys.Lock(id)
	defer unlock()

	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.tasks.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("deleting task: %w", err)
	}

	s.record(ctx, actor, activity.ActionDeleted, t, "", nil)
	s.publisher.Publish(ctx, event.Event{Name: event.TaskDeleted, Payload: event.TaskDeletedPayload{TaskID: id}})
	return nil
}

// AttemptUpdate applies req unless another identity holds the edit lock or the
// submitter's base version is stale. In those cases nothing is written and a
// conflict record is returned and broadcast instead.
func (s *Service) AttemptUpdate(ctx context.Context, actor user.Identity, req UpdateRequest) (*Task, *ConflictRecord, error) {
	if req.ID == "" {
		return nil, nil, ErrInvalidInput
	}
	if err := req.Fields.Validate(); err != nil {
		return nil, nil, err
	}

	unlock := s.keys.Lock(req.ID)
	defer unlock()

	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, nil, err
	}

	if current.Lock.HeldByOther(actor.ID) {
		return nil, s.conflict(ctx, ConflictLocked, current, req.Fields), nil
	}
	if req.BaseVersion != nil && *req.BaseVersion != current.Version {
		return nil, s.conflict(ctx, ConflictStale, current, req.Fields), nil
	}

	updated, changes, err := s.applyFields(ctx, current, req.Fields)
	if err != nil {
		return nil, nil, err
	}
	updated.LastEditedBy = &actor.ID
	updated.Lock = Unlocked()

	if err := s.write(ctx, updated, current.Version); err != nil {
		if errors.Is(err, ErrConflict) {
			// Written by another process between our read and write.
			latest, getErr := s.Get(ctx, req.ID)
			if getErr != nil {
				return nil, nil, getErr
			}
			return nil, s.conflict(ctx, ConflictStale, latest, req.Fields), nil
		}
		return nil, nil, err
	}

	action := activity.ActionUpdated
	if updated.Status != current.Status {
		action = activity.ActionMoved
	}
	s.record(ctx, actor, action, updated, strings.Join(changes, ", "), nil)
	s.publisher.Publish(ctx, event.Event{Name: event.TaskUpdated, Payload: updated})
	return updated, nil, nil
}

// ResolveConflict applies the explicitly chosen version without lock or version
// checks and records which side was kept.
func (s *Service) ResolveConflict(ctx context.Context, actor user.Identity, req ResolveRequest) (*Task, error) {
	if req.ID == "" {
		return nil, ErrInvalidInput
	}
	if req.Resolution != KeepCurrent && req.Resolution != KeepConflicting {
		return nil, ErrInvalidResolution
	}
	if err := req.Fields.Validate(); err != nil {
		return nil, err
	}

	unlock := s.keys.Lock(req.ID)
	defer unlock()

	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	updated, _, err := s.applyFields(ctx, current, req.Fields)
	if err != nil {
		return nil, err
	}
	updated.LastEditedBy = &actor.ID
	updated.Lock = Unlocked()

	if err := s.write(ctx, updated, current.Version); err != nil {
		return nil, err
	}

	s.record(ctx, actor, activity.ActionConflictResolved, updated,
		fmt.Sprintf("Conflict resolved by keeping %s version", req.Resolution),
		map[string]any{"resolution": req.Resolution, "version": updated.Version})
	s.publisher.Publish(ctx, event.Event{Name: event.TaskUpdated, Payload: updated})
	return updated, nil
}

func (s *Service) conflict(ctx context.Context, reason ConflictReason, stored *Task, submitted Fields) *ConflictRecord {
	c := newConflict(reason, stored, submitted)
	s.logger.Info("update conflict", "task_id", stored.ID, "reason", reason, "stored_version", stored.Version)
	s.publisher.Publish(ctx, event.Event{Name: event.ConflictDetected, Payload: c})
	return c
}

// applyFields copies current and applies the fields present in f, returning a
// human-readable list of the changes.
func (s *Service) applyFields(ctx context.Context, current *Task, f Fields) (*Task, []string, error) {
	updated := *current
	var changes []string

	if f.Title != nil {
		title, err := NormalizeTitle(*f.Title)
		if err != nil {
			return nil, nil, err
		}
		if title != current.Title {
			if err := s.ensureUniqueTitle(ctx, title, current.ID); err != nil {
				return nil, nil, err
			}
			changes = append(changes, fmt.Sprintf(`title: "%s" → "%s"`, current.Title, title))
			updated.Title = title
		}
	}
	if f.Description != nil {
		updated.Description = strings.TrimSpace(*f.Description)
	}
	if f.Status != nil && *f.Status != current.Status {
		changes = append(changes, fmt.Sprintf("status: %s → %s", current.Status, *f.Status))
		updated.Status = *f.Status
	}
	if f.Priority != nil && *f.Priority != current.Priority {
		changes = append(changes, fmt.Sprintf("priority: %s → %s", current.Priority, *f.Priority))
		updated.Priority = *f.Priority
	}
	if f.AssignedTo.Set {
		updated.AssignedTo = f.AssignedTo.Value
	}
	return &updated, changes, nil
}

// write bumps the version by one and stores t conditionally on expectedVersion.
func (s *Service) write(ctx context.Context, t *Task, expectedVersion int64) error {
	t.Version = expectedVersion + 1
	t.UpdatedAt = s.now()
	if err := s.tasks.Update(ctx, t, expectedVersion); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return ErrTaskNotFound
		case errors.Is(err, repository.ErrConflict):
			return ErrConflict
		case errors.Is(err, repository.ErrDuplicate):
			return ErrDuplicateTitle
		}
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

func (s *Service) ensureUniqueTitle(ctx context.Context, title, excludeID string) error {
	existing, err := s.tasks.FindByTitle(ctx, title)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("checking title: %w", err)
	}
	if existing.ID != excludeID {
		return ErrDuplicateTitle
	}
	return nil
}

// record logs an audit entry. Failures are degraded, not fatal: the task write
// has already happened.
func (s *Service) record(ctx context.Context, actor user.Identity, action activity.Action, t *Task, details string, metadata map[string]any) {
	if s.activities == nil {
		return
	}
	taskID, title := t.ID, t.Title
	err := s.activities.Record(ctx, &activity.Entry{
		Action:    action,
		ActorID:   actor.ID,
		ActorName: actor.Username,
		TaskID:    &taskID,
		TaskTitle: &title,
		Details:   details,
		Metadata:  metadata,
	})
	if err != nil {
		s.logger.Warn("activity not recorded", "action", action, "task_id", t.ID, "error", err)
	}
}
