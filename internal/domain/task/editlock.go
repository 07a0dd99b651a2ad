package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpggio/taskhub/internal/domain/user"
	"github.com/rpggio/taskhub/internal/event"
	"github.com/rpggio/taskhub/internal/repository"
)

// StartEdit takes the soft edit lock for actor. It reports false, without
// error or event, when the task is already locked by anyone, actor included.
func (s *Service) StartEdit(ctx context.Context, actor user.Identity, taskID string) (bool, error) {
	unlock := s.keys.Lock(taskID)
	defer unlock()

	current, err := s.Get(ctx, taskID)
	if err != nil {
		return false, err
	}
	if current.Lock.Locked() {
		return false, nil
	}

	acquired, err := s.tasks.AcquireLock(ctx, taskID, actor.ID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrTaskNotFound
		}
		return false, fmt.Errorf("acquiring edit lock: %w", err)
	}
	if !acquired {
		return false, nil
	}

	s.publisher.Publish(ctx, event.Event{
		Name:    event.EditingStarted,
		Payload: event.EditingPayload{TaskID: taskID, EditedBy: actor.Username},
		Except:  actor.ID,
	})
	return true, nil
}

// StopEdit clears the edit lock whoever holds it. Repeated calls are harmless.
func (s *Service) StopEdit(ctx context.Context, actor user.Identity, taskID string) error {
	unlock := s.keys.Lock(taskID)
	defer unlock()

	if err := s.tasks.ReleaseLock(ctx, taskID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("releasing edit lock: %w", err)
	}

	s.publisher.Publish(ctx, event.Event{
		Name:    event.EditingStopped,
		Payload: event.EditingPayload{TaskID: taskID},
		Except:  actor.ID,
	})
	return nil
}

// ReleaseLocksHeldBy clears every lock held by userID and returns the task IDs
// that were released.
func (s *Service) ReleaseLocksHeldBy(ctx context.Context, userID string) ([]string, error) {
	locked, err := s.tasks.ListLocked(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing locks: %w", err)
	}

	var released []string
	var errs []error
	for _, t := range locked {
		ok, err := s.releaseIfUnchanged(ctx, t.ID, t.Lock, func(*Task) bool { return true })
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			released = append(released, t.ID)
		}
	}
	return released, errors.Join(errs...)
}

// SweepStale clears locks taken more than threshold before now and returns how
// many were cleared. Each candidate is re-checked under the task's key so a
// lock released and re-acquired meanwhile is left alone.
func (s *Service) SweepStale(ctx context.Context, now time.Time, threshold time.Duration) (int, error) {
	locked, err := s.tasks.ListLocked(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("listing locks: %w", err)
	}

	cleared := 0
	var errs []error
	for _, t := range locked {
		if !t.Lock.StaleAt(now, threshold) {
			continue
		}
		ok, err := s.releaseIfUnchanged(ctx, t.ID, t.Lock, func(fresh *Task) bool {
			return fresh.Lock.StaleAt(now, threshold)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			cleared++
		}
	}
	return cleared, errors.Join(errs...)
}

func (s *Service) releaseIfUnchanged(ctx context.Context, taskID string, seen LockState, still func(*Task) bool) (bool, error) {
	unlock := s.keys.Lock(taskID)
	defer unlock()

	fresh, err := s.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return false, nil
		}
		return false, err
	}
	if !fresh.Lock.Equal(seen) || !still(fresh) {
		return false, nil
	}

	ok, err := s.tasks.ReleaseLockIf(ctx, taskID, seen.Holder(), seen.Since())
	if err != nil {
		return false, fmt.Errorf("releasing lock on %s: %w", taskID, err)
	}
	if ok {
		s.publisher.Publish(ctx, event.Event{
			Name:    event.EditingStopped,
			Payload: event.EditingPayload{TaskID: taskID},
		})
	}
	return ok, nil
}
