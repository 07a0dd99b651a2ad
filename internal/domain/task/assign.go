package task

import (
	"context"
	"fmt"

	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/user"
	"github.com/rpggio/taskhub/internal/event"
)

// Candidate is an identity with its current load.
type Candidate struct {
	Identity    user.Identity
	ActiveTasks int
}

// SmartAssign assigns the task to the candidate with the fewest todo or
// in-progress tasks. Ties go to the earliest candidate in the given order.
func (s *Service) SmartAssign(ctx context.Context, actor user.Identity, taskID string, candidates []user.Identity) (*Task, error) {
	unlock := s.keys.Lock(taskID)
	defer unlock()

	current, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	chosen, err := s.leastLoaded(ctx, candidates)
	if err != nil {
		return nil, err
	}

	updated := *current
	assignee := chosen.Identity.ID
	updated.AssignedTo = &assignee
	updated.LastEditedBy = &actor.ID
	if err := s.write(ctx, &updated, current.Version); err != nil {
		return nil, err
	}

	s.record(ctx, actor, activity.ActionAssigned, &updated,
		fmt.Sprintf("Smart assigned to %s (%d active tasks)", chosen.Identity.Username, chosen.ActiveTasks),
		map[string]any{"assigneeId": assignee, "activeTasks": chosen.ActiveTasks})
	s.publisher.Publish(ctx, event.Event{Name: event.TaskUpdated, Payload: &updated})
	return &updated, nil
}

func (s *Service) leastLoaded(ctx context.Context, candidates []user.Identity) (Candidate, error) {
	var best Candidate
	for i, c := range candidates {
		n, err := s.tasks.CountActiveByAssignee(ctx, c.ID)
		if err != nil {
			return Candidate{}, fmt.Errorf("counting tasks for %s: %w", c.ID, err)
		}
		if i == 0 || n < best.ActiveTasks {
			best = Candidate{Identity: c, ActiveTasks: n}
		}
	}
	return best, nil
}
