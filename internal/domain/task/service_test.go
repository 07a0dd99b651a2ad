package task_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/task"
	"github.com/rpggio/taskhub/internal/domain/user"
	"github.com/rpggio/taskhub/internal/event"
	"github.com/rpggio/taskhub/internal/repository"
	"github.com/rpggio/taskhub/internal/repository/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice = user.Identity{ID: "u1", Username: "alice"}
	bob   = user.Identity{ID: "u2", Username: "bob"}
)

func strPtr(s string) *string { return &s }

func statusPtr(s task.Status) *task.Status { return &s }

func storedTask(version int64) *task.Task {
	return &task.Task{
		ID:       "t1",
		Title:    "Write docs",
		Priority: task.PriorityMedium,
		Status:   task.StatusTodo,
		Version:  version,
	}
}

func TestTaskService_Create(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	recorder := &mocks.ActivityRecorder{}
	pub := &mocks.Publisher{}

	repo.On("FindByTitle", ctx, "Write docs").Return(nil, repository.ErrNotFound)
	repo.On("Create", ctx, mock.Anything).Return(nil)
	recorder.On("Record", ctx, mock.MatchedBy(func(e *activity.Entry) bool {
		return e.Action == activity.ActionCreated && e.ActorName == "alice"
	})).Return(nil)

	svc := task.NewService(repo, recorder, pub, nil)
	created, err := svc.Create(ctx, alice, task.CreateRequest{Title: "  Write docs  ", Description: " d "})
	require.NoError(t, err)
	require.Equal(t, "Write docs", created.Title)
	require.Equal(t, "d", created.Description)
	require.Equal(t, task.PriorityMedium, created.Priority)
	require.Equal(t, task.StatusTodo, created.Status)
	require.Equal(t, int64(0), created.Version)
	require.Equal(t, alice.ID, created.CreatedBy)
	require.False(t, created.Lock.Locked())
	require.Len(t, pub.Named(event.TaskCreated), 1)
	recorder.AssertExpectations(t)
}

func TestTaskService_Create_RejectsTitles(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	repo.On("FindByTitle", ctx, "Taken").Return(&task.Task{ID: "other", Title: "Taken"}, nil)

	svc := task.NewService(repo, nil, nil, nil)

	_, err := svc.Create(ctx, alice, task.CreateRequest{Title: "   "})
	require.ErrorIs(t, err, task.ErrTitleRequired)

	for _, reserved := range []string{"Todo", "IN PROGRESS", "inprogress", "done"} {
		_, err = svc.Create(ctx, alice, task.CreateRequest{Title: reserved})
		require.ErrorIs(t, err, task.ErrReservedTitle, reserved)
		require.ErrorIs(t, err, task.ErrInvalidInput)
	}

	_, err = svc.Create(ctx, alice, task.CreateRequest{Title: "Taken"})
	require.ErrorIs(t, err, task.ErrDuplicateTitle)

	_, err = svc.Create(ctx, alice, task.CreateRequest{Title: "Fine", Priority: "urgent"})
	require.ErrorIs(t, err, task.ErrInvalidPriority)
}

func TestTaskService_AttemptUpdate_AppliesAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	recorder := &mocks.ActivityRecorder{}
	pub := &mocks.Publisher{}

	// The submitter's own lock is cleared by a successful update.
	stored := storedTask(3)
	stored.Lock = task.LockedBy(alice.ID, time.Now())
	repo.On("Get", ctx, "t1").Return(stored, nil)
	repo.On("FindByTitle", ctx, "Write better docs").Return(nil, repository.ErrNotFound)
	repo.On("Update", ctx, mock.MatchedBy(func(t *task.Task) bool {
		return t.Version == 4 && !t.Lock.Locked() && *t.LastEditedBy == alice.ID
	}), int64(3)).Return(nil)

	var entry *activity.Entry
	recorder.On("Record", ctx, mock.Anything).Run(func(args mock.Arguments) {
		entry = args.Get(1).(*activity.Entry)
	}).Return(nil)

	svc := task.NewService(repo, recorder, pub, nil)
	updated, conflict, err := svc.AttemptUpdate(ctx, alice, task.UpdateRequest{
		ID: "t1",
		Fields: task.Fields{
			Title:  strPtr("Write better docs"),
			Status: statusPtr(task.StatusInProgress),
		},
	})
	require.NoError(t, err)
	require.Nil(t, conflict)
	require.Equal(t, int64(4), updated.Version)
	require.Equal(t, task.StatusInProgress, updated.Status)

	require.Equal(t, activity.ActionMoved, entry.Action)
	require.Equal(t, `title: "Write docs" → "Write better docs", status: todo → inprogress`, entry.Details)
	require.Len(t, pub.Named(event.TaskUpdated), 1)
	repo.AssertExpectations(t)
}

func TestTaskService_AttemptUpdate_LockedByOther(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	pub := &mocks.Publisher{}

	stored := storedTask(2)
	stored.Lock = task.LockedBy(bob.ID, time.Now())
	repo.On("Get", ctx, "t1").Return(stored, nil)

	svc := task.NewService(repo, nil, pub, nil)
	updated, conflict, err := svc.AttemptUpdate(ctx, alice, task.UpdateRequest{
		ID:     "t1",
		Fields: task.Fields{Title: strPtr("Mine")},
	})
	require.NoError(t, err)
	require.Nil(t, updated)
	require.NotNil(t, conflict)
	require.Equal(t, task.ConflictLocked, conflict.Reason)
	require.Equal(t, "Mine", *conflict.CurrentVersion.Title)
	require.Equal(t, "Write docs", *conflict.ConflictingVersion.Title)
	require.Equal(t, bob.ID, *conflict.EditedBy)
	require.Equal(t, int64(2), conflict.StoredVersion)

	require.Len(t, pub.Named(event.ConflictDetected), 1)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestTaskService_AttemptUpdate_StaleBaseVersion(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	repo.On("Get", ctx, "t1").Return(storedTask(5), nil)

	base := int64(4)
	svc := task.NewService(repo, nil, nil, nil)
	_, conflict, err := svc.AttemptUpdate(ctx, alice, task.UpdateRequest{
		ID:          "t1",
		Fields:      task.Fields{Priority: func() *task.Priority { p := task.PriorityHigh; return &p }()},
		BaseVersion: &base,
	})
	require.NoError(t, err)
	require.Equal(t, task.ConflictStale, conflict.Reason)
	require.Nil(t, conflict.EditedBy)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestTaskService_AttemptUpdate_LostRace(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	repo.On("Get", ctx, "t1").Return(storedTask(1), nil).Once()
	repo.On("Update", ctx, mock.Anything, int64(1)).Return(repository.ErrConflict)
	repo.On("Get", ctx, "t1").Return(storedTask(2), nil).Once()

	svc := task.NewService(repo, nil, nil, nil)
	updated, conflict, err := svc.AttemptUpdate(ctx, alice, task.UpdateRequest{
		ID:     "t1",
		Fields: task.Fields{Description: strPtr("x")},
	})
	require.NoError(t, err)
	require.Nil(t, updated)
	require.Equal(t, task.ConflictStale, conflict.Reason)
	require.Equal(t, int64(2), conflict.StoredVersion)
}

func TestTaskService_AttemptUpdate_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	repo.On("Get", ctx, "missing").Return(nil, repository.ErrNotFound)

	svc := task.NewService(repo, nil, nil, nil)
	_, _, err := svc.AttemptUpdate(ctx, alice, task.UpdateRequest{ID: "missing"})
	require.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestTaskService_AttemptUpdate_DegradedActivityStillSucceeds(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	recorder := &mocks.ActivityRecorder{}
	repo.On("Get", ctx, "t1").Return(storedTask(0), nil)
	repo.On("Update", ctx, mock.Anything, int64(0)).Return(nil)
	recorder.On("Record", ctx, mock.Anything).Return(activity.ErrDegraded)

	svc := task.NewService(repo, recorder, nil, nil)
	updated, conflict, err := svc.AttemptUpdate(ctx, alice, task.UpdateRequest{
		ID:     "t1",
		Fields: task.Fields{Description: strPtr("still written")},
	})
	require.NoError(t, err)
	require.Nil(t, conflict)
	require.Equal(t, int64(1), updated.Version)
}

func TestTaskService_ResolveConflict(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	recorder := &mocks.ActivityRecorder{}

	stored := storedTask(7)
	stored.Lock = task.LockedBy(bob.ID, time.Now())
	repo.On("Get", ctx, "t1").Return(stored, nil)
	repo.On("Update", ctx, mock.MatchedBy(func(t *task.Task) bool { return !t.Lock.Locked() }), int64(7)).Return(nil)

	var entry *activity.Entry
	recorder.On("Record", ctx, mock.Anything).Run(func(args mock.Arguments) {
		entry = args.Get(1).(*activity.Entry)
	}).Return(nil)

	svc := task.NewService(repo, recorder, nil, nil)
	resolved, err := svc.ResolveConflict(ctx, alice, task.ResolveRequest{
		ID:         "t1",
		Fields:     task.Fields{Status: statusPtr(task.StatusDone)},
		Resolution: task.KeepConflicting,
	})
	require.NoError(t, err)
	require.Equal(t, int64(8), resolved.Version)
	require.Equal(t, task.StatusDone, resolved.Status)
	require.Equal(t, activity.ActionConflictResolved, entry.Action)
	require.Equal(t, "Conflict resolved by keeping conflicting version", entry.Details)

	_, err = svc.ResolveConflict(ctx, alice, task.ResolveRequest{ID: "t1", Resolution: "theirs"})
	require.ErrorIs(t, err, task.ErrInvalidResolution)
}

func TestTaskService_StartEdit(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	pub := &mocks.Publisher{}

	repo.On("Get", ctx, "t1").Return(storedTask(0), nil).Once()
	repo.On("AcquireLock", ctx, "t1", alice.ID, mock.Anything).Return(true, nil).Once()

	svc := task.NewService(repo, nil, pub, nil)
	ok, err := svc.StartEdit(ctx, alice, "t1")
	require.NoError(t, err)
	require.True(t, ok)

	started := pub.Named(event.EditingStarted)
	require.Len(t, started, 1)
	require.Equal(t, alice.ID, started[0].Except)
	require.Equal(t, event.EditingPayload{TaskID: "t1", EditedBy: "alice"}, started[0].Payload)

	// A second start by anyone is a silent no-op.
	locked := storedTask(0)
	locked.Lock = task.LockedBy(alice.ID, time.Now())
	repo.On("Get", ctx, "t1").Return(locked, nil)

	for _, who := range []user.Identity{alice, bob} {
		ok, err = svc.StartEdit(ctx, who, "t1")
		require.NoError(t, err)
		require.False(t, ok)
	}
	require.Len(t, pub.Named(event.EditingStarted), 1)
	repo.AssertNumberOfCalls(t, "AcquireLock", 1)
}

func TestTaskService_StopEdit(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	pub := &mocks.Publisher{}
	repo.On("ReleaseLock", ctx, "t1").Return(nil)
	repo.On("ReleaseLock", ctx, "gone").Return(repository.ErrNotFound)

	svc := task.NewService(repo, nil, pub, nil)
	require.NoError(t, svc.StopEdit(ctx, bob, "t1"))
	require.NoError(t, svc.StopEdit(ctx, bob, "t1"))
	require.ErrorIs(t, svc.StopEdit(ctx, bob, "gone"), task.ErrTaskNotFound)

	stopped := pub.Named(event.EditingStopped)
	require.Len(t, stopped, 2)
	require.Equal(t, bob.ID, stopped[0].Except)
}

func TestTaskService_SweepStale(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	pub := &mocks.Publisher{}

	now := time.Now().UTC()
	threshold := 5 * time.Minute
	oldLock := task.LockedBy(alice.ID, now.Add(-10*time.Minute))
	freshLock := task.LockedBy(bob.ID, now.Add(-time.Minute))

	stale := storedTask(0)
	stale.Lock = oldLock
	fresh := &task.Task{ID: "t2", Title: "Fresh", Lock: freshLock}
	retaken := &task.Task{ID: "t3", Title: "Retaken", Lock: oldLock}
	retakenNow := &task.Task{ID: "t3", Title: "Retaken", Lock: task.LockedBy(bob.ID, now)}

	repo.On("ListLocked", ctx, "").Return([]task.Task{*stale, *fresh, *retaken}, nil)
	repo.On("Get", ctx, "t1").Return(stale, nil)
	// t3 was released and re-acquired between listing and the re-check.
	repo.On("Get", ctx, "t3").Return(retakenNow, nil)
	repo.On("ReleaseLockIf", ctx, "t1", alice.ID, oldLock.Since()).Return(true, nil)

	svc := task.NewService(repo, nil, pub, nil)
	cleared, err := svc.SweepStale(ctx, now, threshold)
	require.NoError(t, err)
	require.Equal(t, 1, cleared)

	stopped := pub.Named(event.EditingStopped)
	require.Len(t, stopped, 1)
	require.Equal(t, event.EditingPayload{TaskID: "t1"}, stopped[0].Payload)
	require.Empty(t, stopped[0].Except)
	repo.AssertNotCalled(t, "Get", ctx, "t2")
	repo.AssertNumberOfCalls(t, "ReleaseLockIf", 1)
}

func TestTaskService_ReleaseLocksHeldBy(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	pub := &mocks.Publisher{}

	since := time.Now().UTC()
	a := &task.Task{ID: "a", Lock: task.LockedBy(alice.ID, since)}
	b := &task.Task{ID: "b", Lock: task.LockedBy(alice.ID, since)}

	repo.On("ListLocked", ctx, alice.ID).Return([]task.Task{*a, *b}, nil)
	repo.On("Get", ctx, "a").Return(a, nil)
	repo.On("Get", ctx, "b").Return(nil, repository.ErrNotFound)
	repo.On("ReleaseLockIf", ctx, "a", alice.ID, since).Return(true, nil)

	svc := task.NewService(repo, nil, pub, nil)
	released, err := svc.ReleaseLocksHeldBy(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, released)
	require.Len(t, pub.Named(event.EditingStopped), 1)
}

func TestTaskService_SmartAssign(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	recorder := &mocks.ActivityRecorder{}

	carol := user.Identity{ID: "u3", Username: "carol"}
	repo.On("Get", ctx, "t1").Return(storedTask(2), nil)
	repo.On("CountActiveByAssignee", ctx, alice.ID).Return(3, nil)
	repo.On("CountActiveByAssignee", ctx, bob.ID).Return(1, nil)
	repo.On("CountActiveByAssignee", ctx, carol.ID).Return(1, nil)
	repo.On("Update", ctx, mock.Anything, int64(2)).Return(nil)

	var entry *activity.Entry
	recorder.On("Record", ctx, mock.Anything).Run(func(args mock.Arguments) {
		entry = args.Get(1).(*activity.Entry)
	}).Return(nil)

	svc := task.NewService(repo, recorder, nil, nil)
	assigned, err := svc.SmartAssign(ctx, alice, "t1", []user.Identity{alice, bob, carol})
	require.NoError(t, err)
	require.Equal(t, bob.ID, *assigned.AssignedTo)
	require.Equal(t, int64(3), assigned.Version)
	require.Equal(t, activity.ActionAssigned, entry.Action)
	require.Equal(t, "Smart assigned to bob (1 active tasks)", entry.Details)
}

func TestTaskService_SmartAssign_Errors(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	repo.On("Get", ctx, "t1").Return(storedTask(0), nil)
	repo.On("Get", ctx, "missing").Return(nil, repository.ErrNotFound)
	repo.On("CountActiveByAssignee", ctx, bob.ID).Return(0, errors.New("db closed"))

	svc := task.NewService(repo, nil, nil, nil)

	_, err := svc.SmartAssign(ctx, alice, "t1", nil)
	require.ErrorIs(t, err, task.ErrNoCandidates)

	_, err = svc.SmartAssign(ctx, alice, "missing", nil)
	require.ErrorIs(t, err, task.ErrTaskNotFound)

	_, err = svc.SmartAssign(ctx, alice, "t1", []user.Identity{bob})
	require.Error(t, err)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestTaskService_Delete(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.TaskRepository{}
	pub := &mocks.Publisher{}
	repo.On("Get", ctx, "t1").Return(storedTask(0), nil)
	repo.On("Delete", ctx, "t1").Return(nil)

	svc := task.NewService(repo, nil, pub, nil)
	require.NoError(t, svc.Delete(ctx, alice, "t1"))

	deleted := pub.Named(event.TaskDeleted)
	require.Len(t, deleted, 1)
	require.Equal(t, event.TaskDeletedPayload{TaskID: "t1"}, deleted[0].Payload)
}
