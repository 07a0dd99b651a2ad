package testserver_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/task"
	"github.com/rpggio/taskhub/internal/domain/user"
	"github.com/rpggio/taskhub/internal/testserver"
)

func TestIntegration_VersionAdvancesOncePerUpdate(t *testing.T) {
	ctx := context.Background()
	ts := testserver.New(t)
	ts.Token(t, alice)
	ts.Token(t, bob)

	created, err := ts.Tasks.Create(ctx, alice, task.CreateRequest{Title: "Counter"})
	require.NoError(t, err)

	desc := "revision"
	steps := []func() (*task.Task, error){
		func() (*task.Task, error) {
			updated, conflict, err := ts.Tasks.AttemptUpdate(ctx, alice, task.UpdateRequest{
				ID:     created.ID,
				Fields: task.Fields{Description: &desc},
			})
			require.Nil(t, conflict)
			return updated, err
		},
		func() (*task.Task, error) {
			return ts.Tasks.ResolveConflict(ctx, bob, task.ResolveRequest{
				ID:         created.ID,
				Fields:     task.Fields{Description: &desc},
				Resolution: task.KeepCurrent,
			})
		},
		func() (*task.Task, error) {
			return ts.Tasks.SmartAssign(ctx, alice, created.ID, []user.Identity{alice, bob})
		},
	}

	// Edit locks taken between writes must not count.
	_, err = ts.Tasks.StartEdit(ctx, alice, created.ID)
	require.NoError(t, err)

	n := int64(0)
	for round := 0; round < 2; round++ {
		for _, step := range steps {
			n++
			got, err := step()
			require.NoError(t, err)
			require.Equal(t, n, got.Version)
		}
	}

	stored, err := ts.Tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(6), stored.Version)

	entries, err := ts.Activities.List(ctx, activity.ListOptions{TaskID: &created.ID})
	require.NoError(t, err)
	require.Len(t, entries, 7)
}

func TestIntegration_ConcurrentSameBaseVersion(t *testing.T) {
	ctx := context.Background()
	ts := testserver.New(t)
	ts.Token(t, alice)
	ts.Token(t, bob)

	created, err := ts.Tasks.Create(ctx, alice, task.CreateRequest{Title: "Race"})
	require.NoError(t, err)

	base := created.Version
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, who := range []user.Identity{alice, bob} {
		wg.Add(1)
		go func(who user.Identity) {
			defer wg.Done()
			desc := "by " + who.Username
			_, conflict, err := ts.Tasks.AttemptUpdate(ctx, who, task.UpdateRequest{
				ID:          created.ID,
				Fields:      task.Fields{Description: &desc},
				BaseVersion: &base,
			})
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if conflict != nil {
				assert.Equal(t, task.ConflictStale, conflict.Reason)
				conflicts++
			} else {
				successes++
			}
		}(who)
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, 1, conflicts)

	stored, err := ts.Tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.Version)
}

func TestIntegration_SweepClearsStaleLocks(t *testing.T) {
	ctx := context.Background()
	ts := testserver.New(t)
	ts.Token(t, alice)

	old, err := ts.Tasks.Create(ctx, alice, task.CreateRequest{Title: "Old lock"})
	require.NoError(t, err)
	fresh, err := ts.Tasks.Create(ctx, alice, task.CreateRequest{Title: "Fresh lock"})
	require.NoError(t, err)

	for _, id := range []string{old.ID, fresh.ID} {
		ok, err := ts.Tasks.StartEdit(ctx, alice, id)
		require.NoError(t, err)
		require.True(t, ok)
	}

	cleared, err := ts.Tasks.SweepStale(ctx, time.Now(), 5*time.Minute)
	require.NoError(t, err)
	require.Zero(t, cleared)

	cleared, err = ts.Tasks.SweepStale(ctx, time.Now().Add(10*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, cleared)

	for _, id := range []string{old.ID, fresh.ID} {
		stored, err := ts.Tasks.Get(ctx, id)
		require.NoError(t, err)
		require.False(t, stored.Lock.Locked())
		require.Zero(t, stored.Version, "lock changes do not bump the version")
	}
}

func TestIntegration_SmartAssignPrefersLeastLoaded(t *testing.T) {
	ctx := context.Background()
	ts := testserver.New(t)
	carol := user.Identity{ID: "u-carol", Username: "carol"}
	for _, id := range []user.Identity{alice, bob, carol} {
		ts.Token(t, id)
	}

	load := map[string]int{alice.ID: 3, bob.ID: 1, carol.ID: 1}
	n := 0
	for assignee, count := range load {
		for i := 0; i < count; i++ {
			n++
			who := assignee
			_, err := ts.Tasks.Create(ctx, alice, task.CreateRequest{
				Title:      "Load " + string(rune('A'+n)),
				AssignedTo: &who,
			})
			require.NoError(t, err)
		}
	}
	// Completed work does not count towards the load.
	doneFor := carol.ID
	_, err := ts.Tasks.Create(ctx, alice, task.CreateRequest{Title: "Finished", Status: task.StatusDone, AssignedTo: &doneFor})
	require.NoError(t, err)

	target, err := ts.Tasks.Create(ctx, alice, task.CreateRequest{Title: "Unowned"})
	require.NoError(t, err)

	assigned, err := ts.Tasks.SmartAssign(ctx, alice, target.ID, []user.Identity{alice, bob, carol})
	require.NoError(t, err)
	require.Equal(t, bob.ID, *assigned.AssignedTo)
}
