package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/task"
	"github.com/rpggio/taskhub/internal/domain/user"
)

type taskStub struct {
	createFn  func(context.Context, user.Identity, task.CreateRequest) (*task.Task, error)
	getFn     func(context.Context, string) (*task.Task, error)
	listFn    func(context.Context, task.ListOptions) ([]task.Task, error)
	deleteFn  func(context.Context, user.Identity, string) error
	updateFn  func(context.Context, user.Identity, task.UpdateRequest) (*task.Task, *task.ConflictRecord, error)
	resolveFn func(context.Context, user.Identity, task.ResolveRequest) (*task.Task, error)
	assignFn  func(context.Context, user.Identity, string, []user.Identity) (*task.Task, error)
	startFn   func(context.Context, user.Identity, string) (bool, error)
	stopFn    func(context.Context, user.Identity, string) error
}

func (s taskStub) Create(ctx context.Context, actor user.Identity, req task.CreateRequest) (*task.Task, error) {
	return s.createFn(ctx, actor, req)
}
func (s taskStub) Get(ctx context.Context, id string) (*task.Task, error) { return s.getFn(ctx, id) }
func (s taskStub) List(ctx context.Context, opts task.ListOptions) ([]task.Task, error) {
	return s.listFn(ctx, opts)
}
func (s taskStub) Delete(ctx context.Context, actor user.Identity, id string) error {
	return s.deleteFn(ctx, actor, id)
}
func (s taskStub) AttemptUpdate(ctx context.Context, actor user.Identity, req task.UpdateRequest) (*task.Task, *task.ConflictRecord, error) {
	return s.updateFn(ctx, actor, req)
}
func (s taskStub) ResolveConflict(ctx context.Context, actor user.Identity, req task.ResolveRequest) (*task.Task, error) {
	return s.resolveFn(ctx, actor, req)
}
func (s taskStub) SmartAssign(ctx context.Context, actor user.Identity, taskID string, candidates []user.Identity) (*task.Task, error) {
	return s.assignFn(ctx, actor, taskID, candidates)
}
func (s taskStub) StartEdit(ctx context.Context, actor user.Identity, taskID string) (bool, error) {
	return s.startFn(ctx, actor, taskID)
}
func (s taskStub) StopEdit(ctx context.Context, actor user.Identity, taskID string) error {
	return s.stopFn(ctx, actor, taskID)
}

type activityStub struct {
	recentFn func(context.Context, int) ([]activity.Entry, error)
}

func (a activityStub) Recent(ctx context.Context, limit int) ([]activity.Entry, error) {
	return a.recentFn(ctx, limit)
}

type userStub struct {
	users []user.User
	err   error
}

func (u userStub) List(context.Context) ([]user.User, error) { return u.users, u.err }

type staticResolver struct {
	id user.Identity
}

func (r staticResolver) ResolveIdentity(_ context.Context, token string) (user.Identity, error) {
	if token == "" {
		return user.Identity{}, ErrUnauthorized
	}
	return r.id, nil
}

func newTestServer(t *testing.T, services Services) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(services, RouterConfig{Auth: AuthMiddleware(staticResolver{id: alice}, nil)}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHTTPServer_Health(t *testing.T) {
	server := httptest.NewServer(NewServer(Services{}, RouterConfig{}))
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPServer_RequiresAuth(t *testing.T) {
	srv := newTestServer(t, Services{})

	resp, err := http.Get(srv.URL + "/api/tasks")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPServer_CreateTask(t *testing.T) {
	var got task.CreateRequest
	var actor user.Identity
	srv := newTestServer(t, Services{Tasks: taskStub{
		createFn: func(_ context.Context, a user.Identity, req task.CreateRequest) (*task.Task, error) {
			actor, got = a, req
			return &task.Task{ID: "t1", Title: req.Title, Priority: task.PriorityHigh, Status: task.StatusTodo}, nil
		},
	}})

	resp := do(t, http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"title": "Ship", "priority": "high", "assignedTo": "u2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, alice, actor)
	require.Equal(t, "Ship", got.Title)
	require.Equal(t, task.PriorityHigh, got.Priority)
	require.Equal(t, "u2", *got.AssignedTo)

	body := decode[map[string]any](t, resp)
	require.Equal(t, "t1", body["id"])
	require.Equal(t, false, body["isBeingEdited"])
}

func TestHTTPServer_ListTasksFilters(t *testing.T) {
	var got task.ListOptions
	srv := newTestServer(t, Services{Tasks: taskStub{
		listFn: func(_ context.Context, opts task.ListOptions) ([]task.Task, error) {
			got = opts
			return nil, nil
		},
	}})

	resp := do(t, http.MethodGet, srv.URL+"/api/tasks?status=done&assignedTo=u2&q=login&limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, task.StatusDone, *got.Status)
	require.Equal(t, "u2", *got.AssigneeID)
	require.Equal(t, "login", got.Query)
	require.Equal(t, 5, got.Limit)
	require.Empty(t, decode[[]map[string]any](t, resp))
}

func TestHTTPServer_UpdateTask(t *testing.T) {
	var got task.UpdateRequest
	srv := newTestServer(t, Services{Tasks: taskStub{
		updateFn: func(_ context.Context, _ user.Identity, req task.UpdateRequest) (*task.Task, *task.ConflictRecord, error) {
			got = req
			return &task.Task{ID: req.ID, Title: *req.Fields.Title, Version: 4}, nil, nil
		},
	}})

	resp := do(t, http.MethodPut, srv.URL+"/api/tasks/t1", map[string]any{
		"title": "New", "assignedTo": nil, "version": 3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "t1", got.ID)
	require.Equal(t, "New", *got.Fields.Title)
	require.Nil(t, got.Fields.Status)
	require.True(t, got.Fields.AssignedTo.Set, "explicit null clears the assignee")
	require.Nil(t, got.Fields.AssignedTo.Value)
	require.Equal(t, int64(3), *got.BaseVersion)
}

func TestHTTPServer_UpdateTaskConflict(t *testing.T) {
	holder := "u2"
	srv := newTestServer(t, Services{Tasks: taskStub{
		updateFn: func(_ context.Context, _ user.Identity, req task.UpdateRequest) (*task.Task, *task.ConflictRecord, error) {
			return nil, &task.ConflictRecord{TaskID: req.ID, Reason: task.ConflictLocked, EditedBy: &holder, StoredVersion: 2}, nil
		},
	}})

	resp := do(t, http.MethodPut, srv.URL+"/api/tasks/t1", map[string]any{"title": "Mine"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[conflictResponse](t, resp)
	require.Equal(t, "Conflict detected", body.Message)
	require.Equal(t, task.ConflictLocked, body.Conflict.Reason)
	require.Equal(t, "u2", *body.Conflict.EditedBy)
}

func TestHTTPServer_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{task.ErrTaskNotFound, http.StatusNotFound},
		{task.ErrDuplicateTitle, http.StatusBadRequest},
		{task.ErrReservedTitle, http.StatusBadRequest},
		{task.ErrConflict, http.StatusConflict},
		{task.ErrNoCandidates, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", task.ErrTaskNotFound), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			srv := newTestServer(t, Services{Tasks: taskStub{
				deleteFn: func(context.Context, user.Identity, string) error { return tc.err },
			}})
			resp := do(t, http.MethodDelete, srv.URL+"/api/tasks/t1", nil)
			require.Equal(t, tc.status, resp.StatusCode)

			body := decode[messageResponse](t, resp)
			if tc.status == http.StatusInternalServerError {
				require.Equal(t, "Server error", body.Message)
			} else {
				require.NotEmpty(t, body.Message)
			}
		})
	}
}

func TestHTTPServer_SmartAssignUsesAllUsers(t *testing.T) {
	var got []user.Identity
	srv := newTestServer(t, Services{
		Users: userStub{users: []user.User{{ID: "u1", Username: "alice"}, {ID: "u2", Username: "bob"}}},
		Tasks: taskStub{
			assignFn: func(_ context.Context, _ user.Identity, id string, candidates []user.Identity) (*task.Task, error) {
				got = candidates
				assignee := "u2"
				return &task.Task{ID: id, AssignedTo: &assignee}, nil
			},
		},
	})

	resp := do(t, http.MethodPost, srv.URL+"/api/tasks/t1/smart-assign", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []user.Identity{{ID: "u1", Username: "alice"}, {ID: "u2", Username: "bob"}}, got)
}

func TestHTTPServer_ResolveConflict(t *testing.T) {
	var got task.ResolveRequest
	srv := newTestServer(t, Services{Tasks: taskStub{
		resolveFn: func(_ context.Context, _ user.Identity, req task.ResolveRequest) (*task.Task, error) {
			got = req
			return &task.Task{ID: req.ID}, nil
		},
	}})

	resp := do(t, http.MethodPut, srv.URL+"/api/tasks/t1/resolve-conflict", map[string]any{
		"resolution":   "current",
		"resolvedData": map[string]any{"title": "Merged", "status": "done"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "current", got.Resolution)
	require.Equal(t, "Merged", *got.Fields.Title)
	require.Equal(t, task.StatusDone, *got.Fields.Status)
}

func TestHTTPServer_EditLock(t *testing.T) {
	var stopped string
	srv := newTestServer(t, Services{Tasks: taskStub{
		startFn: func(_ context.Context, _ user.Identity, id string) (bool, error) { return id == "t1", nil },
		stopFn: func(_ context.Context, _ user.Identity, id string) error {
			stopped = id
			return nil
		},
	}})

	resp := do(t, http.MethodPost, srv.URL+"/api/tasks/t1/edit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, decode[editResponse](t, resp).Acquired)

	resp = do(t, http.MethodPost, srv.URL+"/api/tasks/t2/edit", nil)
	require.False(t, decode[editResponse](t, resp).Acquired)

	resp = do(t, http.MethodDelete, srv.URL+"/api/tasks/t1/edit", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "t1", stopped)
}

func TestHTTPServer_Activities(t *testing.T) {
	var limit int
	srv := newTestServer(t, Services{Activities: activityStub{
		recentFn: func(_ context.Context, n int) ([]activity.Entry, error) {
			limit = n
			return []activity.Entry{{ID: 1, Action: activity.ActionCreated, ActorName: "alice"}}, nil
		},
	}})

	resp := do(t, http.MethodGet, srv.URL+"/api/activities?limit=7", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 7, limit)
	entries := decode[[]activity.Entry](t, resp)
	require.Len(t, entries, 1)
}
