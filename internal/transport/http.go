package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/task"
	"github.com/rpggio/taskhub/internal/domain/user"
)

// TaskService defines the task operations served over HTTP.
type TaskService interface {
	Create(ctx context.Context, actor user.Identity, req task.CreateRequest) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, opts task.ListOptions) ([]task.Task, error)
	Delete(ctx context.Context, actor user.Identity, id string) error
	AttemptUpdate(ctx context.Context, actor user.Identity, req task.UpdateRequest) (*task.Task, *task.ConflictRecord, error)
	ResolveConflict(ctx context.Context, actor user.Identity, req task.ResolveRequest) (*task.Task, error)
	SmartAssign(ctx context.Context, actor user.Identity, taskID string, candidates []user.Identity) (*task.Task, error)
	StartEdit(ctx context.Context, actor user.Identity, taskID string) (bool, error)
	StopEdit(ctx context.Context, actor user.Identity, taskID string) error
}

// ActivityService defines the activity feed operations served over HTTP.
type ActivityService interface {
	Recent(ctx context.Context, limit int) ([]activity.Entry, error)
}

// UserService lists board members.
type UserService interface {
	List(ctx context.Context) ([]user.User, error)
}

// Services contains the domain services behind the HTTP surface.
type Services struct {
	Tasks      TaskService
	Activities ActivityService
	Users      UserService
}

// Server wires HTTP handlers.
type Server struct {
	services Services
	logger   *slog.Logger
}

// RouterConfig carries the optional pieces mounted next to the REST API.
type RouterConfig struct {
	Auth func(http.Handler) http.Handler
	// Socket serves GET /ws behind Auth when set.
	Socket http.Handler
	// MCP is mounted at /mcp when set. It authenticates its own requests.
	MCP    http.Handler
	Logger *slog.Logger
}

// NewServer creates an HTTP router with middleware.
func NewServer(services Services, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	srv := &Server{services: services, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.handleHealth)

	r.Group(func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth)
		}

		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", srv.handleListTasks)
			r.Post("/", srv.handleCreateTask)
			r.Get("/{id}", srv.handleGetTask)
			r.Put("/{id}", srv.handleUpdateTask)
			r.Delete("/{id}", srv.handleDeleteTask)
			r.Post("/{id}/smart-assign", srv.handleSmartAssign)
			r.Put("/{id}/resolve-conflict", srv.handleResolveConflict)
			r.Post("/{id}/edit", srv.handleStartEdit)
			r.Delete("/{id}/edit", srv.handleStopEdit)
		})
		r.Get("/api/activities", srv.handleActivities)
		r.Get("/api/users", srv.handleUsers)

		if cfg.Socket != nil {
			r.Get("/ws", cfg.Socket.ServeHTTP)
		}
	})

	if cfg.MCP != nil {
		r.Handle("/mcp", cfg.MCP)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type createTaskBody struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Priority    task.Priority `json:"priority"`
	Status      task.Status   `json:"status"`
	AssignedTo  *string       `json:"assignedTo"`
}

type updateTaskBody struct {
	task.Fields
	Version *int64 `json:"version,omitempty"`
}

type resolveConflictBody struct {
	ResolvedData task.Fields `json:"resolvedData"`
	Resolution   string      `json:"resolution"`
}

type conflictResponse struct {
	Message  string               `json:"message"`
	Conflict *task.ConflictRecord `json:"conflict"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type editResponse struct {
	TaskID   string `json:"taskId"`
	Acquired bool   `json:"acquired"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := task.ListOptions{Query: q.Get("q")}
	if v := q.Get("status"); v != "" {
		st := task.Status(v)
		opts.Status = &st
	}
	if v := q.Get("assignedTo"); v != "" {
		opts.AssigneeID = &v
	}
	opts.Limit = intParam(q.Get("limit"))
	opts.Offset = intParam(q.Get("offset"))

	tasks, err := s.services.Tasks.List(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFromContext(r.Context())
	var body createTaskBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.services.Tasks.Create(r.Context(), actor, task.CreateRequest{
		Title:       body.Title,
		Description: body.Description,
		Priority:    body.Priority,
		Status:      body.Status,
		AssignedTo:  body.AssignedTo,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.services.Tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFromContext(r.Context())
	var body updateTaskBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, conflict, err := s.services.Tasks.AttemptUpdate(r.Context(), actor, task.UpdateRequest{
		ID:          chi.URLParam(r, "id"),
		Fields:      body.Fields,
		BaseVersion: body.Version,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if conflict != nil {
		writeJSON(w, http.StatusConflict, conflictResponse{Message: "Conflict detected", Conflict: conflict})
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFromContext(r.Context())
	if err := s.services.Tasks.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Task deleted successfully"})
}

func (s *Server) handleSmartAssign(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFromContext(r.Context())
	users, err := s.services.Users.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	candidates := make([]user.Identity, 0, len(users))
	for _, u := range users {
		candidates = append(candidates, user.Identity{ID: u.ID, Username: u.Username})
	}

	assigned, err := s.services.Tasks.SmartAssign(r.Context(), actor, chi.URLParam(r, "id"), candidates)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assigned)
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFromContext(r.Context())
	var body resolveConflictBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resolved, err := s.services.Tasks.ResolveConflict(r.Context(), actor, task.ResolveRequest{
		ID:         chi.URLParam(r, "id"),
		Fields:     body.ResolvedData,
		Resolution: body.Resolution,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (s *Server) handleStartEdit(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFromContext(r.Context())
	id := chi.URLParam(r, "id")
	acquired, err := s.services.Tasks.StartEdit(r.Context(), actor, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{TaskID: id, Acquired: acquired})
}

func (s *Server) handleStopEdit(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFromContext(r.Context())
	if err := s.services.Tasks.StopEdit(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	entries, err := s.services.Activities.Recent(r.Context(), intParam(r.URL.Query().Get("limit")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.services.Users.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if users == nil {
		users = []user.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// StatusFor maps a domain error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound), errors.Is(err, user.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrInvalidInput), errors.Is(err, activity.ErrInvalidInput), errors.Is(err, user.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, task.ErrNoCandidates):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "Server error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Message: message})
}

func intParam(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
