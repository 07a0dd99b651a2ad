package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rpggio/taskhub/internal/domain/task"
	"github.com/rpggio/taskhub/internal/repository"
)

// TaskRepository implements task.Repository for SQLite
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a new TaskRepository
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `
	t.id, t.title, t.description, t.priority, t.status, t.assigned_to,
	t.created_by, t.last_edited_by, t.version, t.edited_by, t.edit_started_at,
	t.created_at, t.updated_at`

// Create inserts a new task
func (r *TaskRepository) Create(ctx context.Context, t *task.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	holder, since := lockColumns(t.Lock)

	query := `
		INSERT INTO tasks (
			id, title, description, priority, status, assigned_to,
			created_by, last_edited_by, version, edited_by, edit_started_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.Title,
		t.Description,
		t.Priority,
		t.Status,
		t.AssignedTo,
		t.CreatedBy,
		t.LastEditedBy,
		t.Version,
		holder,
		since,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: task title %q", repository.ErrDuplicate, t.Title)
		}
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID
func (r *TaskRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE t.id = ?`
	t, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// FindByTitle retrieves a task by its exact title
func (r *TaskRepository) FindByTitle(ctx context.Context, title string) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE t.title = ?`
	t, err := scanTask(r.db.QueryRowContext(ctx, query, title))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task by title: %w", err)
	}
	return t, nil
}

// List returns tasks matching the filters, newest first
func (r *TaskRepository) List(ctx context.Context, opts task.ListOptions) ([]task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t`
	conditions, args := filterConditions(opts)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY t.created_at DESC, t.rowid DESC"
	query, args = paginate(query, args, opts)

	return r.query(ctx, query, args...)
}

// Search performs a full-text search over task titles and descriptions
func (r *TaskRepository) Search(ctx context.Context, q string, opts task.ListOptions) ([]task.Task, error) {
	match := ftsQuery(q)
	if match == "" {
		return r.List(ctx, opts)
	}

	query := `
		SELECT ` + taskColumns + `
		FROM tasks_fts
		JOIN tasks t ON t.rowid = tasks_fts.rowid
		WHERE tasks_fts MATCH ?
	`
	args := []any{match}
	conditions, filterArgs := filterConditions(opts)
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
		args = append(args, filterArgs...)
	}
	query += " ORDER BY tasks_fts.rank, t.created_at DESC"
	query, args = paginate(query, args, opts)

	tasks, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search tasks: %w", err)
	}
	return tasks, nil
}

// Update writes every mutable column if the stored version equals expectedVersion
func (r *TaskRepository) Update(ctx context.Context, t *task.Task, expectedVersion int64) error {
	holder, since := lockColumns(t.Lock)

	query := `
		UPDATE tasks
		SET title = ?, description = ?, priority = ?, status = ?, assigned_to = ?,
			last_edited_by = ?, version = ?, edited_by = ?, edit_started_at = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		t.Title,
		t.Description,
		t.Priority,
		t.Status,
		t.AssignedTo,
		t.LastEditedBy,
		t.Version,
		holder,
		since,
		t.UpdatedAt,
		t.ID,
		expectedVersion,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: task title %q", repository.ErrDuplicate, t.Title)
		}
		return fmt.Errorf("failed to update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		exists, err := r.exists(ctx, t.ID)
		if err != nil {
			return err
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrConflict
	}
	return nil
}

// Delete removes a task
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AcquireLock marks the task as being edited by userID unless someone already holds it.
// The version is left alone: taking a lock is not an edit.
func (r *TaskRepository) AcquireLock(ctx context.Context, id, userID string, since time.Time) (bool, error) {
	query := `
		UPDATE tasks SET edited_by = ?, edit_started_at = ?
		WHERE id = ? AND edited_by IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, userID, since.UTC().UnixNano(), id)
	if err != nil {
		return false, fmt.Errorf("failed to acquire edit lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}
	exists, err := r.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

// ReleaseLock clears the edit lock regardless of holder
func (r *TaskRepository) ReleaseLock(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET edited_by = NULL, edit_started_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to release edit lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ReleaseLockIf clears the edit lock only while it is still held by holder since since
func (r *TaskRepository) ReleaseLockIf(ctx context.Context, id, holder string, since time.Time) (bool, error) {
	query := `
		UPDATE tasks SET edited_by = NULL, edit_started_at = NULL
		WHERE id = ? AND edited_by = ? AND edit_started_at = ?
	`
	result, err := r.db.ExecContext(ctx, query, id, holder, since.UTC().UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to release edit lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// ListLocked lists tasks that are being edited, by holder when holder is non-empty
func (r *TaskRepository) ListLocked(ctx context.Context, holder string) ([]task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE t.edited_by IS NOT NULL`
	var args []any
	if holder != "" {
		query += " AND t.edited_by = ?"
		args = append(args, holder)
	}
	query += " ORDER BY t.edit_started_at"
	return r.query(ctx, query, args...)
}

// CountActiveByAssignee counts the tasks assigned to userID that are not done
func (r *TaskRepository) CountActiveByAssignee(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE assigned_to = ? AND status IN (?, ?)`,
		userID, task.StatusTodo, task.StatusInProgress,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return count, nil
}

func (r *TaskRepository) exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check task existence: %w", err)
	}
	return n > 0, nil
}

func (r *TaskRepository) query(ctx context.Context, query string, args ...any) ([]task.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*task.Task, error) {
	var t task.Task
	var assignedTo, lastEditedBy, editedBy sql.NullString
	var editStartedAt sql.NullInt64
	err := s.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Priority,
		&t.Status,
		&assignedTo,
		&t.CreatedBy,
		&lastEditedBy,
		&t.Version,
		&editedBy,
		&editStartedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if lastEditedBy.Valid {
		t.LastEditedBy = &lastEditedBy.String
	}
	if editedBy.Valid && editStartedAt.Valid {
		t.Lock = task.LockedBy(editedBy.String, time.Unix(0, editStartedAt.Int64).UTC())
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func lockColumns(l task.LockState) (any, any) {
	if !l.Locked() {
		return nil, nil
	}
	return l.Holder(), l.Since().UTC().UnixNano()
}

func filterConditions(opts task.ListOptions) ([]string, []any) {
	var conditions []string
	var args []any
	if opts.Status != nil {
		conditions = append(conditions, "t.status = ?")
		args = append(args, *opts.Status)
	}
	if opts.AssigneeID != nil {
		conditions = append(conditions, "t.assigned_to = ?")
		args = append(args, *opts.AssigneeID)
	}
	return conditions, args
}

func paginate(query string, args []any, opts task.ListOptions) (string, []any) {
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}
	return query, args
}

// ftsQuery turns free text into an FTS5 query matching every term as a prefix.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		if !strings.ContainsFunc(term, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"*`)
	}
	return strings.Join(quoted, " ")
}
