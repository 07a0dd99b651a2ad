package mcp

import (
	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/task"
)

type ListTasksParams struct {
	Status     string `json:"status,omitempty" jsonschema:"filter by status: todo, inprogress or done"`
	AssignedTo string `json:"assigned_to,omitempty" jsonschema:"filter by assignee user ID"`
	Query      string `json:"query,omitempty" jsonschema:"free-text search over title and description"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of tasks"`
	Offset     int    `json:"offset,omitempty" jsonschema:"offset for pagination"`
}

type CreateTaskParams struct {
	Title       string `json:"title" jsonschema:"unique task title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty" jsonschema:"low, medium or high (default medium)"`
	Status      string `json:"status,omitempty" jsonschema:"todo, inprogress or done (default todo)"`
	AssignedTo  string `json:"assigned_to,omitempty" jsonschema:"assignee user ID"`
}

type UpdateTaskParams struct {
	ID            string  `json:"id"`
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	Priority      *string `json:"priority,omitempty" jsonschema:"low, medium or high"`
	Status        *string `json:"status,omitempty" jsonschema:"todo, inprogress or done"`
	AssignedTo    *string `json:"assigned_to,omitempty" jsonschema:"assignee user ID"`
	ClearAssignee bool    `json:"clear_assignee,omitempty" jsonschema:"unassign the task"`
	BaseVersion   *int64  `json:"base_version,omitempty" jsonschema:"version you last read; a newer stored version is reported as a conflict"`
}

type ResolveConflictParams struct {
	ID            string  `json:"id"`
	Resolution    string  `json:"resolution" jsonschema:"current or conflicting"`
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	Priority      *string `json:"priority,omitempty" jsonschema:"low, medium or high"`
	Status        *string `json:"status,omitempty" jsonschema:"todo, inprogress or done"`
	AssignedTo    *string `json:"assigned_to,omitempty" jsonschema:"assignee user ID"`
	ClearAssignee bool    `json:"clear_assignee,omitempty" jsonschema:"unassign the task"`
}

type TaskIDParams struct {
	ID string `json:"id"`
}

type RecentActivityParams struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of entries"`
}

// UpdateTaskResponse carries either the applied task or the conflict.
type UpdateTaskResponse struct {
	Status   string               `json:"status"`
	Task     *task.Task           `json:"task,omitempty"`
	Conflict *task.ConflictRecord `json:"conflict,omitempty"`
}

type EditResponse struct {
	TaskID   string `json:"task_id"`
	Acquired bool   `json:"acquired"`
}

type ListTasksResponse struct {
	Tasks []task.Task `json:"tasks"`
}

type RecentActivityResponse struct {
	Entries []activity.Entry `json:"entries"`
}

func (p UpdateTaskParams) fields() task.Fields {
	return buildFields(p.Title, p.Description, p.Priority, p.Status, p.AssignedTo, p.ClearAssignee)
}

func (p ResolveConflictParams) fields() task.Fields {
	return buildFields(p.Title, p.Description, p.Priority, p.Status, p.AssignedTo, p.ClearAssignee)
}

// buildFields converts tool arguments into a partial task update. Omitted
// arguments leave the field unchanged.
func buildFields(title, description, priority, status, assignedTo *string, clearAssignee bool) task.Fields {
	f := task.Fields{Title: title, Description: description}
	if priority != nil {
		pr := task.Priority(*priority)
		f.Priority = &pr
	}
	if status != nil {
		st := task.Status(*status)
		f.Status = &st
	}
	switch {
	case clearAssignee:
		f.AssignedTo = task.ClearID()
	case assignedTo != nil:
		f.AssignedTo = task.SetID(*assignedTo)
	}
	return f
}
