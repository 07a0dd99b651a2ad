package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/taskhub/internal/domain/activity"
	"github.com/rpggio/taskhub/internal/domain/task"
	"github.com/rpggio/taskhub/internal/domain/user"
)

type tools struct {
	svc Services
}

func registerTools(server *sdkmcp.Server, svc Services) {
	t := &tools{svc: svc}

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks newest first, optionally filtered by status, assignee or a free-text query",
	}, t.listTasks)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "create_task",
		Description: "Create a task. Titles must be unique and cannot be a column name",
	}, t.createTask)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "update_task",
		Description: "Apply a partial update. Returns a conflict instead when someone else is editing the task or base_version is stale",
	}, t.updateTask)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "resolve_conflict",
		Description: "Apply the fields chosen after a conflict, unconditionally",
	}, t.resolveConflict)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "smart_assign",
		Description: "Assign the task to the member with the fewest open tasks",
	}, t.smartAssign)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "start_edit",
		Description: "Mark the task as being edited by you. Does nothing if someone already is",
	}, t.startEdit)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "stop_edit",
		Description: "Clear the edit marker on the task",
	}, t.stopEdit)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "recent_activity",
		Description: "Show the latest activity on the board, newest first",
	}, t.recentActivity)
}

func (t *tools) listTasks(ctx context.Context, _ *sdkmcp.CallToolRequest, in ListTasksParams) (*sdkmcp.CallToolResult, any, error) {
	opts := task.ListOptions{Query: in.Query, Limit: in.Limit, Offset: in.Offset}
	if in.Status != "" {
		st := task.Status(in.Status)
		if !st.Valid() {
			return nil, nil, toolError(task.ErrInvalidStatus)
		}
		opts.Status = &st
	}
	if in.AssignedTo != "" {
		opts.AssigneeID = &in.AssignedTo
	}

	tasks, err := t.svc.Tasks.List(ctx, opts)
	if err != nil {
		return nil, nil, toolError(err)
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	return jsonResult(ListTasksResponse{Tasks: tasks})
}

func (t *tools) createTask(ctx context.Context, _ *sdkmcp.CallToolRequest, in CreateTaskParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := requireIdentity(ctx)
	if err != nil {
		return nil, nil, err
	}
	req := task.CreateRequest{
		Title:       in.Title,
		Description: in.Description,
		Priority:    task.Priority(in.Priority),
		Status:      task.Status(in.Status),
	}
	if in.AssignedTo != "" {
		req.AssignedTo = &in.AssignedTo
	}

	created, err := t.svc.Tasks.Create(ctx, actor, req)
	if err != nil {
		return nil, nil, toolError(err)
	}
	return jsonResult(created)
}

func (t *tools) updateTask(ctx context.Context, _ *sdkmcp.CallToolRequest, in UpdateTaskParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := requireIdentity(ctx)
	if err != nil {
		return nil, nil, err
	}

	updated, conflict, err := t.svc.Tasks.AttemptUpdate(ctx, actor, task.UpdateRequest{
		ID:          in.ID,
		Fields:      in.fields(),
		BaseVersion: in.BaseVersion,
	})
	if err != nil {
		return nil, nil, toolError(err)
	}
	if conflict != nil {
		return jsonResult(UpdateTaskResponse{Status: "conflict", Conflict: conflict})
	}
	return jsonResult(UpdateTaskResponse{Status: "applied", Task: updated})
}

func (t *tools) resolveConflict(ctx context.Context, _ *sdkmcp.CallToolRequest, in ResolveConflictParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := requireIdentity(ctx)
	if err != nil {
		return nil, nil, err
	}

	resolved, err := t.svc.Tasks.ResolveConflict(ctx, actor, task.ResolveRequest{
		ID:         in.ID,
		Fields:     in.fields(),
		Resolution: in.Resolution,
	})
	if err != nil {
		return nil, nil, toolError(err)
	}
	return jsonResult(resolved)
}

func (t *tools) smartAssign(ctx context.Context, _ *sdkmcp.CallToolRequest, in TaskIDParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := requireIdentity(ctx)
	if err != nil {
		return nil, nil, err
	}
	users, err := t.svc.Users.List(ctx)
	if err != nil {
		return nil, nil, toolError(err)
	}
	candidates := make([]user.Identity, 0, len(users))
	for _, u := range users {
		candidates = append(candidates, user.Identity{ID: u.ID, Username: u.Username})
	}

	assigned, err := t.svc.Tasks.SmartAssign(ctx, actor, in.ID, candidates)
	if err != nil {
		return nil, nil, toolError(err)
	}
	return jsonResult(assigned)
}

func (t *tools) startEdit(ctx context.Context, _ *sdkmcp.CallToolRequest, in TaskIDParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := requireIdentity(ctx)
	if err != nil {
		return nil, nil, err
	}
	acquired, err := t.svc.Tasks.StartEdit(ctx, actor, in.ID)
	if err != nil {
		return nil, nil, toolError(err)
	}
	return jsonResult(EditResponse{TaskID: in.ID, Acquired: acquired})
}

func (t *tools) stopEdit(ctx context.Context, _ *sdkmcp.CallToolRequest, in TaskIDParams) (*sdkmcp.CallToolResult, any, error) {
	actor, err := requireIdentity(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := t.svc.Tasks.StopEdit(ctx, actor, in.ID); err != nil {
		return nil, nil, toolError(err)
	}
	return jsonResult(EditResponse{TaskID: in.ID})
}

func (t *tools) recentActivity(ctx context.Context, _ *sdkmcp.CallToolRequest, in RecentActivityParams) (*sdkmcp.CallToolResult, any, error) {
	entries, err := t.svc.Activities.Recent(ctx, in.Limit)
	if err != nil {
		return nil, nil, toolError(err)
	}
	resp := RecentActivityResponse{Entries: entries}
	if resp.Entries == nil {
		resp.Entries = []activity.Entry{}
	}
	return jsonResult(resp)
}

func requireIdentity(ctx context.Context) (user.Identity, error) {
	id, ok := getIdentity(ctx)
	if !ok {
		return user.Identity{}, fmt.Errorf("unauthorized: no identity")
	}
	return id, nil
}

func jsonResult(v any) (*sdkmcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}},
	}, nil, nil
}
