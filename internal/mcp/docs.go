package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `taskhub is a shared task board. Every change you make is seen live by the people on the board.

Model:
- Task: title (unique), description, priority (low|medium|high), status (todo|inprogress|done), assignee, version.
- Version increases by one on every applied change. Pass the version you last read to update_task to detect stale writes.
- Edit lock: a soft, advisory marker that someone is editing a task. Locks expire after a few minutes of inactivity.

Workflow:
1) Read: list_tasks (filter by status, assignee, or free-text query) and recent_activity.
2) Before a longer edit call start_edit; call stop_edit when done.
3) Write with update_task. If it returns a conflict, read both versions, merge, then call resolve_conflict with the merged fields.
4) Use smart_assign to hand a task to the member with the fewest open tasks.

Docs:
- taskhub://docs/conflicts
- taskhub://docs/edit-locks
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "taskhub://docs/conflicts",
		Name:        "docs_conflicts",
		Title:       "Conflicts",
		Description: "When update_task refuses a change and how to resolve it.",
		Content: `# Conflicts

update_task returns a conflict instead of applying your change when:

- **locked**: someone else holds the edit lock on the task.
- **stale**: you passed base_version and the task has moved on since.

The conflict carries two field sets:

- current_version: the change you submitted.
- conflicting_version: what is stored now.

Pick one, or merge them, and call resolve_conflict with the final fields and
resolution set to "current" (you kept yours) or "conflicting" (you kept theirs).
Resolving always applies, clears the edit lock, and bumps the version.
`,
	},
	{
		URI:         "taskhub://docs/edit-locks",
		Name:        "docs_edit_locks",
		Title:       "Edit locks",
		Description: "How soft edit locks are taken, released and expired.",
		Content: `# Edit locks

- start_edit takes the lock only if nobody holds it. It reports acquired=false otherwise.
- stop_edit releases the lock no matter who holds it.
- Any applied update clears the lock.
- Locks older than the stale threshold are cleared by a background sweep.
- Locks held by a member are released when their last connection drops.

Locks never block reads and never block smart_assign.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
