package activity

import "time"

// Action is the kind of mutation an entry records.
type Action string

const (
	ActionCreated          Action = "created"
	ActionUpdated          Action = "updated"
	ActionDeleted          Action = "deleted"
	ActionAssigned         Action = "assigned"
	ActionMoved            Action = "moved"
	ActionConflictResolved Action = "conflict_resolved"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionDeleted, ActionAssigned, ActionMoved, ActionConflictResolved:
		return true
	}
	return false
}

// Entry is an immutable audit record of a state-changing action.
type Entry struct {
	ID        int64          `json:"id"`
	Action    Action         `json:"action"`
	ActorID   string         `json:"userId"`
	ActorName string         `json:"username"`
	TaskID    *string        `json:"taskId,omitempty"`
	TaskTitle *string        `json:"taskTitle,omitempty"`
	Details   string         `json:"details,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
