package event

import "context"

// Name identifies an event pushed to connected clients.
type Name string

const (
	TaskCreated         Name = "task-created"
	TaskUpdated         Name = "task-updated"
	TaskDeleted         Name = "task-deleted"
	ConflictDetected    Name = "conflict-detected"
	ActivityLogged      Name = "activity-logged"
	EditingStarted      Name = "editing-started"
	EditingStopped      Name = "editing-stopped"
	PresenceListUpdated Name = "presence-list-updated"
	UserTyping          Name = "user-typing"
	UserStoppedTyping   Name = "user-stopped-typing"
	RecentActivity      Name = "recent-activity"
)

// Event is a single outbound notification.
type Event struct {
	Name    Name `json:"event"`
	Payload any  `json:"payload,omitempty"`
	// Except names an identity whose connections are skipped.
	Except string `json:"-"`
}

// Publisher fans events out to connected clients. Implementations must not block
// on slow recipients.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// EditingPayload is carried by editing-started and editing-stopped.
type EditingPayload struct {
	TaskID   string `json:"taskId"`
	EditedBy string `json:"editedBy,omitempty"`
}

// TaskDeletedPayload is carried by task-deleted.
type TaskDeletedPayload struct {
	TaskID string `json:"taskId"`
}

// TypingPayload is carried by the typing passthrough events.
type TypingPayload struct {
	TaskID   string `json:"taskId,omitempty"`
	Field    string `json:"field,omitempty"`
	Username string `json:"username"`
}
