package task

import (
	"encoding/json"
	"time"
)

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Status is the board column a task sits in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inprogress"
	StatusDone       Status = "done"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Active reports whether a task in this status counts as assignee load.
func (s Status) Active() bool {
	return s == StatusTodo || s == StatusInProgress
}

// LockState is either unlocked (the zero value) or locked by one identity since a
// point in time.
type LockState struct {
	holder string
	since  time.Time
}

// Unlocked returns the unlocked state.
func Unlocked() LockState { return LockState{} }

// LockedBy returns a lock held by userID since the given time.
func LockedBy(userID string, since time.Time) LockState {
	return LockState{holder: userID, since: since}
}

// Locked reports whether someone holds the lock.
func (l LockState) Locked() bool { return l.holder != "" }

// Holder returns the lock holder, or "" when unlocked.
func (l LockState) Holder() string { return l.holder }

// Since returns when the lock was taken, or the zero time when unlocked.
func (l LockState) Since() time.Time { return l.since }

// HeldByOther reports whether the lock is held by someone other than userID.
func (l LockState) HeldByOther(userID string) bool {
	return l.Locked() && l.holder != userID
}

// Equal reports whether l and o describe the same lock.
func (l LockState) Equal(o LockState) bool {
	return l.holder == o.holder && l.since.Equal(o.since)
}

// StaleAt reports whether the lock is older than threshold at now.
func (l LockState) StaleAt(now time.Time, threshold time.Duration) bool {
	return l.Locked() && l.since.Before(now.Add(-threshold))
}

// Task is a card on the shared board.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Priority     Priority  `json:"priority"`
	Status       Status    `json:"status"`
	AssignedTo   *string   `json:"assignedTo"`
	CreatedBy    string    `json:"createdBy"`
	LastEditedBy *string   `json:"lastEditedBy"`
	Version      int64     `json:"version"`
	Lock         LockState `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MarshalJSON flattens the lock into isBeingEdited, editedBy and editStartTime.
func (t Task) MarshalJSON() ([]byte, error) {
	type plain Task
	out := struct {
		plain
		IsBeingEdited bool       `json:"isBeingEdited"`
		EditedBy      *string    `json:"editedBy"`
		EditStartTime *time.Time `json:"editStartTime"`
	}{plain: plain(t)}
	if t.Lock.Locked() {
		holder, since := t.Lock.Holder(), t.Lock.Since()
		out.IsBeingEdited = true
		out.EditedBy = &holder
		out.EditStartTime = &since
	}
	return json.Marshal(out)
}

// OptionalID distinguishes an absent reference from one explicitly cleared.
type OptionalID struct {
	Set   bool
	Value *string
}

// SetID returns an OptionalID pointing at id; an empty id clears the reference.
func SetID(id string) OptionalID {
	if id == "" {
		return OptionalID{Set: true}
	}
	return OptionalID{Set: true, Value: &id}
}

// ClearID returns an OptionalID that clears the reference.
func ClearID() OptionalID { return OptionalID{Set: true} }

// IsZero reports whether the reference was absent, for omitzero.
func (o OptionalID) IsZero() bool { return !o.Set }

func (o OptionalID) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

func (o *OptionalID) UnmarshalJSON(data []byte) error {
	o.Set = true
	o.Value = nil
	if string(data) == "null" {
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	if id != "" {
		o.Value = &id
	}
	return nil
}

// Fields is a partial set of editable task fields. Nil pointers are left untouched.
type Fields struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	AssignedTo  OptionalID `json:"assignedTo,omitzero"`
}

// FieldsOf returns every editable field of t.
func FieldsOf(t *Task) Fields {
	title, description := t.Title, t.Description
	priority, status := t.Priority, t.Status
	return Fields{
		Title:       &title,
		Description: &description,
		Priority:    &priority,
		Status:      &status,
		AssignedTo:  OptionalID{Set: true, Value: t.AssignedTo},
	}
}

// ListOptions provides filtering options for listing tasks.
type ListOptions struct {
	Status     *Status
	AssigneeID *string
	Query      string
	Limit      int
	Offset     int
}
