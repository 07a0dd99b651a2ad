package task

// ConflictReason says why an update was not applied.
type ConflictReason string

const (
	// ConflictLocked means another identity holds the edit lock.
	ConflictLocked ConflictReason = "locked"
	// ConflictStale means the submitter's base version is behind the store.
	ConflictStale ConflictReason = "stale"
)

// Resolution labels accepted by ResolveConflict.
const (
	KeepCurrent     = "current"
	KeepConflicting = "conflicting"
)

// ConflictRecord pairs a rejected change with the state it collided with. It lives
// only for one detection-to-resolution round trip.
type ConflictRecord struct {
	TaskID             string         `json:"taskId"`
	Reason             ConflictReason `json:"reason"`
	CurrentVersion     Fields         `json:"currentVersion"`
	ConflictingVersion Fields         `json:"conflictingVersion"`
	EditedBy           *string        `json:"editedBy,omitempty"`
	StoredVersion      int64          `json:"storedVersion"`
}

func newConflict(reason ConflictReason, stored *Task, submitted Fields) *ConflictRecord {
	c := &ConflictRecord{
		TaskID:             stored.ID,
		Reason:             reason,
		CurrentVersion:     submitted,
		ConflictingVersion: FieldsOf(stored),
		StoredVersion:      stored.Version,
	}
	if stored.Lock.Locked() {
		holder := stored.Lock.Holder()
		c.EditedBy = &holder
	}
	return c
}
