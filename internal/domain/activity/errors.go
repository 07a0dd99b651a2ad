package activity

import "errors"

var (
	// ErrInvalidInput indicates an entry is missing required fields.
	ErrInvalidInput = errors.New("invalid activity input")
	// ErrDegraded indicates the audit entry could not be persisted. The mutation
	// that produced it has already been applied.
	ErrDegraded = errors.New("activity log degraded")
)
