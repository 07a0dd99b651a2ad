package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic concurrency check fails
	ErrConflict = errors.New("conflict: entity version changed")
	// ErrDuplicate is returned when a unique constraint fails
	ErrDuplicate = errors.New("duplicate")
)
