package task

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound indicates the task doesn't exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidInput indicates a validation failure.
	ErrInvalidInput = errors.New("invalid task input")
	// ErrTitleRequired indicates an empty title.
	ErrTitleRequired = fmt.Errorf("%w: title is required", ErrInvalidInput)
	// ErrDuplicateTitle indicates another task already uses the title.
	ErrDuplicateTitle = fmt.Errorf("%w: task title must be unique", ErrInvalidInput)
	// ErrReservedTitle indicates the title matches a column name.
	ErrReservedTitle = fmt.Errorf("%w: task title cannot match column names", ErrInvalidInput)
	// ErrInvalidPriority indicates an unknown priority.
	ErrInvalidPriority = fmt.Errorf("%w: unknown priority", ErrInvalidInput)
	// ErrInvalidStatus indicates an unknown status.
	ErrInvalidStatus = fmt.Errorf("%w: unknown status", ErrInvalidInput)
	// ErrInvalidResolution indicates a resolution label other than current or conflicting.
	ErrInvalidResolution = fmt.Errorf("%w: resolution must be current or conflicting", ErrInvalidInput)
	// ErrConflict indicates the task changed underneath a write that cannot report
	// a conflict record.
	ErrConflict = errors.New("task modified concurrently")
	// ErrNoCandidates indicates smart assignment had nobody to choose from.
	ErrNoCandidates = errors.New("no assignment candidates")
)
