package mcp

import (
	"errors"
	"fmt"

	"github.com/rpggio/taskhub/internal/domain/task"
)

// APIError represents an MCP error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MapError maps domain errors to MCP error codes.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return &APIError{Code: "TASK_NOT_FOUND", Message: "task not found", RecoveryHint: "Call list_tasks to find the ID"}
	case errors.Is(err, task.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: err.Error(), RecoveryHint: "Fix the arguments and retry"}
	case errors.Is(err, task.ErrConflict):
		return &APIError{Code: "CONFLICT", Message: "task modified concurrently", RecoveryHint: "Re-read the task and retry"}
	case errors.Is(err, task.ErrNoCandidates):
		return &APIError{Code: "NO_CANDIDATES", Message: "no members to assign to", RecoveryHint: "Wait for a member to join"}
	default:
		return nil
	}
}

// toolError returns the MCP-facing form of err.
func toolError(err error) error {
	if apiErr := MapError(err); apiErr != nil {
		return apiErr
	}
	return err
}
