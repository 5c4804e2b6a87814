// Package services provides the workflow and run use cases shared by the HTTP API, the CLI and the schedule runner.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/canvasflow/pkg/failure"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrWorkflowNil      = errors.New("workflow cannot be nil")
	ErrGraphRequired    = errors.New("a workflow_id or an inline graph is required")
	ErrAmbiguousRequest = errors.New("workflow_id and an inline graph are mutually exclusive")
	ErrInvalidSchedule  = errors.New("invalid schedule")

	// Business Logic Conflicts (409 Conflict).
	ErrRunFinished = errors.New("run already finished")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
// Graph configuration errors count as validation errors.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrGraphRequired) ||
		errors.Is(err, ErrAmbiguousRequest) ||
		errors.Is(err, ErrInvalidSchedule) ||
		failure.IsConfig(err)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrRunFinished)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
