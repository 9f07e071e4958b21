// Package services provides the application operations behind the HTTP API and their standardized
// error types.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/stage"
	"github.com/dukex/leadflow/pkg/workflow"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidStatus  = errors.New("invalid workflow status")
	ErrEmptyUserID    = errors.New("user ID cannot be empty")

	// Business Logic Conflicts (409 Conflict).
	ErrWorkflowHasActiveEnrollments = errors.New("workflow has active enrollments")
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
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrEmptyUserID) ||
		errors.Is(err, workflow.ErrInvalidDocument) ||
		errors.Is(err, workflow.ErrInvalidDefinition) ||
		errors.Is(err, workflow.ErrBulkWorkflowRequired) ||
		errors.Is(err, stage.ErrUnknownEventKind) ||
		errors.Is(err, stage.ErrSameStage) ||
		stage.IsInvalidTrigger(err)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowHasActiveEnrollments) ||
		errors.Is(err, workflow.ErrWorkflowInactive) ||
		errors.Is(err, persistence.ErrActiveEnrollmentExists)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsWorkflowNotFound(err) ||
		persistence.IsEnrollmentNotFound(err) ||
		persistence.IsLeadNotFound(err) ||
		persistence.IsStageNotFound(err)
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
