// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrActiveEnrollmentExists indicates the (workflow, entity) pair already has an active enrollment.
	ErrActiveEnrollmentExists = errors.New("active enrollment already exists")

	// ErrEnrollmentConflict indicates the stored enrollment is no longer active at the expected step.
	ErrEnrollmentConflict = errors.New("enrollment changed concurrently")

	// ErrStepExecutionNotFound indicates the step guard has not been written yet.
	ErrStepExecutionNotFound = errors.New("step execution not found")

	// ErrLeadNotFound indicates a lead was not found.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrStageNotFound indicates a stage was not found.
	ErrStageNotFound = errors.New("stage not found")

	// ErrContactNotFound indicates no contact details are stored for a user.
	ErrContactNotFound = errors.New("contact not found")
)

// EnrollmentError wraps enrollment-related errors with additional context.
type EnrollmentError struct {
	Op           string // Operation being performed (e.g., "GetByID", "Save")
	EnrollmentID string
	WorkflowID   string
	EntityID     string
	Err          error
}

func (e *EnrollmentError) Error() string {
	target := e.EnrollmentID
	if target == "" {
		target = fmt.Sprintf("workflow %s / entity %s", e.WorkflowID, e.EntityID)
	}

	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, target, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for enrollment errors.
func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// LeadError wraps lead-related errors with additional context.
type LeadError struct {
	Op     string
	LeadID string
	Err    error
}

func (e *LeadError) Error() string {
	return fmt.Sprintf("%s operation failed for lead %s: %v", e.Op, e.LeadID, e.Err)
}

func (e *LeadError) Unwrap() error {
	return e.Err
}

func (e *LeadError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsEnrollmentNotFound checks if an error indicates an enrollment was not found.
func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

// IsActiveEnrollmentExists checks if an error indicates a duplicate active enrollment.
func IsActiveEnrollmentExists(err error) bool {
	return errors.Is(err, ErrActiveEnrollmentExists)
}

// IsEnrollmentConflict checks if an error indicates a lost compare-and-swap on an enrollment.
func IsEnrollmentConflict(err error) bool {
	return errors.Is(err, ErrEnrollmentConflict)
}

// IsLeadNotFound checks if an error indicates a lead was not found.
func IsLeadNotFound(err error) bool {
	return errors.Is(err, ErrLeadNotFound)
}

// IsStageNotFound checks if an error indicates a stage was not found.
func IsStageNotFound(err error) bool {
	return errors.Is(err, ErrStageNotFound)
}
