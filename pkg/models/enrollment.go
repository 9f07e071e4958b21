package models

import "time"

// EnrollmentStatus represents the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusExited    EnrollmentStatus = "exited"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
)

func (s EnrollmentStatus) IsTerminal() bool {
	return s != EnrollmentStatusActive
}

// Enrollment is one lead's progress through one workflow.
type Enrollment struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id"`
	WorkflowVersion  int              `json:"workflow_version"`
	EntityID         string           `json:"entity_id"`
	CurrentStepIndex int              `json:"current_step_index"`
	Status           EnrollmentStatus `json:"status"`
	EnrolledAt       time.Time        `json:"enrolled_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	NextWakeAt       *time.Time       `json:"next_wake_at,omitempty"` // Set while paused on a delay step
	LastError        string           `json:"last_error,omitempty"`
	ExitReason       string           `json:"exit_reason,omitempty"`
}

// StepOutcome records how a guarded step execution ended.
type StepOutcome string

const (
	StepOutcomeCompleted StepOutcome = "completed"
	StepOutcomeTrue      StepOutcome = "true"
	StepOutcomeFalse     StepOutcome = "false"
)

// StepExecution is the idempotency guard for (enrollment, step index).
// NextIndex is the step the enrollment moved to; len(steps) means completion, -1 means exit.
type StepExecution struct {
	EnrollmentID string      `json:"enrollment_id"`
	StepIndex    int         `json:"step_index"`
	Outcome      StepOutcome `json:"outcome"`
	NextIndex    int         `json:"next_index"`
	ExecutedAt   time.Time   `json:"executed_at"`
}
