// Package models defines the core domain models for lead lifecycle automation
package models

import (
	"math"
	"time"
)

// WorkflowStatus represents whether a workflow accepts new enrollments.
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "active"   // Accepts enrollments
	WorkflowStatusInactive WorkflowStatus = "inactive" // Existing enrollments keep running, no new ones
)

// StepType is the closed set of step kinds a workflow may contain.
type StepType string

const (
	StepTypeTrigger   StepType = "trigger"
	StepTypeCondition StepType = "condition"
	StepTypeAction    StepType = "action"
	StepTypeDelay     StepType = "delay"
)

func (t StepType) Valid() bool {
	switch t {
	case StepTypeTrigger, StepTypeCondition, StepTypeAction, StepTypeDelay:
		return true
	default:
		return false
	}
}

// ActionKind is the closed set of actions a workflow step may execute.
type ActionKind string

const (
	ActionSendEmail     ActionKind = "send_email"
	ActionSendSMS       ActionKind = "send_sms"
	ActionCreateTask    ActionKind = "create_task"
	ActionUpdateLead    ActionKind = "update_lead"
	ActionAssignAdvisor ActionKind = "assign_advisor"
	ActionChangeStage   ActionKind = "change_stage"
)

// ActionKinds lists every action kind known to the scheduler.
func ActionKinds() []ActionKind {
	return []ActionKind{
		ActionSendEmail,
		ActionSendSMS,
		ActionCreateTask,
		ActionUpdateLead,
		ActionAssignAdvisor,
		ActionChangeStage,
	}
}

func (k ActionKind) Valid() bool {
	for _, known := range ActionKinds() {
		if k == known {
			return true
		}
	}

	return false
}

// DelayUnit is the unit of a delay step.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
	DelayUnitWeeks   DelayUnit = "weeks"
)

// Duration converts amount units into a time.Duration. It returns false for unknown units and
// for negative amounts or amounts that do not fit in a time.Duration.
func (u DelayUnit) Duration(amount int) (time.Duration, bool) {
	var unit time.Duration

	switch u {
	case DelayUnitMinutes:
		unit = time.Minute
	case DelayUnitHours:
		unit = time.Hour
	case DelayUnitDays:
		unit = 24 * time.Hour
	case DelayUnitWeeks:
		unit = 7 * 24 * time.Hour
	default:
		return 0, false
	}

	if amount < 0 || int64(amount) > math.MaxInt64/int64(unit) {
		return 0, false
	}

	return time.Duration(amount) * unit, true
}

// TriggerStep gates entry into a workflow. Only valid as the first step.
type TriggerStep struct {
	Type       string      `json:"type"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// ConditionStep branches on a single field comparison.
type ConditionStep struct {
	Condition
}

// ActionStep executes one action kind with its configuration.
type ActionStep struct {
	Kind   ActionKind     `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

// DelayStep pauses an enrollment.
type DelayStep struct {
	Amount int       `json:"amount"`
	Unit   DelayUnit `json:"unit"`
}

// Step is a tagged variant: exactly one of Trigger, Condition, Action or Delay is set, matching Type.
// Edges reference other steps by ID; an empty Next means "the following step".
type Step struct {
	ID        string         `json:"id"`
	Index     int            `json:"index"`
	Type      StepType       `json:"type"`
	Title     string         `json:"title,omitempty"`
	Trigger   *TriggerStep   `json:"trigger,omitempty"`
	Condition *ConditionStep `json:"condition,omitempty"`
	Action    *ActionStep    `json:"action,omitempty"`
	Delay     *DelayStep     `json:"delay,omitempty"`
	Next      string         `json:"next,omitempty"`
	TrueNext  string         `json:"true_next,omitempty"`
	FalseNext string         `json:"false_next,omitempty"`
}

// WorkflowDefinition is an ordered list of steps applied to leads over time.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"                  validate:"required,min=3"`
	Description string         `json:"description,omitempty"`
	Status      WorkflowStatus `json:"status"                validate:"required,oneof=active inactive"`
	Version     int            `json:"version"`
	Steps       []Step         `json:"steps"                 validate:"required,min=1"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (w *WorkflowDefinition) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// WorkflowDocument is the external JSON form of a workflow definition, as produced by
// the visual builder or the generation assistant.
type WorkflowDocument struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Elements    []WorkflowElement `json:"elements"`
}

// WorkflowElement is one element of a WorkflowDocument.
type WorkflowElement struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	Next      string         `json:"next,omitempty"`
	TrueNext  string         `json:"trueNext,omitempty"`
	FalseNext string         `json:"falseNext,omitempty"`
}
