package models

import "time"

// Stage is a named position in a lead's pipeline.
type Stage struct {
	ID                string   `json:"id"                            validate:"required"`
	Name              string   `json:"name"                          validate:"required"`
	Position          int      `json:"position"`
	NextStageID       string   `json:"next_stage_id,omitempty"`
	EnrollWorkflowIDs []string `json:"enroll_workflow_ids,omitempty"` // Workflows a lead joins on entering this stage
	AdminUserIDs      []string `json:"admin_user_ids,omitempty"`
}

// TriggerType is the closed set of stage transition predicates.
type TriggerType string

const (
	TriggerAllDocumentsApproved     TriggerType = "all_documents_approved"
	TriggerSpecificDocumentApproved TriggerType = "specific_document_approved"
	TriggerPaymentReceived          TriggerType = "payment_received"
	TriggerFormSubmitted            TriggerType = "form_submitted"
	TriggerManualApproval           TriggerType = "manual_approval"
	TriggerTimeElapsed              TriggerType = "time_elapsed"
	TriggerAllRequirementsCompleted TriggerType = "all_requirements_completed"
)

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerAllDocumentsApproved, TriggerSpecificDocumentApproved, TriggerPaymentReceived,
		TriggerFormSubmitted, TriggerManualApproval, TriggerTimeElapsed, TriggerAllRequirementsCompleted:
		return true
	default:
		return false
	}
}

// TriggerConfig carries the type-specific settings of a stage trigger.
type TriggerConfig struct {
	DocumentID     string  `json:"document_id,omitempty"`
	FormID         string  `json:"form_id,omitempty"`
	Amount         float64 `json:"amount,omitempty"            validate:"gte=0"`
	PaymentContext string  `json:"payment_context,omitempty"`
	Duration       string  `json:"duration,omitempty"` // Go duration or whole days ("3d")
	TargetStageID  string  `json:"target_stage_id,omitempty"`
}

// StageTransitionTrigger advances a lead out of StageID when its predicate holds.
type StageTransitionTrigger struct {
	ID            string        `json:"id"`
	StageID       string        `json:"stage_id"       validate:"required"`
	TriggerType   TriggerType   `json:"trigger_type"   validate:"required,oneof=all_documents_approved specific_document_approved payment_received form_submitted manual_approval time_elapsed all_requirements_completed"`
	IsActive      bool          `json:"is_active"`
	NotifyStudent bool          `json:"notify_student"`
	NotifyAdmin   bool          `json:"notify_admin"`
	Config        TriggerConfig `json:"config"`
	CreatedAt     time.Time     `json:"created_at"`
}

// EventKind identifies an external fact change reported to the evaluator.
type EventKind string

const (
	EventDocumentApproved     EventKind = "document_approved"
	EventRequirementCompleted EventKind = "requirement_completed"
	EventPaymentReceived      EventKind = "payment_received"
	EventFormSubmitted        EventKind = "form_submitted"
	EventManualApproval       EventKind = "manual_approval"
	EventTimeElapsed          EventKind = "time_elapsed"
)

// TriggerTypes returns the trigger types an event of this kind can satisfy.
func (k EventKind) TriggerTypes() []TriggerType {
	switch k {
	case EventDocumentApproved:
		return []TriggerType{TriggerAllDocumentsApproved, TriggerSpecificDocumentApproved, TriggerAllRequirementsCompleted}
	case EventRequirementCompleted:
		return []TriggerType{TriggerAllRequirementsCompleted}
	case EventPaymentReceived:
		return []TriggerType{TriggerPaymentReceived}
	case EventFormSubmitted:
		return []TriggerType{TriggerFormSubmitted}
	case EventManualApproval:
		return []TriggerType{TriggerManualApproval}
	case EventTimeElapsed:
		return []TriggerType{TriggerTimeElapsed}
	default:
		return nil
	}
}

// StageTransition is the audit record of a fired transition.
type StageTransition struct {
	ID          string      `json:"id"`
	LeadID      string      `json:"lead_id"`
	FromStageID string      `json:"from_stage_id"`
	ToStageID   string      `json:"to_stage_id"`
	TriggerID   string      `json:"trigger_id,omitempty"`
	TriggerType TriggerType `json:"trigger_type,omitempty"`
	At          time.Time   `json:"at"`
}
