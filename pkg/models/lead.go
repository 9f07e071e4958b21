package models

import (
	"strings"
	"time"
)

// ReviewStatus is the review state of a document or requirement.
type ReviewStatus string

const (
	ReviewStatusPending   ReviewStatus = "pending"
	ReviewStatusApproved  ReviewStatus = "approved"
	ReviewStatusRejected  ReviewStatus = "rejected"
	ReviewStatusCompleted ReviewStatus = "completed"
)

type Document struct {
	ID       string       `json:"id"`
	StageID  string       `json:"stage_id,omitempty"`
	Name     string       `json:"name,omitempty"`
	Required bool         `json:"required"`
	Status   ReviewStatus `json:"status"`
}

type Requirement struct {
	ID       string       `json:"id"`
	StageID  string       `json:"stage_id,omitempty"`
	Name     string       `json:"name,omitempty"`
	Required bool         `json:"required"`
	Status   ReviewStatus `json:"status"`
}

type Payment struct {
	ID         string    `json:"id"`
	Amount     float64   `json:"amount"`
	Context    string    `json:"context,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

type FormSubmission struct {
	FormID      string    `json:"form_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Task is a follow-up item created for an advisor by a workflow action.
type Task struct {
	ID          string     `json:"id"`
	LeadID      string     `json:"lead_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Lead is the entity state snapshot consumed by conditions and stage triggers.
type Lead struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id,omitempty"` // Student portal account, if any
	FirstName       string           `json:"first_name,omitempty"`
	LastName        string           `json:"last_name,omitempty"`
	Email           string           `json:"email,omitempty"`
	Phone           string           `json:"phone,omitempty"`
	StageID         string           `json:"stage_id"`
	StageEnteredAt  time.Time        `json:"stage_entered_at"`
	AdvisorID       string           `json:"advisor_id,omitempty"`
	Fields          map[string]any   `json:"fields,omitempty"`
	Documents       []Document       `json:"documents,omitempty"`
	Requirements    []Requirement    `json:"requirements,omitempty"`
	Payments        []Payment        `json:"payments,omitempty"`
	FormSubmissions []FormSubmission `json:"form_submissions,omitempty"`
	Tasks           []Task           `json:"tasks,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Lookup resolves built-in attributes first, then free-form fields. Nested fields use dots
// ("fields.address.country" or "address.country").
func (l *Lead) Lookup(field string) (any, bool) {
	switch field {
	case "id":
		return l.ID, true
	case "user_id":
		return l.UserID, true
	case "first_name":
		return l.FirstName, true
	case "last_name":
		return l.LastName, true
	case "email":
		return l.Email, true
	case "phone":
		return l.Phone, true
	case "stage_id":
		return l.StageID, true
	case "advisor_id":
		return l.AdvisorID, true
	}

	path := strings.Split(strings.TrimPrefix(field, "fields."), ".")

	var current any = l.Fields

	for _, part := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// TemplateData exposes the lead to message templates.
func (l *Lead) TemplateData() map[string]any {
	return map[string]any{
		"id":         l.ID,
		"first_name": l.FirstName,
		"last_name":  l.LastName,
		"email":      l.Email,
		"phone":      l.Phone,
		"stage_id":   l.StageID,
		"advisor_id": l.AdvisorID,
		"fields":     l.Fields,
	}
}

// LeadFilter narrows lead listings.
type LeadFilter struct {
	StageID        string
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	UnassignedOnly bool
}

func (f LeadFilter) Matches(lead *Lead) bool {
	if f.StageID != "" && lead.StageID != f.StageID {
		return false
	}

	if f.CreatedAfter != nil && lead.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}

	if f.CreatedBefore != nil && !lead.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}

	if f.UnassignedOnly && lead.AdvisorID != "" {
		return false
	}

	return true
}
