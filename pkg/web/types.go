package web

import (
	"github.com/dukex/leadflow/pkg/models"
)

type EnrollRequest struct {
	LeadID string `json:"lead_id" validate:"required"`
}

type CancelEnrollmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type WorkflowStatusRequest struct {
	Status models.WorkflowStatus `json:"status" validate:"required,oneof=active inactive"`
}

type UpdatePreferencesRequest struct {
	Preferences []models.NotificationPreference `json:"preferences" validate:"required,min=1"`
}
