package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// BulkRequest selects the leads to enroll in a workflow. Conditions are ANDed.
type BulkRequest struct {
	WorkflowID     string             `json:"workflow_id"               validate:"required"`
	Conditions     []models.Condition `json:"conditions,omitempty"      validate:"dive"`
	StageID        string             `json:"stage_id,omitempty"`
	CreatedAfter   *time.Time         `json:"created_after,omitempty"`
	CreatedBefore  *time.Time         `json:"created_before,omitempty"`
	UnassignedOnly bool               `json:"unassigned_only,omitempty"`
}

func (r BulkRequest) filter() models.LeadFilter {
	return models.LeadFilter{
		StageID:        r.StageID,
		CreatedAfter:   r.CreatedAfter,
		CreatedBefore:  r.CreatedBefore,
		UnassignedOnly: r.UnassignedOnly,
	}
}

type BulkPreview struct {
	TotalMatching   int `json:"total_matching"`
	AlreadyAssigned int `json:"already_assigned"`
	Eligible        int `json:"eligible"`
}

type BulkResult struct {
	Enrolled      int               `json:"enrolled"`
	Skipped       int               `json:"skipped"`
	Failed        int               `json:"failed"`
	EnrollmentIDs []string          `json:"enrollment_ids"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// PreviewBulkEnrollment counts the leads a bulk enrollment would reach. It has no side effects.
func (s *Scheduler) PreviewBulkEnrollment(ctx context.Context, req BulkRequest) (*BulkPreview, error) {
	if req.WorkflowID == "" {
		return nil, ErrBulkWorkflowRequired
	}

	_, err := s.workflows.GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	leads, err := s.matchingLeads(ctx, req)
	if err != nil {
		return nil, err
	}

	preview := &BulkPreview{TotalMatching: len(leads)}

	for _, lead := range leads {
		active, err := s.hasActiveEnrollment(ctx, req.WorkflowID, lead.ID)
		if err != nil {
			return nil, err
		}

		if active {
			preview.AlreadyAssigned++
		}
	}

	preview.Eligible = preview.TotalMatching - preview.AlreadyAssigned

	return preview, nil
}

// BulkEnroll enrolls every matching lead without an active enrollment in the workflow.
// Each lead is independent: a failure is recorded and the rest continue.
func (s *Scheduler) BulkEnroll(ctx context.Context, req BulkRequest, now time.Time) (*BulkResult, error) {
	if req.WorkflowID == "" {
		return nil, ErrBulkWorkflowRequired
	}

	definition, err := s.workflows.GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	if !definition.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowInactive, req.WorkflowID)
	}

	leads, err := s.matchingLeads(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &BulkResult{EnrollmentIDs: make([]string, 0, len(leads))}

	for _, lead := range leads {
		active, err := s.hasActiveEnrollment(ctx, req.WorkflowID, lead.ID)
		if err != nil {
			return result, err
		}

		if active {
			result.Skipped++

			continue
		}

		enrollment, err := s.Enroll(ctx, req.WorkflowID, lead.ID, now)
		if err != nil {
			result.Failed++

			if result.Errors == nil {
				result.Errors = make(map[string]string)
			}

			result.Errors[lead.ID] = err.Error()

			continue
		}

		result.Enrolled++
		result.EnrollmentIDs = append(result.EnrollmentIDs, enrollment.ID)
	}

	s.logger.InfoContext(ctx, "Bulk enrollment finished",
		"workflow_id", req.WorkflowID,
		"enrolled", result.Enrolled,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)

	return result, nil
}

func (s *Scheduler) matchingLeads(ctx context.Context, req BulkRequest) ([]*models.Lead, error) {
	leads, err := s.leads.List(ctx, req.filter())
	if err != nil {
		return nil, err
	}

	matching := make([]*models.Lead, 0, len(leads))

	for _, lead := range leads {
		ok, err := models.EvaluateAll(req.Conditions, lead)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, models.ErrFieldNotFound) {
				level = slog.LevelDebug
			}

			s.logger.Log(ctx, level, "Lead skipped, bulk condition evaluation failed",
				"workflow_id", req.WorkflowID,
				"lead_id", lead.ID,
				"error", err,
			)

			continue
		}

		if !ok {
			continue
		}

		matching = append(matching, lead)
	}

	return matching, nil
}

func (s *Scheduler) hasActiveEnrollment(ctx context.Context, workflowID, entityID string) (bool, error) {
	_, err := s.enrollments.FindActive(ctx, workflowID, entityID)
	if err == nil {
		return true, nil
	}

	if persistence.IsEnrollmentNotFound(err) {
		return false, nil
	}

	return false, err
}
