package file

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// EnrollmentRepository handles enrollment and step guard file operations.
type EnrollmentRepository struct {
	store *store
}

func (er *EnrollmentRepository) Create(_ context.Context, enrollment *models.Enrollment) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	if enrollment.Status == models.EnrollmentStatusActive {
		active, err := er.findActive(enrollment.WorkflowID, enrollment.EntityID)
		if err != nil {
			return err
		}

		if active != nil {
			return &persistence.EnrollmentError{
				Op:         "Create",
				WorkflowID: enrollment.WorkflowID,
				EntityID:   enrollment.EntityID,
				Err:        persistence.ErrActiveEnrollmentExists,
			}
		}
	}

	return er.store.write(enrollmentsDir, enrollment.ID, enrollment)
}

func (er *EnrollmentRepository) Save(_ context.Context, enrollment *models.Enrollment, expectedStepIndex int) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	var stored models.Enrollment

	found, err := er.store.read(enrollmentsDir, enrollment.ID, &stored)
	if err != nil {
		return err
	}

	if !found || stored.Status != models.EnrollmentStatusActive || stored.CurrentStepIndex != expectedStepIndex {
		return &persistence.EnrollmentError{Op: "Save", EnrollmentID: enrollment.ID, Err: persistence.ErrEnrollmentConflict}
	}

	return er.store.write(enrollmentsDir, enrollment.ID, enrollment)
}

func (er *EnrollmentRepository) GetByID(_ context.Context, id string) (*models.Enrollment, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	var enrollment models.Enrollment

	found, err := er.store.read(enrollmentsDir, id, &enrollment)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, &persistence.EnrollmentError{Op: "GetByID", EnrollmentID: id, Err: persistence.ErrEnrollmentNotFound}
	}

	return &enrollment, nil
}

func (er *EnrollmentRepository) FindActive(_ context.Context, workflowID, entityID string) (*models.Enrollment, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	active, err := er.findActive(workflowID, entityID)
	if err != nil {
		return nil, err
	}

	if active == nil {
		return nil, &persistence.EnrollmentError{
			Op:         "FindActive",
			WorkflowID: workflowID,
			EntityID:   entityID,
			Err:        persistence.ErrEnrollmentNotFound,
		}
	}

	return active, nil
}

func (er *EnrollmentRepository) findActive(workflowID, entityID string) (*models.Enrollment, error) {
	enrollments, err := readAll[*models.Enrollment](er.store, enrollmentsDir)
	if err != nil {
		return nil, err
	}

	for _, enrollment := range enrollments {
		if enrollment.WorkflowID == workflowID &&
			enrollment.EntityID == entityID &&
			enrollment.Status == models.EnrollmentStatusActive {
			return enrollment, nil
		}
	}

	return nil, nil
}

func (er *EnrollmentRepository) ListByEntity(_ context.Context, entityID string) ([]*models.Enrollment, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	enrollments, err := readAll[*models.Enrollment](er.store, enrollmentsDir)
	if err != nil {
		return nil, err
	}

	result := make([]*models.Enrollment, 0)

	for _, enrollment := range enrollments {
		if enrollment.EntityID == entityID {
			result = append(result, enrollment)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].EnrolledAt.Before(result[j].EnrolledAt)
	})

	return result, nil
}

func (er *EnrollmentRepository) CountActiveByWorkflow(_ context.Context, workflowID string) (int, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	enrollments, err := readAll[*models.Enrollment](er.store, enrollmentsDir)
	if err != nil {
		return 0, err
	}

	count := 0

	for _, enrollment := range enrollments {
		if enrollment.WorkflowID == workflowID && enrollment.Status == models.EnrollmentStatusActive {
			count++
		}
	}

	return count, nil
}

func (er *EnrollmentRepository) Due(_ context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	enrollments, err := readAll[*models.Enrollment](er.store, enrollmentsDir)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Enrollment, 0)

	for _, enrollment := range enrollments {
		if enrollment.Status == models.EnrollmentStatusActive &&
			enrollment.NextWakeAt != nil &&
			!enrollment.NextWakeAt.After(now) {
			due = append(due, enrollment)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextWakeAt.Before(*due[j].NextWakeAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func stepKey(enrollmentID string, stepIndex int) string {
	return enrollmentID + "_" + strconv.Itoa(stepIndex)
}

func (er *EnrollmentRepository) MarkStepExecuted(_ context.Context, execution models.StepExecution) (bool, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	key := stepKey(execution.EnrollmentID, execution.StepIndex)
	if er.store.exists(stepExecutionsDir, key) {
		return false, nil
	}

	err := er.store.write(stepExecutionsDir, key, execution)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (er *EnrollmentRepository) StepExecution(_ context.Context, enrollmentID string, stepIndex int) (*models.StepExecution, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	var execution models.StepExecution

	found, err := er.store.read(stepExecutionsDir, stepKey(enrollmentID, stepIndex), &execution)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrStepExecutionNotFound
	}

	return &execution, nil
}
