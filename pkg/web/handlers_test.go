package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/cmd"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence/file"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/dukex/leadflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const nurtureDocument = `{
	"name": "MBA nurture",
	"elements": [
		{"id": "welcome", "type": "action", "config": {"kind": "send_email", "subject": "Welcome", "body": "Hi {{ .lead.first_name }}"}},
		{"id": "wait", "type": "delay", "config": {"amount": 2, "unit": "days"}},
		{"id": "reminder", "type": "action", "config": {"kind": "send_sms", "body": "Still interested?"}}
	]
}`

const gatedDocument = `{
	"name": "Payment follow up",
	"elements": [
		{"id": "entry", "type": "trigger", "config": {"trigger_type": "payment_received", "conditions": [{"field": "program", "operator": "equals", "value": "MBA"}]}},
		{"id": "thanks", "type": "action", "config": {"kind": "send_email", "subject": "Thanks", "body": "Received"}}
	]
}`

type testApp struct {
	app   *fiber.App
	p     *file.Persistence
	root  string
	clock *clockwork.FakeClock
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	root := t.TempDir()
	p := file.NewPersistence(root)
	clock := clockwork.NewFakeClockAt(t0)

	core, err := cmd.NewCore(ctx, p, cmd.CoreConfig{ServiceName: "leadflow-test"}, logger)
	require.NoError(t, err)

	for _, stage := range []*models.Stage{
		{ID: "applied", Name: "Applied", NextStageID: "review"},
		{ID: "review", Name: "Review"},
	} {
		require.NoError(t, p.StageRepository().SaveStage(ctx, stage))
	}

	require.NoError(t, p.LeadRepository().Save(ctx, &models.Lead{
		ID:             "lead-1",
		FirstName:      "Ana",
		Email:          "ana@example.com",
		Phone:          "+5511999999999",
		StageID:        "applied",
		Fields:         map[string]any{"program": "Law"},
		StageEnteredAt: t0.Add(-time.Hour),
		CreatedAt:      t0.Add(-time.Hour),
	}))

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(p, core.Registry, clock),
		services.NewEnrollment(core.Scheduler, p.EnrollmentRepository(), clock),
		services.NewTrigger(core.Evaluator, p.StageRepository(), clock),
		services.NewLead(core.Evaluator, clock),
		services.NewPreference(p.NotificationRepository()),
		core.Registry,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	web.Mount(app, handlers)

	return &testApp{app: app, p: p, root: root, clock: clock}
}

func (a *testApp) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload map[string]any
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &payload), string(data))
	}

	return resp.StatusCode, payload
}

func (a *testApp) createWorkflow(t *testing.T, document string) string {
	t.Helper()

	status, body := a.do(t, http.MethodPost, "/workflows", document)
	require.Equal(t, http.StatusCreated, status, body)

	return body["id"].(string)
}

func TestHealthCheck(t *testing.T) {
	a := setupTestApp(t)

	status, body := a.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "checkers")
}

func TestWorkflowEndpoints(t *testing.T) {
	a := setupTestApp(t)

	id := a.createWorkflow(t, nurtureDocument)

	status, body := a.do(t, http.MethodGet, "/workflows/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "MBA nurture", body["name"])
	assert.Equal(t, "active", body["status"])
	assert.InDelta(t, 1, body["version"], 0)
	assert.Len(t, body["steps"], 3)

	status, body = a.do(t, http.MethodGet, "/workflows", nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, body["total_count"], 0)

	status, body = a.do(t, http.MethodPut, "/workflows/"+id, gatedDocument)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Payment follow up", body["name"])
	assert.InDelta(t, 2, body["version"], 0)

	status, body = a.do(t, http.MethodPut, "/workflows/"+id+"/status", web.WorkflowStatusRequest{Status: models.WorkflowStatusInactive})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "inactive", body["status"])

	status, body = a.do(t, http.MethodPut, "/workflows/"+id+"/status", map[string]string{"status": "paused"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["type"])
}

func TestWorkflowEndpoints_Errors(t *testing.T) {
	a := setupTestApp(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "invalid document",
			method:         http.MethodPost,
			path:           "/workflows",
			body:           `{"name": "x", "elements": []}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "invalid definition",
			method:         http.MethodPost,
			path:           "/workflows",
			body:           `{"name": "Broken", "elements": [{"id": "a", "type": "action", "config": {"kind": "launch_rocket"}}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "unknown workflow",
			method:         http.MethodGet,
			path:           "/workflows/missing",
			expectedStatus: http.StatusNotFound,
			expectedType:   "workflow_not_found",
		},
		{
			name:           "unknown enrollment",
			method:         http.MethodGet,
			path:           "/enrollments/missing",
			expectedStatus: http.StatusNotFound,
			expectedType:   "enrollment_not_found",
		},
		{
			name:           "unknown stage",
			method:         http.MethodGet,
			path:           "/stages/missing/triggers",
			expectedStatus: http.StatusNotFound,
			expectedType:   "stage_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := a.do(t, tt.method, tt.path, tt.body)

			assert.Equal(t, tt.expectedStatus, status)
			assert.Equal(t, tt.expectedType, body["type"])
		})
	}
}

func TestInternalErrorsAreNotDetailed(t *testing.T) {
	a := setupTestApp(t)

	dir := filepath.Join(a.root, "workflows")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600))

	status, body := a.do(t, http.MethodGet, "/workflows/broken", nil)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", body["type"])
	assert.Equal(t, "internal server error", body["detail"])
	assert.NotContains(t, fmt.Sprint(body), "invalid character")
}

func TestEnrollmentEndpoints(t *testing.T) {
	a := setupTestApp(t)
	id := a.createWorkflow(t, nurtureDocument)

	status, body := a.do(t, http.MethodPost, "/workflows/"+id+"/enrollments", web.EnrollRequest{LeadID: "lead-1"})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "active", body["status"])
	assert.InDelta(t, 1, body["current_step_index"], 0)

	enrollmentID := body["id"].(string)

	status, body = a.do(t, http.MethodPut, "/workflows/"+id, nurtureDocument)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["type"])

	status, body = a.do(t, http.MethodGet, "/leads/lead-1/enrollments", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["enrollments"], 1)

	a.clock.Advance(48 * time.Hour)

	status, body = a.do(t, http.MethodPost, "/enrollments/"+enrollmentID+"/advance", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "completed", body["status"])

	status, body = a.do(t, http.MethodGet, "/enrollments/"+enrollmentID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", body["status"])
}

func TestEnrollmentEndpoints_Cancel(t *testing.T) {
	a := setupTestApp(t)
	id := a.createWorkflow(t, nurtureDocument)

	_, body := a.do(t, http.MethodPost, "/workflows/"+id+"/enrollments", web.EnrollRequest{LeadID: "lead-1"})
	enrollmentID := body["id"].(string)

	status, body := a.do(t, http.MethodPost, "/enrollments/"+enrollmentID+"/cancel", web.CancelEnrollmentRequest{Reason: "lead unsubscribed"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "exited", body["status"])
	assert.Equal(t, "lead unsubscribed", body["exit_reason"])

	status, body = a.do(t, http.MethodPost, "/enrollments/"+enrollmentID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "lead unsubscribed", body["exit_reason"])
}

func TestEnrollmentEndpoints_Errors(t *testing.T) {
	a := setupTestApp(t)
	nurture := a.createWorkflow(t, nurtureDocument)
	gated := a.createWorkflow(t, gatedDocument)

	status, body := a.do(t, http.MethodPost, "/workflows/"+nurture+"/enrollments", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["type"])

	status, _ = a.do(t, http.MethodPost, "/workflows/"+nurture+"/enrollments", "not-json")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodPost, "/workflows/"+nurture+"/enrollments", web.EnrollRequest{LeadID: "ghost"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "lead_not_found", body["type"])

	status, body = a.do(t, http.MethodPost, "/workflows/"+gated+"/enrollments", web.EnrollRequest{LeadID: "lead-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "entry_trigger_not_satisfied", body["type"])

	status, _ = a.do(t, http.MethodPut, "/workflows/"+nurture+"/status", web.WorkflowStatusRequest{Status: models.WorkflowStatusInactive})
	require.Equal(t, http.StatusOK, status)

	status, body = a.do(t, http.MethodPost, "/workflows/"+nurture+"/enrollments", web.EnrollRequest{LeadID: "lead-1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["type"])
}

func TestBulkEnrollmentEndpoints(t *testing.T) {
	a := setupTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.p.LeadRepository().Save(ctx, &models.Lead{
		ID:        "lead-2",
		Email:     "bia@example.com",
		StageID:   "applied",
		CreatedAt: t0.Add(-time.Hour),
	}))

	require.NoError(t, a.p.LeadRepository().Save(ctx, &models.Lead{
		ID:        "lead-3",
		Email:     "caio@example.com",
		StageID:   "review",
		CreatedAt: t0.Add(-time.Hour),
	}))

	id := a.createWorkflow(t, nurtureDocument)

	status, _ := a.do(t, http.MethodPost, "/workflows/"+id+"/enrollments", web.EnrollRequest{LeadID: "lead-1"})
	require.Equal(t, http.StatusCreated, status)

	filter := map[string]any{"stage_id": "applied"}

	status, body := a.do(t, http.MethodPost, "/workflows/"+id+"/enrollments/preview", filter)
	require.Equal(t, http.StatusOK, status, body)
	assert.InDelta(t, 2, body["total_matching"], 0)
	assert.InDelta(t, 1, body["already_assigned"], 0)
	assert.InDelta(t, 1, body["eligible"], 0)

	status, body = a.do(t, http.MethodPost, "/workflows/"+id+"/enrollments/bulk", filter)
	require.Equal(t, http.StatusOK, status, body)
	assert.InDelta(t, 1, body["enrolled"], 0)
	assert.InDelta(t, 1, body["skipped"], 0)

	status, body = a.do(t, http.MethodPost, "/workflows/missing/enrollments/preview", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow_not_found", body["type"])
}

func TestStageTriggerAndLeadEndpoints(t *testing.T) {
	a := setupTestApp(t)

	status, body := a.do(t, http.MethodPost, "/stages/applied/triggers", services.TriggerRequest{
		TriggerType: models.TriggerManualApproval,
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, true, body["is_active"])

	status, body = a.do(t, http.MethodPost, "/stages/applied/triggers", map[string]any{"trigger_type": "lunar_eclipse"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["type"])

	status, body = a.do(t, http.MethodGet, "/stages/applied/triggers", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["triggers"], 1)

	status, body = a.do(t, http.MethodPost, "/leads/lead-1/events", services.LeadEventRequest{Kind: "lead_sneezed"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["type"])

	status, _ = a.do(t, http.MethodPost, "/leads/lead-1/approve", map[string]string{"stage_id": "applied"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodPost, "/leads/ghost/approve", services.ApproveRequest{StageID: "applied", ApproverID: "admin-1"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "lead_not_found", body["type"])

	status, body = a.do(t, http.MethodPost, "/leads/lead-1/approve", services.ApproveRequest{StageID: "applied", ApproverID: "admin-1"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["transitioned"])
	assert.Equal(t, "review", body["to_stage_id"])
}

func TestPreferenceEndpoints(t *testing.T) {
	a := setupTestApp(t)

	status, body := a.do(t, http.MethodGet, "/users/user-1/preferences", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["preferences"])

	status, body = a.do(t, http.MethodPut, "/users/user-1/preferences", web.UpdatePreferencesRequest{
		Preferences: []models.NotificationPreference{
			{NotificationType: "stage_changed", Channel: models.ChannelSMS, Enabled: true},
		},
	})
	require.Equal(t, http.StatusOK, status, body)
	require.Len(t, body["preferences"], 1)

	preference := body["preferences"].([]any)[0].(map[string]any)
	assert.Equal(t, "user-1", preference["user_id"])
	assert.Equal(t, "immediate", preference["frequency"])

	status, body = a.do(t, http.MethodPut, "/users/user-1/preferences", web.UpdatePreferencesRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["type"])

	status, _ = a.do(t, http.MethodPut, "/users/user-1/preferences", web.UpdatePreferencesRequest{
		Preferences: []models.NotificationPreference{
			{NotificationType: "stage_changed", Channel: "pigeon", Enabled: true},
		},
	})
	assert.Equal(t, http.StatusBadRequest, status)
}
