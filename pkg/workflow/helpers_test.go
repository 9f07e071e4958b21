package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/notification"
	"github.com/dukex/leadflow/pkg/persistence/file"
	"github.com/dukex/leadflow/pkg/workflow"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type delivery struct {
	Channel models.Channel
	Message notification.Message
}

// recordingDispatcher records deliveries; the first failures calls to Deliver fail. When set,
// gate runs at the start of every Deliver call, outside the mutex.
type recordingDispatcher struct {
	gate       func()
	mu         sync.Mutex
	failures   int
	failAlways bool
	calls      int
	delivered  []delivery
	sent       []models.NotificationEvent
}

func (d *recordingDispatcher) Send(_ context.Context, event models.NotificationEvent, _ time.Time) (*notification.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sent = append(d.sent, event)

	return &notification.Report{UserID: event.UserID, Type: event.Type}, nil
}

func (d *recordingDispatcher) Deliver(_ context.Context, channel models.Channel, destination string, message notification.Message) error {
	if d.gate != nil {
		d.gate()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++

	if d.failAlways || d.failures > 0 {
		d.failures--

		return errors.New("gateway unavailable")
	}

	message.Destination = destination
	d.delivered = append(d.delivered, delivery{Channel: channel, Message: message})

	return nil
}

func (d *recordingDispatcher) count(channel models.Channel) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0

	for _, item := range d.delivered {
		if item.Channel == channel {
			n++
		}
	}

	return n
}

func (d *recordingDispatcher) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls
}

func (d *recordingDispatcher) events() []models.NotificationEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]models.NotificationEvent(nil), d.sent...)
}

type harness struct {
	ctx         context.Context
	persistence *file.Persistence
	dispatcher  *recordingDispatcher
	registry    *workflow.Registry
	scheduler   *workflow.Scheduler
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	dispatcher := &recordingDispatcher{}
	registry := workflow.NewRegistry()
	require.NoError(t, workflow.RegisterDefaultActions(registry, p.LeadRepository(), dispatcher, testLogger()))

	scheduler := workflow.NewScheduler(p, registry, testLogger(),
		workflow.WithBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		}),
	)

	h := &harness{
		ctx:         context.Background(),
		persistence: p,
		dispatcher:  dispatcher,
		registry:    registry,
		scheduler:   scheduler,
	}

	h.saveLead(t, &models.Lead{
		ID:        "lead-1",
		FirstName: "Ana",
		LastName:  "Souza",
		Email:     "ana@example.com",
		Phone:     "+5511999999999",
		StageID:   "applied",
		Fields:    map[string]any{"program": "MBA", "score": 72},
		CreatedAt: t0.Add(-24 * time.Hour),
	})

	return h
}

func (h *harness) saveLead(t *testing.T, lead *models.Lead) {
	t.Helper()

	require.NoError(t, h.persistence.LeadRepository().Save(h.ctx, lead))
}

func (h *harness) saveWorkflow(t *testing.T, id string, steps ...models.Step) *models.WorkflowDefinition {
	t.Helper()

	for i := range steps {
		steps[i].Index = i
	}

	require.NoError(t, workflow.Validate(steps, h.registry))

	definition := &models.WorkflowDefinition{
		ID:        id,
		Name:      "Workflow " + id,
		Status:    models.WorkflowStatusActive,
		Version:   1,
		Steps:     steps,
		CreatedAt: t0,
		UpdatedAt: t0,
	}

	require.NoError(t, h.persistence.WorkflowRepository().Save(h.ctx, definition))

	return definition
}

func (h *harness) enrollment(t *testing.T, id string) *models.Enrollment {
	t.Helper()

	enrollment, err := h.persistence.EnrollmentRepository().GetByID(h.ctx, id)
	require.NoError(t, err)

	return enrollment
}

func emailStep(id string) models.Step {
	return models.Step{
		ID:   id,
		Type: models.StepTypeAction,
		Action: &models.ActionStep{
			Kind:   models.ActionSendEmail,
			Config: map[string]any{"subject": "Welcome {{ .lead.first_name }}", "body": "Your {{ .lead.fields.program }} application"},
		},
	}
}

func smsStep(id string) models.Step {
	return models.Step{
		ID:     id,
		Type:   models.StepTypeAction,
		Action: &models.ActionStep{Kind: models.ActionSendSMS, Config: map[string]any{"body": "Reminder for {{ .lead.first_name }}"}},
	}
}

func delayStep(id string, amount int, unit models.DelayUnit) models.Step {
	return models.Step{
		ID:    id,
		Type:  models.StepTypeDelay,
		Delay: &models.DelayStep{Amount: amount, Unit: unit},
	}
}

func conditionStep(id, field string, operator models.Operator, value any) models.Step {
	return models.Step{
		ID:   id,
		Type: models.StepTypeCondition,
		Condition: &models.ConditionStep{
			Condition: models.Condition{Field: field, Operator: operator, Value: value},
		},
	}
}
