package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/notification"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/template"
)

const (
	NotificationTypeTaskAssigned = "task_assigned"
	NotificationTypeLeadAssigned = "lead_assigned"
)

// Dispatcher is the part of the notification dispatcher used by actions.
type Dispatcher interface {
	Send(ctx context.Context, event models.NotificationEvent, now time.Time) (*notification.Report, error)
	Deliver(ctx context.Context, channel models.Channel, destination string, message notification.Message) error
}

// RegisterDefaultActions registers handlers for every action kind except change_stage,
// which needs the stage evaluator and is registered by the caller.
func RegisterDefaultActions(registry *Registry, leads persistence.LeadRepository, dispatcher Dispatcher, logger *slog.Logger) error {
	handlers := map[models.ActionKind]ActionHandler{
		models.ActionSendEmail:     &SendEmailAction{dispatcher: dispatcher},
		models.ActionSendSMS:       &SendSMSAction{dispatcher: dispatcher},
		models.ActionCreateTask:    &CreateTaskAction{leads: leads, dispatcher: dispatcher, logger: logger},
		models.ActionUpdateLead:    &UpdateLeadAction{leads: leads},
		models.ActionAssignAdvisor: &AssignAdvisorAction{leads: leads, dispatcher: dispatcher, logger: logger},
	}

	for kind, handler := range handlers {
		err := registry.Register(kind, handler)
		if err != nil {
			return err
		}
	}

	return nil
}

// SendEmailAction emails the lead. Config: subject, body (templates), vars.
type SendEmailAction struct {
	dispatcher Dispatcher
}

func (a *SendEmailAction) Validate(config map[string]any) error {
	return requireStrings(config, "subject", "body")
}

func (a *SendEmailAction) Execute(ctx context.Context, req ActionRequest) error {
	if req.Lead.Email == "" {
		return backoff.Permanent(fmt.Errorf("%w: email", ErrMissingContact))
	}

	data := actionTemplateData(req)

	subject, err := renderConfig(req.Config, "subject", data)
	if err != nil {
		return err
	}

	body, err := renderConfig(req.Config, "body", data)
	if err != nil {
		return err
	}

	return req.deliver(ctx, a.dispatcher, models.ChannelEmail, req.Lead.Email, subject, body)
}

// SendSMSAction texts the lead. Config: body (template), vars.
type SendSMSAction struct {
	dispatcher Dispatcher
}

func (a *SendSMSAction) Validate(config map[string]any) error {
	return requireStrings(config, "body")
}

func (a *SendSMSAction) Execute(ctx context.Context, req ActionRequest) error {
	if req.Lead.Phone == "" {
		return backoff.Permanent(fmt.Errorf("%w: sms", ErrMissingContact))
	}

	body, err := renderConfig(req.Config, "body", actionTemplateData(req))
	if err != nil {
		return err
	}

	return req.deliver(ctx, a.dispatcher, models.ChannelSMS, req.Lead.Phone, "", body)
}

func (req ActionRequest) deliver(
	ctx context.Context,
	dispatcher Dispatcher,
	channel models.Channel,
	destination, subject, body string,
) error {
	return dispatcher.Deliver(ctx, channel, destination, notification.Message{
		Subject:        subject,
		Body:           body,
		IdempotencyKey: req.IdempotencyKey,
	})
}

// CreateTaskAction creates a follow-up task and notifies its assignee.
// Config: title, description (templates), due_in_days, assignee_id (defaults to the lead's advisor).
type CreateTaskAction struct {
	leads      persistence.LeadRepository
	dispatcher Dispatcher
	logger     *slog.Logger
}

func (a *CreateTaskAction) Validate(config map[string]any) error {
	err := requireStrings(config, "title")
	if err != nil {
		return err
	}

	if raw, ok := config["due_in_days"]; ok {
		days, ok := toInt(raw)
		if !ok || days < 0 {
			return fmt.Errorf("%w: due_in_days must be a non-negative number", ErrActionConfigInvalid)
		}
	}

	return nil
}

func (a *CreateTaskAction) Execute(ctx context.Context, req ActionRequest) error {
	data := actionTemplateData(req)

	title, err := renderConfig(req.Config, "title", data)
	if err != nil {
		return err
	}

	description, err := renderConfig(req.Config, "description", data)
	if err != nil {
		return err
	}

	assignee, _ := req.Config["assignee_id"].(string)
	if assignee == "" {
		assignee = req.Lead.AdvisorID
	}

	task := models.Task{
		ID:          "task-" + req.IdempotencyKey,
		LeadID:      req.Lead.ID,
		Title:       title,
		Description: description,
		AssigneeID:  assignee,
		CreatedAt:   req.Now,
	}

	if days, ok := toInt(req.Config["due_in_days"]); ok {
		due := req.Now.AddDate(0, 0, days)
		task.DueAt = &due
	}

	err = a.leads.AddTask(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if assignee == "" {
		return nil
	}

	_, err = a.dispatcher.Send(ctx, models.NotificationEvent{
		UserID:         assignee,
		Type:           NotificationTypeTaskAssigned,
		Title:          title,
		Message:        description,
		Data:           map[string]any{"lead_id": req.Lead.ID, "task_id": task.ID},
		Priority:       models.PriorityNormal,
		IdempotencyKey: req.IdempotencyKey,
	}, req.Now)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to notify task assignee", "assignee_id", assignee, "error", err)
	}

	return nil
}

// UpdateLeadAction merges config.fields into the lead's fields. String values are templates.
type UpdateLeadAction struct {
	leads persistence.LeadRepository
}

func (a *UpdateLeadAction) Validate(config map[string]any) error {
	fields, ok := config["fields"].(map[string]any)
	if !ok || len(fields) == 0 {
		return fmt.Errorf("%w: fields must be a non-empty object", ErrActionConfigInvalid)
	}

	return nil
}

func (a *UpdateLeadAction) Execute(ctx context.Context, req ActionRequest) error {
	fields, ok := req.Config["fields"].(map[string]any)
	if !ok {
		return backoff.Permanent(fmt.Errorf("%w: fields", ErrActionConfigInvalid))
	}

	rendered, err := template.RenderValues(fields, actionTemplateData(req))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%w: %w", ErrActionConfigInvalid, err))
	}

	return a.leads.UpdateFields(ctx, req.Lead.ID, rendered, req.Now)
}

// AssignAdvisorAction assigns config.advisor_id to the lead and notifies the advisor.
type AssignAdvisorAction struct {
	leads      persistence.LeadRepository
	dispatcher Dispatcher
	logger     *slog.Logger
}

func (a *AssignAdvisorAction) Validate(config map[string]any) error {
	return requireStrings(config, "advisor_id")
}

func (a *AssignAdvisorAction) Execute(ctx context.Context, req ActionRequest) error {
	advisorID, _ := req.Config["advisor_id"].(string)
	if advisorID == "" {
		return backoff.Permanent(fmt.Errorf("%w: advisor_id", ErrActionConfigInvalid))
	}

	if req.Lead.AdvisorID == advisorID {
		return nil
	}

	err := a.leads.AssignAdvisor(ctx, req.Lead.ID, advisorID, req.Now)
	if err != nil {
		return fmt.Errorf("failed to assign advisor: %w", err)
	}

	_, err = a.dispatcher.Send(ctx, models.NotificationEvent{
		UserID:         advisorID,
		Type:           NotificationTypeLeadAssigned,
		Title:          "New lead assigned",
		Message:        fmt.Sprintf("%s %s was assigned to you", req.Lead.FirstName, req.Lead.LastName),
		Data:           map[string]any{"lead_id": req.Lead.ID},
		Priority:       models.PriorityNormal,
		IdempotencyKey: req.IdempotencyKey,
	}, req.Now)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to notify advisor", "advisor_id", advisorID, "error", err)
	}

	return nil
}

func actionTemplateData(req ActionRequest) map[string]any {
	vars, _ := req.Config["vars"].(map[string]any)

	return template.LeadData(req.Lead, req.Now, vars)
}

func renderConfig(config map[string]any, key string, data map[string]any) (string, error) {
	raw, _ := config[key].(string)

	result, err := template.RenderString(raw, data)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: %s: %w", ErrActionConfigInvalid, key, err))
	}

	return result, nil
}

func requireStrings(config map[string]any, keys ...string) error {
	for _, key := range keys {
		value, ok := config[key].(string)
		if !ok || value == "" {
			return fmt.Errorf("%w: %s is required", ErrActionConfigInvalid, key)
		}
	}

	return nil
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}

		return int(v), true
	default:
		return 0, false
	}
}
