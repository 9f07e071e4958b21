package stage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/leadflow/pkg/models"
)

// ParseDuration accepts Go durations ("36h") and whole days ("3d").
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)

	var (
		d   time.Duration
		err error
	)

	if days, ok := strings.CutSuffix(value, "d"); ok {
		var n int

		n, err = strconv.Atoi(days)
		d = time.Duration(n) * 24 * time.Hour
	} else {
		d, err = time.ParseDuration(value)
	}

	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}

	return d, nil
}

// Event is one external fact change reported for a lead.
type Event struct {
	Kind    models.EventKind
	Payload map[string]any
	Now     time.Time
}

// Satisfied evaluates the trigger predicate against a lead snapshot.
func Satisfied(trigger *models.StageTransitionTrigger, lead *models.Lead, event Event) (bool, error) {
	config := trigger.Config

	switch trigger.TriggerType {
	case models.TriggerAllDocumentsApproved:
		return allDocumentsApproved(lead), nil
	case models.TriggerSpecificDocumentApproved:
		return documentApproved(lead, config.DocumentID), nil
	case models.TriggerAllRequirementsCompleted:
		return allRequirementsCompleted(lead), nil
	case models.TriggerPaymentReceived:
		return paymentReceived(lead, config), nil
	case models.TriggerFormSubmitted:
		return formSubmitted(lead, config.FormID), nil
	case models.TriggerManualApproval:
		if event.Kind != models.EventManualApproval {
			return false, nil
		}

		stageID, _ := event.Payload["stage_id"].(string)

		return stageID == lead.StageID, nil
	case models.TriggerTimeElapsed:
		d, err := ParseDuration(config.Duration)
		if err != nil {
			return false, err
		}

		if lead.StageEnteredAt.IsZero() {
			return false, nil
		}

		return event.Now.Sub(lead.StageEnteredAt) >= d, nil
	default:
		return false, fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, trigger.TriggerType)
	}
}

func allDocumentsApproved(lead *models.Lead) bool {
	required := 0

	for _, document := range lead.Documents {
		if !document.Required || document.StageID != lead.StageID {
			continue
		}

		if document.Status != models.ReviewStatusApproved {
			return false
		}

		required++
	}

	return required > 0
}

// allRequirementsCompleted covers both the stage's required documents and its requirements.
func allRequirementsCompleted(lead *models.Lead) bool {
	required := 0

	for _, document := range lead.Documents {
		if !document.Required || document.StageID != lead.StageID {
			continue
		}

		if document.Status != models.ReviewStatusApproved {
			return false
		}

		required++
	}

	for _, requirement := range lead.Requirements {
		if !requirement.Required || requirement.StageID != lead.StageID {
			continue
		}

		if requirement.Status != models.ReviewStatusApproved && requirement.Status != models.ReviewStatusCompleted {
			return false
		}

		required++
	}

	return required > 0
}

func documentApproved(lead *models.Lead, documentID string) bool {
	for _, document := range lead.Documents {
		if document.ID == documentID {
			return document.Status == models.ReviewStatusApproved
		}
	}

	return false
}

func paymentReceived(lead *models.Lead, config models.TriggerConfig) bool {
	for _, payment := range lead.Payments {
		if config.Amount > 0 && payment.Amount < config.Amount {
			continue
		}

		if config.PaymentContext != "" && payment.Context != config.PaymentContext {
			continue
		}

		return true
	}

	return false
}

func formSubmitted(lead *models.Lead, formID string) bool {
	for _, submission := range lead.FormSubmissions {
		if submission.FormID == formID {
			return true
		}
	}

	return false
}
