package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

const documentSchema = `{
	"type": "object",
	"required": ["name", "elements"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"elements": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"type": "string", "enum": ["trigger", "condition", "action", "delay"]},
					"title": {"type": "string"},
					"config": {"type": "object"},
					"next": {"type": "string"},
					"trueNext": {"type": "string"},
					"falseNext": {"type": "string"}
				}
			}
		}
	}
}`

var documentSchemaLoader = gojsonschema.NewStringLoader(documentSchema)

// ParseDocument validates raw JSON against the workflow document schema and decodes it.
func ParseDocument(data []byte) (*models.WorkflowDocument, error) {
	result, err := gojsonschema.Validate(documentSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(problems, "; "))
	}

	var document models.WorkflowDocument

	err = json.Unmarshal(data, &document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return &document, nil
}

type conditionsConfig struct {
	TriggerType string             `json:"trigger_type"`
	Conditions  []models.Condition `json:"conditions"`
}

// BuildSteps converts document elements into typed steps. Element order defines step indexes.
func BuildSteps(document *models.WorkflowDocument) ([]models.Step, error) {
	steps := make([]models.Step, 0, len(document.Elements))
	problems := &DefinitionError{}

	for i, element := range document.Elements {
		step := models.Step{
			ID:        element.ID,
			Index:     i,
			Type:      models.StepType(element.Type),
			Title:     element.Title,
			Next:      element.Next,
			TrueNext:  element.TrueNext,
			FalseNext: element.FalseNext,
		}

		var err error

		switch step.Type {
		case models.StepTypeTrigger:
			var config conditionsConfig

			err = decodeConfig(element.Config, &config)
			step.Trigger = &models.TriggerStep{Type: config.TriggerType, Conditions: config.Conditions}
		case models.StepTypeCondition:
			step.Condition = &models.ConditionStep{}
			err = decodeConfig(element.Config, &step.Condition.Condition)
		case models.StepTypeAction:
			step.Action = actionStep(element.Config)
		case models.StepTypeDelay:
			step.Delay = &models.DelayStep{}
			err = decodeConfig(element.Config, step.Delay)
		default:
			err = fmt.Errorf("unknown step type %q", element.Type)
		}

		if err != nil {
			problems.add("element %s: %v", element.ID, err)
		}

		steps = append(steps, step)
	}

	err := problems.errOrNil()
	if err != nil {
		return nil, err
	}

	return steps, nil
}

// actionStep reads config.kind; the remaining keys are the action's own config.
func actionStep(config map[string]any) *models.ActionStep {
	kind, _ := config["kind"].(string)

	rest := make(map[string]any, len(config))

	for k, v := range config {
		if k != "kind" {
			rest[k] = v
		}
	}

	return &models.ActionStep{Kind: models.ActionKind(kind), Config: rest}
}

func decodeConfig(config map[string]any, target any) error {
	if config == nil {
		return nil
	}

	data, err := json.Marshal(config)
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// Compile builds and validates the steps of a document.
func Compile(document *models.WorkflowDocument, registry *Registry) ([]models.Step, error) {
	steps, err := BuildSteps(document)
	if err != nil {
		return nil, err
	}

	err = Validate(steps, registry)
	if err != nil {
		return nil, err
	}

	return steps, nil
}
