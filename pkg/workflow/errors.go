package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrWorkflowInactive         = errors.New("workflow is not active")
	ErrEntryTriggerNotSatisfied = errors.New("entry trigger not satisfied")
	ErrInvalidDefinition        = errors.New("invalid workflow definition")
	ErrUnknownActionKind        = errors.New("unknown action kind")
	ErrActionNotRegistered      = errors.New("action kind has no registered handler")
	ErrActionConfigInvalid      = errors.New("invalid action config")
	ErrMissingContact           = errors.New("lead has no contact for channel")
	ErrInvalidDocument          = errors.New("invalid workflow document")
	ErrBulkWorkflowRequired     = errors.New("bulk enrollment requires a workflow id")
	ErrWorkflowVersionChanged   = errors.New("workflow version changed since enrollment")
)

// DefinitionError lists every problem found while validating a workflow definition.
type DefinitionError struct {
	Problems []string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidDefinition.Error(), strings.Join(e.Problems, "; "))
}

func (e *DefinitionError) Is(target error) bool {
	return target == ErrInvalidDefinition
}

func (e *DefinitionError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *DefinitionError) errOrNil() error {
	if len(e.Problems) == 0 {
		return nil
	}

	return e
}

func IsInvalidDefinition(err error) bool {
	return errors.Is(err, ErrInvalidDefinition)
}

func IsEntryTriggerNotSatisfied(err error) bool {
	return errors.Is(err, ErrEntryTriggerNotSatisfied)
}
