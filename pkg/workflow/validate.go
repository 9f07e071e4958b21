package workflow

import (
	"errors"

	"github.com/dukex/leadflow/pkg/models"
)

const (
	// exitIndex marks a condition without a false edge: the enrollment exits.
	exitIndex = -1
	// danglingIndex marks an edge to an unknown step id.
	danglingIndex = -2
)

// Validate checks a step list statically: known step types and action kinds, trigger only
// at position 0, well-formed delays and conditions, edges that resolve and no cycles.
func Validate(steps []models.Step, registry *Registry) error {
	problems := &DefinitionError{}

	if len(steps) == 0 {
		problems.add("workflow has no steps")

		return problems
	}

	seen := make(map[string]bool, len(steps))

	for i, step := range steps {
		if step.ID == "" {
			problems.add("step %d has no id", i)
		} else if seen[step.ID] {
			problems.add("duplicate step id %s", step.ID)
		}

		seen[step.ID] = true

		if step.Index != i {
			problems.add("step %s has index %d, expected %d", step.ID, step.Index, i)
		}

		validateStep(step, registry, problems)
	}

	if len(problems.Problems) > 0 {
		return problems
	}

	for _, step := range steps {
		for _, next := range successors(steps, step) {
			if next == danglingIndex {
				problems.add("step %s has an edge to an unknown step", step.ID)
			}
		}
	}

	if len(problems.Problems) > 0 {
		return problems
	}

	if id, ok := findCycle(steps); ok {
		problems.add("cycle detected through step %s", id)
	}

	return problems.errOrNil()
}

func validateStep(step models.Step, registry *Registry, problems *DefinitionError) {
	switch step.Type {
	case models.StepTypeTrigger:
		if step.Index != 0 {
			problems.add("trigger step %s must be the first step", step.ID)
		}

		if step.Trigger == nil {
			problems.add("trigger step %s has no trigger config", step.ID)

			return
		}

		for _, condition := range step.Trigger.Conditions {
			validateCondition(step.ID, condition, problems)
		}
	case models.StepTypeCondition:
		if step.Condition == nil {
			problems.add("condition step %s has no condition config", step.ID)

			return
		}

		validateCondition(step.ID, step.Condition.Condition, problems)
	case models.StepTypeAction:
		if step.Action == nil {
			problems.add("action step %s has no action config", step.ID)

			return
		}

		handler, err := registry.Handler(step.Action.Kind)
		if err != nil {
			problems.add("action step %s: %v", step.ID, err)

			return
		}

		err = handler.Validate(step.Action.Config)
		if err != nil {
			problems.add("action step %s: %v", step.ID, err)
		}
	case models.StepTypeDelay:
		if step.Delay == nil {
			problems.add("delay step %s has no delay config", step.ID)

			return
		}

		_, known := step.Delay.Unit.Duration(1)
		_, fits := step.Delay.Unit.Duration(step.Delay.Amount)

		switch {
		case !known:
			problems.add("delay step %s has unknown unit %q", step.ID, step.Delay.Unit)
		case step.Delay.Amount <= 0:
			problems.add("delay step %s must have a positive amount", step.ID)
		case !fits:
			problems.add("delay step %s is too long: %d %s", step.ID, step.Delay.Amount, step.Delay.Unit)
		}
	default:
		problems.add("step %s has unknown type %q", step.ID, step.Type)
	}

	if step.Type != models.StepTypeCondition && (step.TrueNext != "" || step.FalseNext != "") {
		problems.add("step %s: only condition steps have true/false edges", step.ID)
	}
}

func validateCondition(stepID string, condition models.Condition, problems *DefinitionError) {
	if condition.Field == "" {
		problems.add("step %s: condition has no field", stepID)
	}

	if !condition.Operator.Valid() {
		problems.add("step %s: %v %q", stepID, models.ErrUnsupportedOperator, condition.Operator)
	}
}

// nextIndex resolves an edge: empty means the following step, which is len(steps) after the last.
func nextIndex(steps []models.Step, step models.Step, edge string) int {
	if edge == "" {
		return step.Index + 1
	}

	for i := range steps {
		if steps[i].ID == edge {
			return i
		}
	}

	return danglingIndex
}

func falseIndex(steps []models.Step, step models.Step) int {
	if step.FalseNext == "" {
		return exitIndex
	}

	return nextIndex(steps, step, step.FalseNext)
}

// successors lists the step indexes reachable in one move; len(steps) and exitIndex are terminal.
func successors(steps []models.Step, step models.Step) []int {
	if step.Type == models.StepTypeCondition {
		return []int{nextIndex(steps, step, step.TrueNext), falseIndex(steps, step)}
	}

	return []int{nextIndex(steps, step, step.Next)}
}

var errCycle = errors.New("cycle")

func findCycle(steps []models.Step) (string, bool) {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make([]int, len(steps))

	var visit func(i int) error

	visit = func(i int) error {
		state[i] = visiting

		for _, next := range successors(steps, steps[i]) {
			if next < 0 || next >= len(steps) {
				continue
			}

			switch state[next] {
			case visiting:
				return errCycle
			case unvisited:
				err := visit(next)
				if err != nil {
					return err
				}
			}
		}

		state[i] = done

		return nil
	}

	for i := range steps {
		if state[i] != unvisited {
			continue
		}

		if visit(i) != nil {
			return steps[i].ID, true
		}
	}

	return "", false
}
