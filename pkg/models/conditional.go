package models

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Operator is the closed set of comparison operators used by condition and trigger steps.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
)

func (o Operator) Valid() bool {
	switch o {
	case OperatorEquals, OperatorNotEquals, OperatorContains, OperatorGreaterThan, OperatorLessThan:
		return true
	default:
		return false
	}
}

var (
	ErrFieldNotFound       = errors.New("field not found")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrNotComparable       = errors.New("values are not comparable")
)

// FieldSource resolves a field name to its current value.
type FieldSource interface {
	Lookup(field string) (any, bool)
}

// Condition compares a field of a lead snapshot against a value.
type Condition struct {
	Field    string   `json:"field"    validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    any      `json:"value"`
}

// Evaluate applies the condition to src. Missing fields and malformed operators are errors;
// callers treat any error as false.
func (c Condition) Evaluate(src FieldSource) (bool, error) {
	actual, ok := src.Lookup(c.Field)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrFieldNotFound, c.Field)
	}

	switch c.Operator {
	case OperatorEquals:
		return valuesEqual(actual, c.Value), nil
	case OperatorNotEquals:
		return !valuesEqual(actual, c.Value), nil
	case OperatorContains:
		return contains(actual, c.Value), nil
	case OperatorGreaterThan, OperatorLessThan:
		left, lok := toFloat(actual)
		right, rok := toFloat(c.Value)

		if !lok || !rok {
			return false, fmt.Errorf("%w: %v %s %v", ErrNotComparable, actual, c.Operator, c.Value)
		}

		if c.Operator == OperatorGreaterThan {
			return left > right, nil
		}

		return left < right, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedOperator, c.Operator)
	}
}

// EvaluateAll reports whether every condition holds. The first error short-circuits to false.
func EvaluateAll(conditions []Condition, src FieldSource) (bool, error) {
	for _, condition := range conditions {
		ok, err := condition.Evaluate(src)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func valuesEqual(actual, expected any) bool {
	if left, ok := toFloat(actual); ok {
		if right, ok := toFloat(expected); ok {
			return left == right
		}
	}

	if left, ok := actual.(bool); ok {
		right, err := strconv.ParseBool(fmt.Sprint(expected))

		return err == nil && left == right
	}

	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func contains(actual, expected any) bool {
	switch v := actual.(type) {
	case string:
		return strings.Contains(strings.ToLower(v), strings.ToLower(fmt.Sprint(expected)))
	case []string:
		for _, item := range v {
			if valuesEqual(item, expected) {
				return true
			}
		}

		return false
	case []any:
		for _, item := range v {
			if valuesEqual(item, expected) {
				return true
			}
		}

		return false
	case map[string]any:
		_, ok := v[fmt.Sprint(expected)]

		return ok
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int, int8, int16, int32, int64:
		return float64(reflect.ValueOf(v).Int()), true
	case uint, uint8, uint16, uint32, uint64:
		return float64(reflect.ValueOf(v).Uint()), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}
