// Package models provides condition evaluation for workflow branching.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ConditionOperator is a comparison operator applied to a contact or
// enrollment-context field.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorContains    ConditionOperator = "contains"
)

// KnownOperator reports whether op is a supported comparison operator.
func KnownOperator(op ConditionOperator) bool {
	switch op {
	case OperatorEquals, OperatorNotEquals, OperatorGreaterThan,
		OperatorLessThan, OperatorContains:
		return true
	default:
		return false
	}
}

// Condition is one comparison inside a condition step. All conditions of a
// step must hold for the step to take its true branch.
type Condition struct {
	Field    string            `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required"`
	Value    any               `json:"value"`
}

// Evaluate applies the condition's operator to the actual value resolved
// from contact or context data.
func (c Condition) Evaluate(actual any) (bool, error) {
	switch c.Operator {
	case OperatorEquals:
		return looseEqual(actual, c.Value), nil
	case OperatorNotEquals:
		return !looseEqual(actual, c.Value), nil
	case OperatorGreaterThan:
		return compareNumeric(actual, c.Value, func(a, b float64) bool { return a > b })
	case OperatorLessThan:
		return compareNumeric(actual, c.Value, func(a, b float64) bool { return a < b })
	case OperatorContains:
		return strings.Contains(toString(actual), toString(c.Value)), nil
	default:
		return false, fmt.Errorf("unsupported condition operator: %s", c.Operator)
	}
}

// looseEqual compares values numerically when both sides parse as numbers,
// falling back to string comparison. JSON decoding yields float64 for all
// numbers, so a strict == would miss 0 vs "0".
func looseEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		return af == bf
	}

	return toString(a) == toString(b)
}

func compareNumeric(a, b any, cmp func(a, b float64) bool) (bool, error) {
	af, aok := toFloat(a)
	if !aok {
		return false, fmt.Errorf("cannot compare non-numeric value %v", a)
	}

	bf, bok := toFloat(b)
	if !bok {
		return false, fmt.Errorf("cannot compare non-numeric value %v", b)
	}

	return cmp(af, bf), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", v)
}
