package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondition_Evaluate_Equals(t *testing.T) {
	c := Condition{Field: "order.count", Operator: OperatorEquals, Value: float64(0)}

	result, err := c.Evaluate(float64(0))
	require.NoError(t, err)
	assert.True(t, result)

	result, err = c.Evaluate(float64(2))
	require.NoError(t, err)
	assert.False(t, result)
}

func TestCondition_Evaluate_Equals_NumericStringCoercion(t *testing.T) {
	c := Condition{Field: "order.count", Operator: OperatorEquals, Value: "0"}

	result, err := c.Evaluate(float64(0))
	require.NoError(t, err)
	assert.True(t, result, "JSON numbers and numeric strings should compare equal")
}

func TestCondition_Evaluate_NotEquals(t *testing.T) {
	c := Condition{Field: "plan", Operator: OperatorNotEquals, Value: "free"}

	result, err := c.Evaluate("premium")
	require.NoError(t, err)
	assert.True(t, result)

	result, err = c.Evaluate("free")
	require.NoError(t, err)
	assert.False(t, result)
}

func TestCondition_Evaluate_GreaterThan(t *testing.T) {
	c := Condition{Field: "total_spend", Operator: OperatorGreaterThan, Value: float64(100)}

	result, err := c.Evaluate(float64(150))
	require.NoError(t, err)
	assert.True(t, result)

	result, err = c.Evaluate(float64(99.5))
	require.NoError(t, err)
	assert.False(t, result)
}

func TestCondition_Evaluate_GreaterThan_NonNumeric(t *testing.T) {
	c := Condition{Field: "total_spend", Operator: OperatorGreaterThan, Value: float64(100)}

	_, err := c.Evaluate("not-a-number")
	assert.Error(t, err)
}

func TestCondition_Evaluate_LessThan(t *testing.T) {
	c := Condition{Field: "visits", Operator: OperatorLessThan, Value: 10}

	result, err := c.Evaluate(3)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestCondition_Evaluate_Contains(t *testing.T) {
	c := Condition{Field: "email", Operator: OperatorContains, Value: "@example.com"}

	result, err := c.Evaluate("ana@example.com")
	require.NoError(t, err)
	assert.True(t, result)

	result, err = c.Evaluate("ana@other.org")
	require.NoError(t, err)
	assert.False(t, result)
}

func TestCondition_Evaluate_UnknownOperator(t *testing.T) {
	c := Condition{Field: "x", Operator: "matches", Value: "y"}

	_, err := c.Evaluate("y")
	assert.Error(t, err)
}

func TestCondition_Evaluate_NilActual(t *testing.T) {
	c := Condition{Field: "missing", Operator: OperatorEquals, Value: ""}

	result, err := c.Evaluate(nil)
	require.NoError(t, err)
	assert.True(t, result, "nil resolves to empty string for comparison")
}
