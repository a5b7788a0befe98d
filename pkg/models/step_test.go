package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStep_UnmarshalJSON_DelayConfig(t *testing.T) {
	raw := `{
		"id": "step-2",
		"type": "delay",
		"config": {"duration": 2, "unit": "hours"},
		"next": "step-3"
	}`

	var step Step

	err := json.Unmarshal([]byte(raw), &step)
	require.NoError(t, err)

	assert.Equal(t, "step-2", step.ID)
	assert.Equal(t, StepTypeDelay, step.Type)
	require.NotNil(t, step.Next)
	assert.Equal(t, "step-3", *step.Next)

	config, ok := step.Config.(DelayConfig)
	require.True(t, ok, "config should decode to the delay variant")
	assert.Equal(t, 2, config.Duration)
	assert.Equal(t, DelayUnitHours, config.Unit)
	assert.Equal(t, 2*time.Hour, config.Wait())
}

func TestStep_UnmarshalJSON_ConditionBranches(t *testing.T) {
	raw := `{
		"id": "step-4",
		"type": "condition",
		"config": {"conditions": [{"field": "order.count", "operator": "equals", "value": 0}]},
		"trueBranch": "step-5",
		"falseBranch": "step-6"
	}`

	var step Step

	err := json.Unmarshal([]byte(raw), &step)
	require.NoError(t, err)

	require.NotNil(t, step.TrueBranch)
	require.NotNil(t, step.FalseBranch)
	assert.Equal(t, "step-5", *step.TrueBranch)
	assert.Equal(t, "step-6", *step.FalseBranch)

	config, ok := step.Config.(ConditionConfig)
	require.True(t, ok)
	require.Len(t, config.Conditions, 1)
	assert.Equal(t, "order.count", config.Conditions[0].Field)
	assert.Equal(t, OperatorEquals, config.Conditions[0].Operator)
}

func TestStep_UnmarshalJSON_UnknownType(t *testing.T) {
	raw := `{"id": "step-x", "type": "teleport", "config": {"target": "mars"}}`

	var step Step

	err := json.Unmarshal([]byte(raw), &step)
	require.NoError(t, err, "unknown step types decode so the validator can reject them")

	assert.Equal(t, StepType("teleport"), step.Type)
	assert.Nil(t, step.Config)
	assert.False(t, KnownStepType(step.Type))
}

func TestStep_MarshalJSON_RoundTrip(t *testing.T) {
	next := "step-2"
	step := &Step{
		ID:   "step-1",
		Type: StepTypeSendEmail,
		Config: EmailConfig{
			Subject: "Welcome aboard",
			Content: "<p>Hello {{.first_name}}</p>",
		},
		Next: &next,
	}

	data, err := json.Marshal(step)
	require.NoError(t, err)

	var decoded Step

	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, step.ID, decoded.ID)
	assert.Equal(t, step.Type, decoded.Type)
	assert.Equal(t, step.Config, decoded.Config)
	require.NotNil(t, decoded.Next)
	assert.Equal(t, next, *decoded.Next)
}

func TestDelayConfig_Wait_Units(t *testing.T) {
	assert.Equal(t, 30*time.Minute, DelayConfig{Duration: 30, Unit: DelayUnitMinutes}.Wait())
	assert.Equal(t, 3*24*time.Hour, DelayConfig{Duration: 3, Unit: DelayUnitDays}.Wait())
	assert.Equal(t, 7*24*time.Hour, DelayConfig{Duration: 1, Unit: DelayUnitWeeks}.Wait())
	assert.Equal(t, time.Duration(0), DelayConfig{Duration: 1, Unit: "fortnight"}.Wait())
}

func TestWorkflow_TriggerStep(t *testing.T) {
	next := "step-2"
	workflow := &Workflow{
		ID:          "wf-1",
		TriggerType: TriggerWelcome,
		Steps: []*Step{
			{ID: "step-1", Type: StepTypeTrigger, Config: TriggerConfig{Event: "welcome"}, Next: &next},
			{ID: "step-2", Type: StepTypeSendEmail, Config: EmailConfig{TemplateID: "tpl-1"}},
		},
	}

	trigger := workflow.TriggerStep()
	require.NotNil(t, trigger)
	assert.Equal(t, "step-1", trigger.ID)
}

func TestWorkflow_Successors(t *testing.T) {
	trueBranch := "yes"
	falseBranch := "no"
	workflow := &Workflow{}

	condition := &Step{
		ID:          "cond",
		Type:        StepTypeCondition,
		TrueBranch:  &trueBranch,
		FalseBranch: &falseBranch,
	}
	assert.Equal(t, []string{"yes", "no"}, workflow.Successors(condition))

	next := "after"
	linear := &Step{ID: "email", Type: StepTypeSendEmail, Next: &next}
	assert.Equal(t, []string{"after"}, workflow.Successors(linear))

	terminal := &Step{ID: "last", Type: StepTypeSendEmail}
	assert.Empty(t, workflow.Successors(terminal))
}
