package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepType identifies the kind of node in a workflow graph.
type StepType string

const (
	StepTypeTrigger     StepType = "trigger"
	StepTypeDelay       StepType = "delay"
	StepTypeSendEmail   StepType = "send_email"
	StepTypeCondition   StepType = "condition"
	StepTypeAddTag      StepType = "add_tag"
	StepTypeRemoveTag   StepType = "remove_tag"
	StepTypeWebhook     StepType = "webhook"
	StepTypeUpdateField StepType = "update_field"
)

// KnownStepType reports whether t is one of the supported step types.
func KnownStepType(t StepType) bool {
	switch t {
	case StepTypeTrigger, StepTypeDelay, StepTypeSendEmail, StepTypeCondition,
		StepTypeAddTag, StepTypeRemoveTag, StepTypeWebhook, StepTypeUpdateField:
		return true
	default:
		return false
	}
}

// StepConfig is the tagged union of per-type step configurations. The
// concrete variant is selected by the step's type on decode.
type StepConfig interface {
	stepConfig()
}

// Step is one node in a workflow graph. Linear steps point at a single
// successor via Next; condition steps carry TrueBranch/FalseBranch instead.
type Step struct {
	ID          string     `json:"id"   validate:"required"`
	Type        StepType   `json:"type" validate:"required"`
	Config      StepConfig `json:"-"`
	Next        *string    `json:"next,omitempty"`
	TrueBranch  *string    `json:"trueBranch,omitempty"`
	FalseBranch *string    `json:"falseBranch,omitempty"`
}

// TriggerConfig configures a trigger step.
type TriggerConfig struct {
	Event string `json:"event"`
}

// DelayUnit is the time unit of a delay step.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
	DelayUnitWeeks   DelayUnit = "weeks"
)

// KnownDelayUnit reports whether u is a supported delay unit.
func KnownDelayUnit(u DelayUnit) bool {
	switch u {
	case DelayUnitMinutes, DelayUnitHours, DelayUnitDays, DelayUnitWeeks:
		return true
	default:
		return false
	}
}

// DelayConfig configures a delay step.
type DelayConfig struct {
	Duration int       `json:"duration"`
	Unit     DelayUnit `json:"unit"`
}

// Wait returns the configured delay as a duration.
func (c DelayConfig) Wait() time.Duration {
	d := time.Duration(c.Duration)

	switch c.Unit {
	case DelayUnitMinutes:
		return d * time.Minute
	case DelayUnitHours:
		return d * time.Hour
	case DelayUnitDays:
		return d * 24 * time.Hour
	case DelayUnitWeeks:
		return d * 7 * 24 * time.Hour
	default:
		return 0
	}
}

// EmailConfig configures a send_email step. Either TemplateID or both
// Subject and Content must be set.
type EmailConfig struct {
	TemplateID string `json:"template_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Content    string `json:"content,omitempty"`
	FromEmail  string `json:"from_email,omitempty"`
	FromName   string `json:"from_name,omitempty"`
}

// ConditionConfig configures a condition step.
type ConditionConfig struct {
	Conditions []Condition `json:"conditions"`
}

// TagConfig configures add_tag and remove_tag steps.
type TagConfig struct {
	Tag string `json:"tag"`
}

// WebhookConfig configures a webhook step.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

// FieldConfig configures an update_field step.
type FieldConfig struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func (TriggerConfig) stepConfig()   {}
func (DelayConfig) stepConfig()     {}
func (EmailConfig) stepConfig()     {}
func (ConditionConfig) stepConfig() {}
func (TagConfig) stepConfig()       {}
func (WebhookConfig) stepConfig()   {}
func (FieldConfig) stepConfig()     {}

// stepRecord is the flat interchange shape exchanged with the admin surface.
type stepRecord struct {
	ID          string          `json:"id"`
	Type        StepType        `json:"type"`
	Config      json.RawMessage `json:"config,omitempty"`
	Next        *string         `json:"next,omitempty"`
	TrueBranch  *string         `json:"trueBranch,omitempty"`
	FalseBranch *string         `json:"falseBranch,omitempty"`
}

// MarshalJSON encodes the step in the flat record shape, with the config
// variant serialized under "config".
func (s *Step) MarshalJSON() ([]byte, error) {
	record := stepRecord{
		ID:          s.ID,
		Type:        s.Type,
		Next:        s.Next,
		TrueBranch:  s.TrueBranch,
		FalseBranch: s.FalseBranch,
	}

	if s.Config != nil {
		raw, err := json.Marshal(s.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config for step %s: %w", s.ID, err)
		}

		record.Config = raw
	}

	return json.Marshal(record)
}

// UnmarshalJSON decodes the flat record shape, selecting the config variant
// by step type. Unknown types decode with a nil config so the validator can
// report them instead of failing the whole definition.
func (s *Step) UnmarshalJSON(data []byte) error {
	var record stepRecord

	err := json.Unmarshal(data, &record)
	if err != nil {
		return err
	}

	s.ID = record.ID
	s.Type = record.Type
	s.Next = record.Next
	s.TrueBranch = record.TrueBranch
	s.FalseBranch = record.FalseBranch
	s.Config = nil

	if len(record.Config) == 0 {
		return nil
	}

	config, err := decodeStepConfig(record.Type, record.Config)
	if err != nil {
		return fmt.Errorf("failed to decode config for step %s: %w", record.ID, err)
	}

	s.Config = config

	return nil
}

func decodeStepConfig(t StepType, raw json.RawMessage) (StepConfig, error) {
	switch t {
	case StepTypeTrigger:
		var c TriggerConfig
		err := json.Unmarshal(raw, &c)

		return c, err
	case StepTypeDelay:
		var c DelayConfig
		err := json.Unmarshal(raw, &c)

		return c, err
	case StepTypeSendEmail:
		var c EmailConfig
		err := json.Unmarshal(raw, &c)

		return c, err
	case StepTypeCondition:
		var c ConditionConfig
		err := json.Unmarshal(raw, &c)

		return c, err
	case StepTypeAddTag, StepTypeRemoveTag:
		var c TagConfig
		err := json.Unmarshal(raw, &c)

		return c, err
	case StepTypeWebhook:
		var c WebhookConfig
		err := json.Unmarshal(raw, &c)

		return c, err
	case StepTypeUpdateField:
		var c FieldConfig
		err := json.Unmarshal(raw, &c)

		return c, err
	default:
		return nil, nil
	}
}
