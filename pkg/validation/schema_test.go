package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefinition_Valid(t *testing.T) {
	raw := []byte(`{
		"name": "Welcome series",
		"trigger_type": "welcome",
		"status": "draft",
		"steps": [
			{"id": "trigger", "type": "trigger", "config": {"event": "welcome"}, "next": "email"},
			{"id": "email", "type": "send_email", "config": {"template_id": "tpl-1"}}
		]
	}`)

	issues, err := ValidateDefinition(raw)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestValidateDefinition_UnknownTriggerType(t *testing.T) {
	raw := []byte(`{
		"name": "Broken",
		"trigger_type": "loyalty",
		"steps": []
	}`)

	issues, err := ValidateDefinition(raw)
	require.NoError(t, err)
	require.NotEmpty(t, issues)
	assert.Equal(t, CodeSchemaViolation, issues[0].Code)
}

func TestValidateDefinition_MissingStepID(t *testing.T) {
	raw := []byte(`{
		"name": "Broken",
		"trigger_type": "welcome",
		"steps": [{"type": "trigger"}]
	}`)

	issues, err := ValidateDefinition(raw)
	require.NoError(t, err)
	assert.NotEmpty(t, issues)
}

func TestValidateDefinition_NotJSON(t *testing.T) {
	_, err := ValidateDefinition([]byte("not json at all"))
	assert.Error(t, err)
}
