package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema describes the workflow definition interchange shape: the
// document the admin surface exchanges with the core. Graph semantics are
// checked by Validate; this only guards the structural envelope before
// decoding.
const definitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "trigger_type", "steps"],
	"properties": {
		"id": {"type": "string"},
		"org_id": {"type": "string"},
		"name": {"type": "string", "minLength": 3},
		"trigger_type": {
			"type": "string",
			"enum": ["welcome", "abandoned_cart", "order_confirmation", "shipping", "custom"]
		},
		"status": {
			"type": "string",
			"enum": ["draft", "active", "paused"]
		},
		"steps": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"type": "string", "minLength": 1},
					"config": {"type": "object"},
					"next": {"type": "string"},
					"trueBranch": {"type": "string"},
					"falseBranch": {"type": "string"}
				}
			}
		}
	}
}`

// ValidateDefinition checks a raw workflow definition document against the
// interchange schema. Violations come back as SCHEMA_VIOLATION issues; an
// error means the document was not valid JSON at all.
func ValidateDefinition(raw []byte) ([]Issue, error) {
	schema := gojsonschema.NewStringLoader(definitionSchema)
	document := gojsonschema.NewBytesLoader(raw)

	outcome, err := gojsonschema.Validate(schema, document)
	if err != nil {
		return nil, fmt.Errorf("failed to validate workflow definition: %w", err)
	}

	if outcome.Valid() {
		return nil, nil
	}

	issues := make([]Issue, 0, len(outcome.Errors()))
	for _, violation := range outcome.Errors() {
		issues = append(issues, Issue{
			Code:    CodeSchemaViolation,
			Field:   violation.Field(),
			Message: violation.Description(),
		})
	}

	return issues, nil
}
