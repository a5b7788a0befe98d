package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/beaconcrm/journey/pkg/models"
)

var allowedWebhookMethods = map[string]bool{
	"GET":   true,
	"POST":  true,
	"PUT":   true,
	"PATCH": true,
}

// Validate runs the full static analysis over a step collection. It is pure
// and synchronous: no I/O, no state.
//
// Rule order: empty check (short-circuits), exactly-one-trigger, per-step
// field validation, connectivity (blocking), cycle detection (warning), and
// reachability (warning, same traversal as connectivity).
func Validate(steps []*models.Step) Result {
	result := newResult()

	if len(steps) == 0 {
		result.addError(Issue{
			Code:    CodeEmptyWorkflow,
			Message: "workflow has no steps",
		})

		return result.finalize()
	}

	trigger := validateTriggerCount(steps, result)

	for _, step := range steps {
		validateStepFields(step, result)
	}

	reached := traverseFromTrigger(steps, trigger)

	for _, step := range steps {
		if trigger != nil && !reached[step.ID] {
			result.addError(Issue{
				Code:    CodeDisconnectedStep,
				StepID:  step.ID,
				Message: fmt.Sprintf("step %s is not connected to the trigger", step.ID),
			})
		}
	}

	detectCycles(steps, trigger, result)

	// Unreachable and disconnected are deliberately the same traversal: a
	// step the BFS never visits can never execute. Reported separately as a
	// warning so the author surface can distinguish the two findings.
	for _, step := range steps {
		if trigger != nil && !reached[step.ID] {
			result.addWarning(Issue{
				Code:    CodeUnreachableStep,
				StepID:  step.ID,
				Message: fmt.Sprintf("step %s can never execute", step.ID),
			})
		}
	}

	return result.finalize()
}

// validateTriggerCount enforces the exactly-one-trigger rule and returns the
// trigger step when present. A missing trigger is additive: the remaining
// checks still run.
func validateTriggerCount(steps []*models.Step, result *Result) *models.Step {
	var trigger *models.Step

	count := 0

	for _, step := range steps {
		if step.Type == models.StepTypeTrigger {
			count++

			if trigger == nil {
				trigger = step
			}
		}
	}

	if count == 0 {
		result.addError(Issue{
			Code:    CodeNoTrigger,
			Message: "workflow has no trigger step",
		})
	}

	return trigger
}

// validateStepFields dispatches per-type field validation over the config
// union.
func validateStepFields(step *models.Step, result *Result) {
	switch config := step.Config.(type) {
	case models.TriggerConfig:
		if strings.TrimSpace(config.Event) == "" {
			result.addError(Issue{
				Code:    CodeMissingTriggerEvent,
				StepID:  step.ID,
				Field:   "event",
				Message: "trigger step requires an event identifier",
			})
		}
	case models.DelayConfig:
		if config.Duration <= 0 {
			result.addError(Issue{
				Code:    CodeInvalidDelayDuration,
				StepID:  step.ID,
				Field:   "duration",
				Message: "delay duration must be greater than zero",
			})
		}

		if !models.KnownDelayUnit(config.Unit) {
			result.addError(Issue{
				Code:    CodeInvalidDelayUnit,
				StepID:  step.ID,
				Field:   "unit",
				Message: fmt.Sprintf("unknown delay unit %q", config.Unit),
			})
		}
	case models.EmailConfig:
		validateEmailConfig(step, config, result)
	case models.ConditionConfig:
		validateConditionConfig(step, config, result)
	case models.TagConfig:
		if strings.TrimSpace(config.Tag) == "" {
			result.addError(Issue{
				Code:    CodeMissingTagName,
				StepID:  step.ID,
				Field:   "tag",
				Message: "tag step requires a tag name",
			})
		}
	case models.WebhookConfig:
		validateWebhookConfig(step, config, result)
	case models.FieldConfig:
		if strings.TrimSpace(config.Field) == "" {
			result.addError(Issue{
				Code:    CodeMissingUpdateField,
				StepID:  step.ID,
				Field:   "field",
				Message: "update_field step requires a field name",
			})
		}

		if config.Value == nil {
			result.addError(Issue{
				Code:    CodeMissingUpdateValue,
				StepID:  step.ID,
				Field:   "value",
				Message: "update_field step requires a value",
			})
		}
	default:
		if !models.KnownStepType(step.Type) {
			result.addError(Issue{
				Code:    CodeInvalidStepType,
				StepID:  step.ID,
				Message: fmt.Sprintf("unknown step type %q", step.Type),
			})

			return
		}

		// Known type with a missing config object: report the most specific
		// per-type code for an absent required field.
		validateMissingConfig(step, result)
	}
}

func validateMissingConfig(step *models.Step, result *Result) {
	switch step.Type {
	case models.StepTypeTrigger:
		result.addError(Issue{
			Code:    CodeMissingTriggerEvent,
			StepID:  step.ID,
			Field:   "event",
			Message: "trigger step requires an event identifier",
		})
	case models.StepTypeDelay:
		result.addError(Issue{
			Code:    CodeInvalidDelayDuration,
			StepID:  step.ID,
			Field:   "duration",
			Message: "delay duration must be greater than zero",
		})
	case models.StepTypeSendEmail:
		result.addError(Issue{
			Code:    CodeMissingEmailTemplate,
			StepID:  step.ID,
			Message: "send_email step requires a template or subject and content",
		})
	case models.StepTypeCondition:
		result.addError(Issue{
			Code:    CodeMissingConditions,
			StepID:  step.ID,
			Field:   "conditions",
			Message: "condition step requires at least one condition",
		})
	case models.StepTypeAddTag, models.StepTypeRemoveTag:
		result.addError(Issue{
			Code:    CodeMissingTagName,
			StepID:  step.ID,
			Field:   "tag",
			Message: "tag step requires a tag name",
		})
	case models.StepTypeWebhook:
		result.addError(Issue{
			Code:    CodeMissingWebhookURL,
			StepID:  step.ID,
			Field:   "url",
			Message: "webhook step requires a URL",
		})
	case models.StepTypeUpdateField:
		result.addError(Issue{
			Code:    CodeMissingUpdateField,
			StepID:  step.ID,
			Field:   "field",
			Message: "update_field step requires a field name",
		})
	}
}

// validateEmailConfig accepts either a template reference or literal subject
// and content.
func validateEmailConfig(step *models.Step, config models.EmailConfig, result *Result) {
	if config.TemplateID != "" {
		return
	}

	if config.Subject == "" {
		result.addError(Issue{
			Code:    CodeMissingEmailTemplate,
			StepID:  step.ID,
			Field:   "subject",
			Message: "send_email step requires a template or a subject",
		})
	}

	if config.Content == "" {
		result.addError(Issue{
			Code:    CodeMissingEmailContent,
			StepID:  step.ID,
			Field:   "content",
			Message: "send_email step requires a template or content",
		})
	}
}

func validateConditionConfig(step *models.Step, config models.ConditionConfig, result *Result) {
	if len(config.Conditions) == 0 {
		result.addError(Issue{
			Code:    CodeMissingConditions,
			StepID:  step.ID,
			Field:   "conditions",
			Message: "condition step requires at least one condition",
		})
	}

	for i, condition := range config.Conditions {
		if strings.TrimSpace(condition.Field) == "" {
			result.addError(Issue{
				Code:    CodeMissingConditionField,
				StepID:  step.ID,
				Field:   fmt.Sprintf("conditions[%d].field", i),
				Message: "condition requires a field",
			})
		}

		if condition.Operator == "" {
			result.addError(Issue{
				Code:    CodeMissingConditionOperator,
				StepID:  step.ID,
				Field:   fmt.Sprintf("conditions[%d].operator", i),
				Message: "condition requires an operator",
			})
		}
	}

	hasTrue := step.TrueBranch != nil && *step.TrueBranch != ""
	hasFalse := step.FalseBranch != nil && *step.FalseBranch != ""

	if !hasTrue && !hasFalse {
		result.addError(Issue{
			Code:    CodeMissingConditionBranches,
			StepID:  step.ID,
			Message: "condition step requires at least one branch",
		})
	}
}

func validateWebhookConfig(step *models.Step, config models.WebhookConfig, result *Result) {
	if strings.TrimSpace(config.URL) == "" {
		result.addError(Issue{
			Code:    CodeMissingWebhookURL,
			StepID:  step.ID,
			Field:   "url",
			Message: "webhook step requires a URL",
		})
	} else if !validWebhookURL(config.URL) {
		result.addError(Issue{
			Code:    CodeInvalidWebhookURL,
			StepID:  step.ID,
			Field:   "url",
			Message: fmt.Sprintf("webhook URL %q is not valid", config.URL),
		})
	}

	if !allowedWebhookMethods[strings.ToUpper(config.Method)] {
		result.addError(Issue{
			Code:    CodeInvalidWebhookMethod,
			StepID:  step.ID,
			Field:   "method",
			Message: fmt.Sprintf("webhook method %q is not one of GET, POST, PUT, PATCH", config.Method),
		})
	}
}

func validWebhookURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// traverseFromTrigger runs the breadth-first traversal used by both the
// connectivity and reachability checks. Returns the set of visited step ids;
// empty when there is no trigger.
func traverseFromTrigger(steps []*models.Step, trigger *models.Step) map[string]bool {
	visited := make(map[string]bool)

	if trigger == nil {
		return visited
	}

	index := make(map[string]*models.Step, len(steps))
	for _, step := range steps {
		index[step.ID] = step
	}

	queue := []string{trigger.ID}
	visited[trigger.ID] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		step, ok := index[current]
		if !ok {
			continue
		}

		for _, next := range successorIDs(step) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	return visited
}

// detectCycles runs a depth-first traversal from the trigger with an
// explicit recursion stack. Cycles are flagged, not rejected: a workflow may
// legitimately loop with an exit condition elsewhere.
func detectCycles(steps []*models.Step, trigger *models.Step, result *Result) {
	if trigger == nil {
		return
	}

	index := make(map[string]*models.Step, len(steps))
	for _, step := range steps {
		index[step.ID] = step
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	reported := make(map[string]bool)

	var walk func(id string, path []string)

	walk = func(id string, path []string) {
		step, ok := index[id]
		if !ok {
			return
		}

		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, next := range successorIDs(step) {
			if onStack[next] {
				if !reported[next] {
					reported[next] = true
					result.addWarning(Issue{
						Code:    CodeCircularDependency,
						StepID:  next,
						Message: fmt.Sprintf("cycle detected: %s -> %s", strings.Join(cyclePath(path, next), " -> "), next),
					})
				}

				continue
			}

			if !visited[next] {
				walk(next, path)
			}
		}

		onStack[id] = false
	}

	walk(trigger.ID, nil)
}

// cyclePath trims the DFS path to the segment forming the cycle.
func cyclePath(path []string, start string) []string {
	for i, id := range path {
		if id == start {
			return path[i:]
		}
	}

	return path
}

func successorIDs(step *models.Step) []string {
	if step.Type == models.StepTypeCondition {
		ids := make([]string, 0, 2)
		if step.TrueBranch != nil && *step.TrueBranch != "" {
			ids = append(ids, *step.TrueBranch)
		}

		if step.FalseBranch != nil && *step.FalseBranch != "" {
			ids = append(ids, *step.FalseBranch)
		}

		return ids
	}

	if step.Next != nil && *step.Next != "" {
		return []string{*step.Next}
	}

	return nil
}
