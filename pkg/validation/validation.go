// Package validation provides static analysis of workflow step graphs:
// structural completeness, per-step field checks, connectivity, cycle
// detection, and reachability.
package validation

// Issue codes reported by Validate. Errors block activation; warnings are
// advisory only.
const (
	CodeEmptyWorkflow            = "EMPTY_WORKFLOW"
	CodeNoTrigger                = "NO_TRIGGER"
	CodeMissingTriggerEvent      = "MISSING_TRIGGER_EVENT"
	CodeInvalidDelayDuration     = "INVALID_DELAY_DURATION"
	CodeInvalidDelayUnit         = "INVALID_DELAY_UNIT"
	CodeMissingEmailTemplate     = "MISSING_EMAIL_TEMPLATE"
	CodeMissingEmailContent      = "MISSING_EMAIL_CONTENT"
	CodeMissingConditions        = "MISSING_CONDITIONS"
	CodeMissingConditionField    = "MISSING_CONDITION_FIELD"
	CodeMissingConditionOperator = "MISSING_CONDITION_OPERATOR"
	CodeMissingConditionBranches = "MISSING_CONDITION_BRANCHES"
	CodeMissingTagName           = "MISSING_TAG_NAME"
	CodeMissingWebhookURL        = "MISSING_WEBHOOK_URL"
	CodeInvalidWebhookURL        = "INVALID_WEBHOOK_URL"
	CodeInvalidWebhookMethod     = "INVALID_WEBHOOK_METHOD"
	CodeMissingUpdateField       = "MISSING_UPDATE_FIELD"
	CodeMissingUpdateValue       = "MISSING_UPDATE_VALUE"
	CodeInvalidStepType          = "INVALID_STEP_TYPE"
	CodeDisconnectedStep         = "DISCONNECTED_STEP"
	CodeCircularDependency       = "CIRCULAR_DEPENDENCY"
	CodeUnreachableStep          = "UNREACHABLE_STEP"
	CodeSchemaViolation          = "SCHEMA_VIOLATION"
)

// Issue is a single validation finding with a machine-readable code.
type Issue struct {
	Code    string `json:"code"`
	StepID  string `json:"step_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Result is the outcome of validating a step collection. Valid is true iff
// the error list is empty; warnings never affect it.
type Result struct {
	Valid    bool    `json:"is_valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

func newResult() *Result {
	return &Result{
		Errors:   make([]Issue, 0),
		Warnings: make([]Issue, 0),
	}
}

func (r *Result) addError(issue Issue) {
	r.Errors = append(r.Errors, issue)
}

func (r *Result) addWarning(issue Issue) {
	r.Warnings = append(r.Warnings, issue)
}

func (r *Result) finalize() Result {
	r.Valid = len(r.Errors) == 0

	return *r
}
