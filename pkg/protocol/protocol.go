// Package protocol defines the contracts between the workflow engine and
// its external collaborators. The core never knows the transport behind
// them: email delivery, webhook dispatch, and contact storage are plugged in
// by the hosting process.
package protocol

import "context"

// Message is one outbound email. Literal-content steps arrive fully
// rendered; template steps carry the provider-side template reference plus
// the substitution variables.
type Message struct {
	To         string
	Subject    string
	HTMLBody   string
	TextBody   string
	FromEmail  string
	FromName   string
	TemplateID string
	Variables  map[string]any
}

// DeliveryResult reports a successful send.
type DeliveryResult struct {
	MessageID string
}

// Delivery sends rendered email. Implementations signal transient failures
// (rate limits, provider outages) with errors that unwrap to a retryable
// kind; anything else is treated as permanent.
type Delivery interface {
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}

// WebhookResult is the observed outcome of a webhook call that reached the
// remote end.
type WebhookResult struct {
	StatusCode int
	Body       []byte
}

// WebhookCaller issues the HTTP call configured on a webhook step. A
// returned error means the call never completed (network failure); status
// classification is the engine's concern.
type WebhookCaller interface {
	Call(ctx context.Context, url, method string, headers map[string]string, payload map[string]any) (WebhookResult, error)
}

// ContactStore reads and mutates contact records. Field paths are
// dot-separated (e.g. "order.count").
type ContactStore interface {
	GetField(ctx context.Context, contactID, path string) (any, error)
	SetField(ctx context.Context, contactID, path string, value any) error
	AddTag(ctx context.Context, contactID, tag string) error
	RemoveTag(ctx context.Context, contactID, tag string) error
	Fields(ctx context.Context, contactID string) (map[string]any, error)
}
