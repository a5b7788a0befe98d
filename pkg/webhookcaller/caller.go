// Package webhookcaller implements the webhook step's outbound HTTP call.
package webhookcaller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/beaconcrm/journey/pkg/protocol"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseBytes bounds how much of the response body is kept.
	maxResponseBytes = 64 * 1024
)

// HTTPCaller issues webhook calls over net/http. Retry policy is not its
// concern: it reports what happened and the engine classifies the outcome.
type HTTPCaller struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPCaller creates a caller with the default timeout.
func NewHTTPCaller(logger *slog.Logger) *HTTPCaller {
	return &HTTPCaller{
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger.With("module", "webhookcaller"),
	}
}

// Call sends the JSON payload to the configured URL. A returned error means
// the request never completed.
func (c *HTTPCaller) Call(ctx context.Context, url, method string, headers map[string]string, payload map[string]any) (protocol.WebhookResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return protocol.WebhookResult{}, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	if method == "" {
		method = http.MethodPost
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bodyReader)
	if err != nil {
		return protocol.WebhookResult{}, fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return protocol.WebhookResult{}, fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return protocol.WebhookResult{}, fmt.Errorf("failed to read webhook response: %w", err)
	}

	c.logger.Debug("Webhook call finished", "url", url, "status", resp.StatusCode)

	return protocol.WebhookResult{
		StatusCode: resp.StatusCode,
		Body:       responseBody,
	}, nil
}
