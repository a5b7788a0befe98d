// Package template renders email subjects and bodies against contact fields
// and enrollment context.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Render executes input as a Go text template against data. Used for email
// subject/content interpolation and webhook payload fields.
func Render(input string, data map[string]any) (string, error) {
	tmpl, err := template.
		New("render").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).
		Option("missingkey=zero").
		Parse(input)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", input, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", input, err)
	}

	return buf.String(), nil
}

// Data builds the flat key -> value map templates render against: contact
// fields merged with the enrollment's trigger-time context. Context keys win
// so a snapshot taken at enrollment time stays authoritative.
func Data(contactFields, enrollmentContext map[string]any) map[string]any {
	merged := make(map[string]any, len(contactFields)+len(enrollmentContext))

	for key, value := range contactFields {
		merged[key] = value
	}

	for key, value := range enrollmentContext {
		merged[key] = value
	}

	return merged
}
