package audit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/repomind/repomind/pkg/models"
)

// EnvelopeError means the provider's transport envelope (the chat
// completion wrapper) could not be decoded.
type EnvelopeError struct {
	Provider string
	Cause    error
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("%s: malformed response envelope: %v", e.Provider, e.Cause)
}

func (e *EnvelopeError) Unwrap() error { return e.Cause }

// ResultError means the envelope was fine but the model's payload was
// not the strict JSON analysis object it was asked for.
type ResultError struct {
	Provider string
	Cause    error
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%s: malformed analysis payload: %v", e.Provider, e.Cause)
}

func (e *ResultError) Unwrap() error { return e.Cause }

// stripFences removes a leading/trailing markdown code fence so a
// response like "```json\n{...}\n```" parses. Prose around the fence is
// left alone on purpose: anything but pure JSON after stripping is a
// failure.
func stripFences(s string) string {
	cleaned := strings.TrimSpace(s)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[len("```json"):]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[len("```"):]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}

// parseAnalysisResult strictly decodes a model payload. The whole
// cleaned string must be one JSON object; prefixed prose, HTML error
// pages and truncated JSON all fail. A missing extra field defaults to
// an empty map.
func parseAnalysisResult(provider, payload string) (*models.AnalysisResult, error) {
	cleaned := stripFences(payload)

	var result models.AnalysisResult
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(&result); err != nil {
		return nil, &ResultError{Provider: provider, Cause: err}
	}
	if dec.More() {
		return nil, &ResultError{Provider: provider, Cause: fmt.Errorf("trailing data after JSON object")}
	}
	if result.Extra == nil {
		result.Extra = map[string]any{}
	}
	return &result, nil
}
