package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the JSON payload of a model response. Text fenced with ```json
// yields the part up to the next fence; otherwise the part between the first two ```
// markers; otherwise the whole trimmed text.
func ExtractJSON(text string) string {
	if _, after, ok := strings.Cut(text, "```json"); ok {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}
	if _, after, ok := strings.Cut(text, "```"); ok {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(text)
}

// DecodeJSON extracts and unmarshals a model response into v.
func DecodeJSON(provider, text string, v any) error {
	payload := ExtractJSON(text)
	if payload == "" {
		return &ParseError{Provider: provider, Reason: "empty response"}
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return &ParseError{Provider: provider, Reason: "malformed JSON", Err: err}
	}
	return nil
}
