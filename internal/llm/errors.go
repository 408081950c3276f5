package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ProviderError is a transport or non-2xx failure from a provider call.
// StatusCode is zero when no response was received.
type ProviderError struct {
	Err        error
	Provider   string
	Message    string
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ParseError reports provider output that is not valid JSON or fails validation.
type ParseError struct {
	Err      error
	Provider string
	Reason   string
}

func (e *ParseError) Error() string {
	if e.Provider == "" {
		return "invalid response: " + e.Reason
	}
	return fmt.Sprintf("invalid %s response: %s", e.Provider, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var contextLimitPhrases = []string{
	"context_length",
	"context length",
	"maximum context",
	"max context",
	"token limit",
	"token_limit",
	"too many tokens",
}

// contextLimitPairs match when both words appear, in that order.
var contextLimitPairs = [][2]string{
	{"exceeded", "token"},
	{"input", "too long"},
	{"prompt", "too long"},
}

// IsContextLimitMessage reports whether an error message and status look like the
// prompt exceeded the model's input size.
func IsContextLimitMessage(message string, status int) bool {
	if status == http.StatusRequestEntityTooLarge {
		return true
	}
	if message == "" {
		return false
	}

	lower := strings.ToLower(message)
	for _, phrase := range contextLimitPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	for _, pair := range contextLimitPairs {
		if i := strings.Index(lower, pair[0]); i >= 0 && strings.Contains(lower[i+len(pair[0]):], pair[1]) {
			return true
		}
	}

	if status == http.StatusBadRequest {
		for _, word := range []string{"context", "token", "length"} {
			if strings.Contains(lower, word) {
				return true
			}
		}
	}
	return false
}

// IsContextLimit applies IsContextLimitMessage to err, using the status of a ProviderError.
func IsContextLimit(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return IsContextLimitMessage(perr.Message, perr.StatusCode)
	}
	return IsContextLimitMessage(err.Error(), 0)
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode
	}
	return 0
}
