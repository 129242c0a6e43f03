package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError means a model id could not be resolved to a usable
// backend. It is fatal to the affected session and never retried.
type ConfigurationError struct {
	ModelID string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("model %q: %s", e.ModelID, e.Reason)
}

// ProviderError is a failed chat completion call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// toolRelatedMarkers are error-text fragments that indicate the failure was
// caused by attaching tool schema to a model that can't handle it.
var toolRelatedMarkers = []string{
	"tool_calls",
	"tools",
	"tool use",
	"function",
	"does not support",
}

// IsToolRelated reports whether an error looks like a tool-schema
// incompatibility, which is worth one retry with tools omitted.
func IsToolRelated(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range toolRelatedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
