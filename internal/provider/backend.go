// Package provider resolves model ids to chat-completion backends and owns
// the wire types shared by all OpenAI-compatible endpoint families.
package provider

import (
	"context"

	"github.com/saggiatore-ai/saggiatore/internal/models"
)

// ChatMessage is one message in a chat-completion request.
type ChatMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ToolCallRef is a tool invocation requested by the model.
type ToolCallRef struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSchema declares one callable tool in a request.
type ToolSchema struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

// FunctionSchema is the function half of a ToolSchema; Parameters is a JSON
// Schema object describing the arguments.
type FunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is one chat-completion call.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []ToolSchema  `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatResponse is the assistant's reply: text, tool calls, or both.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCallRef
}

// Backend performs chat completions against one endpoint family.
type Backend interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Family() models.ProviderFamily
}

// NewToolCallRef builds the wire form of a stored tool call.
func NewToolCallRef(tc models.ToolCall) ToolCallRef {
	return ToolCallRef{
		ID:   tc.ID,
		Type: "function",
		Function: FunctionCall{
			Name:      tc.Name,
			Arguments: tc.Arguments,
		},
	}
}

// ToolSchemaFor converts a catalog tool definition into the wire schema
// attached to agent calls.
func ToolSchemaFor(def models.ToolDefinition) ToolSchema {
	properties := map[string]any{}
	var required []string
	for _, p := range def.Parameters {
		properties[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}

	return ToolSchema{
		Type: "function",
		Function: FunctionSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		},
	}
}
