package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/provider"
)

// ToolSimulator answers the agent's tool calls with plausible JSON generated
// by the low-cost model. Failures come back as structured error payloads so
// the conversation can continue.
type ToolSimulator struct {
	llm     Completer
	tools   map[string]models.ToolDefinition
	schemas map[string]*jsonschema.Schema
}

// NewToolSimulator builds a simulator over the declared tool set. Argument
// schemas are compiled up front from each tool's parameter list.
func NewToolSimulator(defs []models.ToolDefinition, llm Completer) (*ToolSimulator, error) {
	s := &ToolSimulator{
		llm:     llm,
		tools:   make(map[string]models.ToolDefinition, len(defs)),
		schemas: make(map[string]*jsonschema.Schema, len(defs)),
	}

	for _, def := range defs {
		schema, err := compileArgsSchema(def)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", def.Name, err)
		}
		s.tools[def.Name] = def
		s.schemas[def.Name] = schema
	}
	return s, nil
}

// Invoke simulates one tool call and returns the result payload. It never
// returns an error: unknown tools, bad arguments, and simulator failures all
// yield an {"error": ...} payload.
func (s *ToolSimulator) Invoke(ctx context.Context, call models.ToolCall) string {
	def, ok := s.tools[call.Name]
	if !ok {
		return errorPayload(fmt.Sprintf("unknown tool: %s", call.Name))
	}

	var args any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return errorPayload(fmt.Sprintf("arguments are not valid JSON: %v", err))
	}

	if schema := s.schemas[call.Name]; schema != nil {
		if err := schema.Validate(args); err != nil {
			return errorPayload(fmt.Sprintf("invalid arguments for %s: %v", call.Name, err))
		}
	}

	messages := []provider.ChatMessage{
		{Role: "system", Content: buildToolSimulatorPrompt(def)},
		{Role: "user", Content: "Arguments: " + call.Arguments},
	}

	resp, err := s.llm.Complete(ctx, messages, nil)
	if err != nil {
		slog.Warn("tool simulation failed", "tool", call.Name, "error", err)
		return errorPayload(fmt.Sprintf("Tool simulation error: %v", err))
	}
	if resp.Content == "" {
		return errorPayload("Tool simulation failed")
	}
	return resp.Content
}

func compileArgsSchema(def models.ToolDefinition) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(provider.ToolSchemaFor(def).Function.Parameters)
	if err != nil {
		return nil, fmt.Errorf("serializing argument schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing argument schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("args.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("args.json")
}

func errorPayload(msg string) string {
	payload, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error": "tool simulation failed"}`
	}
	return string(payload)
}
