// Package simulator generates the counterpart persona's utterances and
// simulated tool results using a fixed low-cost model.
package simulator

import (
	"context"
	"log/slog"

	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/provider"
)

// FallbackLine is returned when persona generation fails; simulation errors
// never abort a session.
const FallbackLine = "I'm not sure what to say."

// Completer is the chat surface the simulators need. *provider.Route
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, messages []provider.ChatMessage, tools []provider.ToolSchema) (*provider.ChatResponse, error)
}

// PersonaSimulator roleplays the immigration client in a session.
type PersonaSimulator struct {
	persona      models.Persona
	scenario     models.Scenario
	llm          Completer
	systemPrompt string
}

// NewPersonaSimulator builds a simulator for one persona in one scenario.
func NewPersonaSimulator(persona models.Persona, scenario models.Scenario, llm Completer) *PersonaSimulator {
	return &PersonaSimulator{
		persona:      persona,
		scenario:     scenario,
		llm:          llm,
		systemPrompt: BuildPersonaSystemPrompt(persona, scenario),
	}
}

// OpeningLine generates the persona's first message. With no history, the
// persona introduces itself based on the system prompt alone.
func (s *PersonaSimulator) OpeningLine(ctx context.Context) string {
	messages := []provider.ChatMessage{
		{Role: "system", Content: s.systemPrompt},
	}
	return s.generate(ctx, messages)
}

// NextLine generates the persona's next response given the transcript so
// far. The transcript is re-projected from the persona's point of view:
// its own prior lines (role=user in the main log) become assistant turns,
// the agent's text becomes user input, and system/tool messages are dropped.
func (s *PersonaSimulator) NextLine(ctx context.Context, history []models.Message) string {
	messages := []provider.ChatMessage{
		{Role: "system", Content: s.systemPrompt},
	}

	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			messages = append(messages, provider.ChatMessage{
				Role:    "assistant",
				Content: msg.Content,
			})
		case models.RoleAssistant:
			if msg.Content != "" {
				messages = append(messages, provider.ChatMessage{
					Role:    "user",
					Content: msg.Content,
				})
			}
		}
	}

	return s.generate(ctx, messages)
}

func (s *PersonaSimulator) generate(ctx context.Context, messages []provider.ChatMessage) string {
	resp, err := s.llm.Complete(ctx, messages, nil)
	if err != nil {
		slog.Warn("persona generation failed, using fallback line",
			"persona", s.persona.Name, "error", err)
		return FallbackLine
	}
	if resp.Content == "" {
		return FallbackLine
	}
	return resp.Content
}
