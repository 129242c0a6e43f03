// Package engine drives one session's turn loop: agent call, optional tool
// round, counterpart reply, until the turn budget, cancellation, or an error
// ends it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/provider"
	"github.com/saggiatore-ai/saggiatore/internal/store"
)

// AgentCompleter is the routed chat surface for the agent under test.
// *provider.Route satisfies it.
type AgentCompleter interface {
	Complete(ctx context.Context, messages []provider.ChatMessage, tools []provider.ToolSchema) (*provider.ChatResponse, error)
}

// PersonaSpeaker produces the counterpart's lines. Simulation failures are
// recovered inside the speaker, so these methods never fail.
type PersonaSpeaker interface {
	OpeningLine(ctx context.Context) string
	NextLine(ctx context.Context, history []models.Message) string
}

// ToolInvoker simulates one tool call; failures come back as structured
// error payloads.
type ToolInvoker interface {
	Invoke(ctx context.Context, call models.ToolCall) string
}

// Params bundles everything one conversation needs.
type Params struct {
	Session      *models.Session
	Agent        AgentCompleter
	Persona      PersonaSpeaker
	Tools        ToolInvoker
	ToolSchemas  []provider.ToolSchema
	SystemPrompt string
	MaxTurns     int
}

// Engine runs conversations against the session and message stores.
type Engine struct {
	sessions store.SessionStore
	messages store.MessageStore
	now      func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine over the given stores.
func New(sessions store.SessionStore, messages store.MessageStore, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		messages: messages,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one conversation to a terminal state and records the outcome
// on the session. Conversation-level failures mark the session failed and do
// not surface as errors; the returned error covers store failures only.
//
// If cancellation is observed at a checkpoint the loop stops without marking
// the session: the actor that requested cancellation owns the cancelled
// status.
func (e *Engine) Run(ctx context.Context, p Params) error {
	sessID := p.Session.ID

	if err := e.sessions.TransitionSession(ctx, sessID, models.SessionRunning, func(s *models.Session) {
		s.StartedAt = e.now()
	}); err != nil {
		return fmt.Errorf("starting session %s: %w", sessID, err)
	}

	slog.Info("session start",
		"session", sessID,
		"scenario", p.Session.ScenarioTitle,
		"model", p.Session.ModelID,
		"persona", p.Session.PersonaName)

	turns, runErr := e.converse(ctx, p)

	switch {
	case runErr == nil && !e.observedCancellation(ctx, sessID):
		if err := e.sessions.TransitionSession(ctx, sessID, models.SessionCompleted, func(s *models.Session) {
			s.TotalTurns = turns
			now := e.now()
			s.CompletedAt = &now
		}); err != nil {
			return fmt.Errorf("completing session %s: %w", sessID, err)
		}
		slog.Info("session complete", "session", sessID, "model", p.Session.ModelID, "turns", turns)

	case runErr != nil:
		slog.Error("session failed",
			"session", sessID, "model", p.Session.ModelID, "error", runErr)
		err := e.sessions.TransitionSession(ctx, sessID, models.SessionFailed, func(s *models.Session) {
			s.TotalTurns = turns
			s.ErrorMessage = runErr.Error()
			now := e.now()
			s.CompletedAt = &now
		})
		// The session may already be cancelled; that status wins.
		if err != nil && !isAlreadyTerminal(err) {
			return fmt.Errorf("failing session %s: %w", sessID, err)
		}

	default:
		slog.Info("session stopped by cancellation", "session", sessID)
	}

	return nil
}

// converse runs the turn loop and returns the session's turn total. The
// total counts spoken exchange units: a tool round is one turn regardless of
// how many calls it contains.
func (e *Engine) converse(ctx context.Context, p Params) (int, error) {
	sessID := p.Session.ID

	// Turn 0 is always exactly the system message.
	if err := e.append(ctx, models.Message{
		SessionID:  sessID,
		Role:       models.RoleSystem,
		Content:    p.SystemPrompt,
		TurnNumber: 0,
	}); err != nil {
		return 0, err
	}

	// Turn 1: the counterpart opens.
	opening := p.Persona.OpeningLine(ctx)
	if err := e.append(ctx, models.Message{
		SessionID:  sessID,
		Role:       models.RoleUser,
		Content:    opening,
		TurnNumber: 1,
	}); err != nil {
		return 0, err
	}

	history := []provider.ChatMessage{
		{Role: "system", Content: p.SystemPrompt},
		{Role: "user", Content: opening},
	}
	turn := 2

	phase := PhaseAwaitingAgent
	for phase != PhaseDone {
		var ev Event
		var err error

		switch phase {
		case PhaseAwaitingAgent:
			ev, turn, history, err = e.agentStep(ctx, p, turn, history)
		case PhaseAwaitingToolResults:
			// agentStep applies the tool round inline; reaching this phase
			// means the round is already persisted.
			ev = EventToolResultsApplied
		case PhaseAwaitingCounterpart:
			ev, turn, history, err = e.counterpartStep(ctx, p, turn, history)
		}
		if err != nil {
			return e.spokenTurns(ctx, sessID), err
		}

		phase, err = Next(phase, ev)
		if err != nil {
			return e.spokenTurns(ctx, sessID), err
		}
	}

	return turn - 1, nil
}

// agentStep performs one agent call and applies its outcome: a text reply, a
// full tool round, a budget stop, or a cancellation stop.
func (e *Engine) agentStep(ctx context.Context, p Params, turn int, history []provider.ChatMessage) (Event, int, []provider.ChatMessage, error) {
	if turn > p.MaxTurns {
		return EventBudgetExhausted, turn, history, nil
	}
	if e.observedCancellation(ctx, p.Session.ID) {
		return EventCancelled, turn, history, nil
	}

	resp, err := p.Agent.Complete(ctx, history, p.ToolSchemas)
	if err != nil {
		return 0, turn, history, fmt.Errorf("agent call: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		if err := e.append(ctx, models.Message{
			SessionID:  p.Session.ID,
			Role:       models.RoleAssistant,
			Content:    resp.Content,
			TurnNumber: turn,
		}); err != nil {
			return 0, turn, history, err
		}
		history = append(history, provider.ChatMessage{Role: "assistant", Content: resp.Content})
		return EventAgentText, turn + 1, history, nil
	}

	history, err = e.toolRound(ctx, p, turn, history, resp)
	if err != nil {
		return 0, turn, history, err
	}
	// One turn increment per tool round, regardless of call count.
	return EventAgentToolCalls, turn + 1, history, nil
}

// toolRound persists the assistant's tool-call message, runs the simulations
// concurrently, and applies the results in the agent's requested order so
// transcript replay stays deterministic.
func (e *Engine) toolRound(ctx context.Context, p Params, turn int, history []provider.ChatMessage, resp *provider.ChatResponse) ([]provider.ChatMessage, error) {
	calls := make([]models.ToolCall, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		calls[i] = models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	}

	if err := e.append(ctx, models.Message{
		SessionID:  p.Session.ID,
		Role:       models.RoleAssistant,
		Content:    resp.Content,
		TurnNumber: turn,
		ToolCalls:  calls,
	}); err != nil {
		return history, err
	}

	results := make([]string, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = p.Tools.Invoke(gctx, call)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return history, err
	}

	history = append(history, provider.ChatMessage{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	for i, call := range calls {
		if err := e.append(ctx, models.Message{
			SessionID:  p.Session.ID,
			Role:       models.RoleTool,
			Content:    results[i],
			TurnNumber: turn,
			ToolCallID: call.ID,
		}); err != nil {
			return history, err
		}
		history = append(history, provider.ChatMessage{
			Role:       "tool",
			Content:    results[i],
			ToolCallID: call.ID,
		})
	}

	return history, nil
}

// counterpartStep obtains and persists the persona's next line.
func (e *Engine) counterpartStep(ctx context.Context, p Params, turn int, history []provider.ChatMessage) (Event, int, []provider.ChatMessage, error) {
	if turn > p.MaxTurns {
		return EventBudgetExhausted, turn, history, nil
	}
	if e.observedCancellation(ctx, p.Session.ID) {
		return EventCancelled, turn, history, nil
	}

	transcript, err := e.messages.MessagesBySession(ctx, p.Session.ID)
	if err != nil {
		return 0, turn, history, err
	}

	line := p.Persona.NextLine(ctx, transcript)
	if err := e.append(ctx, models.Message{
		SessionID:  p.Session.ID,
		Role:       models.RoleUser,
		Content:    line,
		TurnNumber: turn,
	}); err != nil {
		return 0, turn, history, err
	}

	history = append(history, provider.ChatMessage{Role: "user", Content: line})
	return EventCounterpartSpoke, turn + 1, history, nil
}

func (e *Engine) append(ctx context.Context, m models.Message) error {
	m.Timestamp = e.now()
	if err := e.messages.AppendMessage(ctx, &m); err != nil {
		return fmt.Errorf("persisting %s message: %w", m.Role, err)
	}
	return nil
}

// observedCancellation is the cooperative checkpoint: it looks at the
// context and at the stored session status, never at in-flight calls.
func (e *Engine) observedCancellation(ctx context.Context, sessionID string) bool {
	if ctx.Err() != nil {
		return true
	}
	sess, err := e.sessions.Session(ctx, sessionID)
	if err != nil {
		return false
	}
	return sess.Status == models.SessionCancelled
}

// spokenTurns counts user and assistant messages, the turn total reported
// for sessions that fail mid-conversation.
func (e *Engine) spokenTurns(ctx context.Context, sessionID string) int {
	msgs, err := e.messages.MessagesBySession(ctx, sessionID)
	if err != nil {
		return 0
	}
	n := 0
	for _, m := range msgs {
		if m.Role == models.RoleUser || m.Role == models.RoleAssistant {
			n++
		}
	}
	return n
}

func isAlreadyTerminal(err error) bool {
	return errors.Is(err, store.ErrInvalidTransition)
}
