package batch

import (
	"context"
	"fmt"

	"github.com/saggiatore-ai/saggiatore/internal/catalog"
	"github.com/saggiatore-ai/saggiatore/internal/engine"
	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/provider"
	"github.com/saggiatore-ai/saggiatore/internal/simulator"
	"github.com/saggiatore-ai/saggiatore/internal/store"
)

// SessionExecutor runs one session's conversation to a terminal state.
// Implementations record conversation outcomes on the session themselves;
// the returned error covers infrastructure failures only.
type SessionExecutor interface {
	Execute(ctx context.Context, sess *models.Session, scenario models.Scenario, persona models.Persona) error
}

// conversationExecutor wires the provider router and the simulators into the
// conversation engine. The tool simulator and the agent system prompt are
// shared across sessions; persona simulators are per session.
type conversationExecutor struct {
	router       *provider.Router
	engine       *engine.Engine
	sessions     store.SessionStore
	simRoute     *provider.Route
	toolSim      *simulator.ToolSimulator
	schemas      []provider.ToolSchema
	systemPrompt string
}

// NewExecutor builds the production SessionExecutor over a loaded catalog.
// It fails when the simulator route is unavailable, since neither personas
// nor tools can be simulated without it.
func NewExecutor(router *provider.Router, eng *engine.Engine, sessions store.SessionStore, cat *catalog.Catalog) (SessionExecutor, error) {
	simRoute, err := router.SimulatorRoute()
	if err != nil {
		return nil, fmt.Errorf("simulator route: %w", err)
	}

	toolSim, err := simulator.NewToolSimulator(cat.Tools, simRoute)
	if err != nil {
		return nil, fmt.Errorf("building tool simulator: %w", err)
	}

	schemas := make([]provider.ToolSchema, 0, len(cat.Tools))
	for _, def := range cat.Tools {
		schemas = append(schemas, provider.ToolSchemaFor(def))
	}

	return &conversationExecutor{
		router:       router,
		engine:       eng,
		sessions:     sessions,
		simRoute:     simRoute,
		toolSim:      toolSim,
		schemas:      schemas,
		systemPrompt: simulator.BuildAgentSystemPrompt(cat.Tools),
	}, nil
}

func (e *conversationExecutor) Execute(ctx context.Context, sess *models.Session, scenario models.Scenario, persona models.Persona) error {
	route, err := e.router.Resolve(sess.ModelID)
	if err != nil {
		// A model that cannot be routed is a session outcome, not a batch
		// failure: the remaining sessions keep running.
		return e.markUnroutable(ctx, sess.ID, err)
	}

	params := engine.Params{
		Session:      sess,
		Agent:        route,
		Persona:      simulator.NewPersonaSimulator(persona, scenario, e.simRoute),
		Tools:        e.toolSim,
		ToolSchemas:  e.schemas,
		SystemPrompt: e.systemPrompt,
		MaxTurns:     scenario.MaxTurns,
	}
	return e.engine.Run(ctx, params)
}

// markUnroutable records a configuration failure on a session that never
// produced a conversation. The status machine only reaches failed through
// running, so the session passes through both transitions.
func (e *conversationExecutor) markUnroutable(ctx context.Context, sessionID string, cause error) error {
	if err := e.sessions.TransitionSession(ctx, sessionID, models.SessionRunning, nil); err != nil {
		return fmt.Errorf("starting unroutable session %s: %w", sessionID, err)
	}
	if err := e.sessions.TransitionSession(ctx, sessionID, models.SessionFailed, func(s *models.Session) {
		s.ErrorMessage = cause.Error()
	}); err != nil {
		return fmt.Errorf("failing unroutable session %s: %w", sessionID, err)
	}
	return nil
}
