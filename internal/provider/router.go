package provider

import (
	"context"
	"log/slog"

	"github.com/saggiatore-ai/saggiatore/internal/config"
	"github.com/saggiatore-ai/saggiatore/internal/models"
)

// Registry resolves model ids to configurations. A nil registry means the
// static fallback table is the only source.
type Registry interface {
	Lookup(modelID string) (models.ModelConfig, bool)
}

// fallbackModels is the static table consulted when a model id is absent
// from the registry.
var fallbackModels = []models.ModelConfig{
	{
		ModelID:       "gpt-4o",
		DisplayName:   "GPT-4o",
		Provider:      models.ProviderOpenAI,
		APIModel:      "gpt-4o",
		EnvKey:        "OPENAI_API_KEY",
		SupportsTools: true,
		Enabled:       true,
	},
	{
		ModelID:       "claude-sonnet-4-5",
		DisplayName:   "Claude Sonnet 4.5",
		Provider:      models.ProviderOpenRouter,
		APIModel:      "anthropic/claude-sonnet-4.5",
		EnvKey:        "OPENROUTER_API_KEY",
		SupportsTools: true,
		Enabled:       true,
	},
	{
		ModelID:       "llama-3.3-70b-versatile",
		DisplayName:   "Llama 3.3 70B",
		Provider:      models.ProviderGroq,
		APIModel:      "llama-3.3-70b-versatile",
		EnvKey:        "GROQ_API_KEY",
		SupportsTools: true,
		Enabled:       true,
	},
}

// FallbackModels returns a copy of the static model table.
func FallbackModels() []models.ModelConfig {
	out := make([]models.ModelConfig, len(fallbackModels))
	copy(out, fallbackModels)
	return out
}

// BackendFactory builds a backend for a family and credential. Swappable in
// tests.
type BackendFactory func(family models.ProviderFamily, apiKey string) (Backend, error)

// Router resolves model ids to routes. The routing table is read-only from
// the conversation engine's perspective.
type Router struct {
	registry   Registry
	settings   *config.Settings
	newBackend BackendFactory
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithBackendFactory replaces the real HTTP backend constructor.
func WithBackendFactory(factory BackendFactory) RouterOption {
	return func(r *Router) { r.newBackend = factory }
}

// NewRouter builds a Router over an optional registry and the loaded
// settings.
func NewRouter(registry Registry, settings *config.Settings, opts ...RouterOption) *Router {
	r := &Router{
		registry:   registry,
		settings:   settings,
		newBackend: NewBackend,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route is a resolved model: its configuration plus a ready backend.
type Route struct {
	Model   models.ModelConfig
	backend Backend
}

// Resolve maps a model id to a Route. Lookup order: registry, then the
// static fallback table. Unresolvable ids and missing credentials are
// ConfigurationErrors.
func (r *Router) Resolve(modelID string) (*Route, error) {
	cfg, ok := r.lookup(modelID)
	if !ok {
		return nil, &ConfigurationError{ModelID: modelID, Reason: "not found in registry or fallback table"}
	}

	apiKey := r.settings.KeyFor(cfg.EnvKey)
	if apiKey == "" {
		return nil, &ConfigurationError{
			ModelID: modelID,
			Reason:  cfg.EnvKey + " not configured; set it in your .env file to use " + cfg.DisplayName,
		}
	}

	backend, err := r.newBackend(cfg.Provider, apiKey)
	if err != nil {
		return nil, &ConfigurationError{ModelID: modelID, Reason: err.Error()}
	}

	return &Route{Model: cfg, backend: backend}, nil
}

// SimulatorRoute resolves the fixed low-cost model used by the persona and
// tool simulators. It always runs on the OpenAI family.
func (r *Router) SimulatorRoute() (*Route, error) {
	if r.settings.OpenAIAPIKey == "" {
		return nil, &ConfigurationError{
			ModelID: r.settings.SimulatorModel,
			Reason:  "OPENAI_API_KEY is required for the persona/tool simulator",
		}
	}

	backend, err := r.newBackend(models.ProviderOpenAI, r.settings.OpenAIAPIKey)
	if err != nil {
		return nil, &ConfigurationError{ModelID: r.settings.SimulatorModel, Reason: err.Error()}
	}

	return &Route{
		Model: models.ModelConfig{
			ModelID:       r.settings.SimulatorModel,
			DisplayName:   r.settings.SimulatorModel,
			Provider:      models.ProviderOpenAI,
			APIModel:      r.settings.SimulatorModel,
			EnvKey:        "OPENAI_API_KEY",
			SupportsTools: false,
			Enabled:       true,
		},
		backend: backend,
	}, nil
}

// Available filters the fallback table down to models whose API keys are
// configured.
func (r *Router) Available() []models.ModelConfig {
	var out []models.ModelConfig
	for _, m := range fallbackModels {
		if r.settings.KeyFor(m.EnvKey) != "" {
			out = append(out, m)
		}
	}
	return out
}

func (r *Router) lookup(modelID string) (models.ModelConfig, bool) {
	if r.registry != nil {
		if cfg, ok := r.registry.Lookup(modelID); ok {
			return cfg, true
		}
	}
	for _, m := range fallbackModels {
		if m.ModelID == modelID {
			return m, true
		}
	}
	return models.ModelConfig{}, false
}

// Complete performs one chat completion over the route. Tool schema is only
// attached when the resolved model is tool-capable. If a call that included
// tools fails with a tool-related error, it is retried exactly once with the
// schema omitted; any other error propagates unretried.
func (rt *Route) Complete(ctx context.Context, messages []ChatMessage, tools []ToolSchema) (*ChatResponse, error) {
	if !rt.Model.SupportsTools {
		tools = nil
	}

	req := ChatRequest{
		Model:       rt.Model.APIModel,
		Messages:    messages,
		Tools:       tools,
		Temperature: 0.7,
	}

	resp, err := rt.backend.Complete(ctx, req)
	if err == nil || len(tools) == 0 {
		return resp, err
	}

	if !IsToolRelated(err) {
		return nil, err
	}

	slog.Warn("tool-related provider error, retrying without tools",
		"model", rt.Model.ModelID, "error", err)

	req.Tools = nil
	return rt.backend.Complete(ctx, req)
}
