// Package config provides environment-backed settings and the YAML batch
// run-spec loader.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Default values for settings. These are the single source of truth — other
// code should reference them rather than duplicating the literals.
const (
	DefaultSimulatorModel = "gpt-4o-mini"
	DefaultScorerProject  = "saggiatore"
	DefaultScorerStream   = "agent-eval"

	DefaultMaxWorkers = 4
)

// Settings holds API credentials and fixed model choices, loaded from the
// environment (optionally seeded from a .env file).
type Settings struct {
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	GroqAPIKey       string

	ScorerAPIKey  string
	ScorerBaseURL string
	ScorerProject string
	ScorerStream  string

	SimulatorModel string
}

// Load reads settings from the environment. If envFile is non-empty and the
// file exists it is loaded first without overriding already-set variables.
func Load(envFile string) (*Settings, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
	}

	s := &Settings{
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		GroqAPIKey:       os.Getenv("GROQ_API_KEY"),
		ScorerAPIKey:     os.Getenv("SCORER_API_KEY"),
		ScorerBaseURL:    os.Getenv("SCORER_BASE_URL"),
		ScorerProject:    envOr("SCORER_PROJECT", DefaultScorerProject),
		ScorerStream:     envOr("SCORER_LOG_STREAM", DefaultScorerStream),
		SimulatorModel:   envOr("SIMULATOR_MODEL", DefaultSimulatorModel),
	}

	return s, nil
}

// KeyFor returns the API key stored under the given environment variable
// name, or empty if the variable is not one of the known provider keys.
func (s *Settings) KeyFor(envKey string) string {
	switch envKey {
	case "OPENAI_API_KEY":
		return s.OpenAIAPIKey
	case "OPENROUTER_API_KEY":
		return s.OpenRouterAPIKey
	case "GROQ_API_KEY":
		return s.GroqAPIKey
	}
	return ""
}

// ScorerConfigured reports whether external scoring credentials are present.
func (s *Settings) ScorerConfigured() bool {
	return s.ScorerAPIKey != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
