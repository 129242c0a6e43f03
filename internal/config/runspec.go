package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunSpec is a YAML description of one evaluation batch: which models to
// evaluate against which scenarios, and how to run them.
type RunSpec struct {
	Name     string   `yaml:"name"`
	Models   []string `yaml:"models"`
	Category string   `yaml:"category,omitempty"`

	// Scenarios selects scenario indices; empty means all.
	Scenarios []int `yaml:"scenarios,omitempty"`

	MaxWorkers int `yaml:"max_workers,omitempty"`

	// SessionTimeout caps one conversation's wall-clock time. Zero disables
	// the cap; the conversation is then bounded only by the scenario's
	// max-turn budget.
	SessionTimeout time.Duration `yaml:"session_timeout,omitempty"`

	// Scoring toggles submission of finished transcripts to the external
	// scorer. Disabled runs record no evaluations and leave the
	// leaderboard untouched.
	Scoring *bool `yaml:"scoring,omitempty"`
}

// LoadRunSpec loads and validates a RunSpec from a YAML file.
func LoadRunSpec(path string) (*RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var spec RunSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing run spec: %w", err)
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the spec for internally-consistent values.
func (s *RunSpec) Validate() error {
	if len(s.Models) == 0 {
		return fmt.Errorf("run spec must name at least one model")
	}
	for _, idx := range s.Scenarios {
		if idx < 0 {
			return fmt.Errorf("scenario index %d is negative", idx)
		}
	}
	if s.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must be >= 0, got %d", s.MaxWorkers)
	}
	return nil
}

// Workers returns the effective concurrency for the batch.
func (s *RunSpec) Workers() int {
	if s.MaxWorkers > 0 {
		return s.MaxWorkers
	}
	return DefaultMaxWorkers
}

// ScoringEnabled reports whether transcripts should be submitted for
// external scoring. Defaults to true when unset.
func (s *RunSpec) ScoringEnabled() bool {
	return s.Scoring == nil || *s.Scoring
}
