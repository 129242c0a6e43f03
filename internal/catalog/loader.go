// Package catalog loads the shared JSON data files (personas, tools,
// scenarios), validates them against embedded JSON Schemas, and checks
// cross-references between them.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/saggiatore-ai/saggiatore/internal/models"
)

// Catalog holds the validated contents of a data directory.
type Catalog struct {
	Personas  []models.Persona
	Tools     []models.ToolDefinition
	Scenarios []models.Scenario
}

// Load reads personas.json, tools.json, and scenarios.json from dataDir,
// validates each against its schema, and checks cross-references:
// every scenario's personaIndex must be in range and every name in its
// expectedTools must exist in tools.json.
func Load(dataDir string) (*Catalog, error) {
	personas, err := LoadPersonas(dataDir)
	if err != nil {
		return nil, err
	}
	tools, err := LoadTools(dataDir)
	if err != nil {
		return nil, err
	}
	scenarios, err := LoadScenarios(dataDir)
	if err != nil {
		return nil, err
	}

	toolNames := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		toolNames[t.Name] = struct{}{}
	}

	for i, sc := range scenarios {
		if sc.PersonaIndex >= len(personas) {
			return nil, fmt.Errorf(
				"scenario %d (%q) references personaIndex %d, but only %d personas exist",
				i, sc.Title, sc.PersonaIndex, len(personas))
		}
		for _, name := range sc.ExpectedTools {
			if _, ok := toolNames[name]; !ok {
				return nil, fmt.Errorf(
					"scenario %d (%q) references tool %q which doesn't exist in tools.json",
					i, sc.Title, name)
			}
		}
	}

	slog.Debug("catalog loaded",
		"personas", len(personas),
		"tools", len(tools),
		"scenarios", len(scenarios))

	return &Catalog{Personas: personas, Tools: tools, Scenarios: scenarios}, nil
}

// LoadPersonas loads and validates data/personas.json.
func LoadPersonas(dataDir string) ([]models.Persona, error) {
	var personas []models.Persona
	if err := loadFile(dataDir, "personas.json", "personas.schema.json", &personas); err != nil {
		return nil, err
	}
	return personas, nil
}

// LoadTools loads and validates data/tools.json.
func LoadTools(dataDir string) ([]models.ToolDefinition, error) {
	var tools []models.ToolDefinition
	if err := loadFile(dataDir, "tools.json", "tools.schema.json", &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// LoadScenarios loads and validates data/scenarios.json.
func LoadScenarios(dataDir string) ([]models.Scenario, error) {
	var scenarios []models.Scenario
	if err := loadFile(dataDir, "scenarios.json", "scenarios.schema.json", &scenarios); err != nil {
		return nil, err
	}
	return scenarios, nil
}

// Tool returns the named tool definition, if present.
func (c *Catalog) Tool(name string) (models.ToolDefinition, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return models.ToolDefinition{}, false
}

// PersonaFor returns the persona a scenario references. The cross-reference
// check in Load guarantees the index is in range for loaded catalogs.
func (c *Catalog) PersonaFor(sc models.Scenario) models.Persona {
	return c.Personas[sc.PersonaIndex]
}

// ScenariosIn filters scenarios by category; an empty category selects all.
func (c *Catalog) ScenariosIn(category string) []models.Scenario {
	if category == "" {
		return c.Scenarios
	}
	var out []models.Scenario
	for _, sc := range c.Scenarios {
		if sc.Category == category {
			out = append(out, sc)
		}
	}
	return out
}

func loadFile(dataDir, fileName, schemaName string, out any) error {
	path := filepath.Join(dataDir, fileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := validateDocument(schemaName, raw); err != nil {
		return fmt.Errorf("%s: %w", fileName, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s: %w", fileName, err)
	}
	return nil
}
