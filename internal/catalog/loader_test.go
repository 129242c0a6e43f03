package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPersonas = `[
  {
    "name": "Maria Santos",
    "age": 34,
    "nationality": "Brazilian",
    "currentStatus": "H-1B holder",
    "visaType": "H-1B",
    "complexityLevel": "medium",
    "backstory": "Software engineer in Austin for six years.",
    "goals": ["Apply for permanent residency"],
    "challenges": ["Priority date backlog"]
  }
]`

const validTools = `[
  {
    "name": "check_case_status",
    "description": "Look up the status of a pending case by receipt number.",
    "category": "case_management",
    "parameters": [
      {"name": "receiptNumber", "type": "string", "description": "USCIS receipt number", "required": true}
    ],
    "returnType": "object",
    "returnDescription": "Case status, last update date, and processing stage."
  }
]`

const validScenarios = `[
  {
    "title": "Green card timeline",
    "category": "visa_application",
    "complexity": "medium",
    "description": "Client asks how long the employment-based green card process takes.",
    "personaIndex": 0,
    "expectedTools": ["check_case_status"],
    "successCriteria": ["Explains the I-140 and I-485 stages"],
    "maxTurns": 6
  }
]`

func writeDataDir(t *testing.T, personas, tools, scenarios string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "personas.json"), []byte(personas), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.json"), []byte(tools), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scenarios.json"), []byte(scenarios), 0o644))
	return dir
}

func TestLoadValidCatalog(t *testing.T) {
	dir := writeDataDir(t, validPersonas, validTools, validScenarios)

	cat, err := Load(dir)
	require.NoError(t, err)

	require.Len(t, cat.Personas, 1)
	require.Len(t, cat.Tools, 1)
	require.Len(t, cat.Scenarios, 1)

	assert.Equal(t, "Maria Santos", cat.Personas[0].Name)
	assert.Equal(t, "check_case_status", cat.Tools[0].Name)
	assert.Equal(t, 6, cat.Scenarios[0].MaxTurns)

	persona := cat.PersonaFor(cat.Scenarios[0])
	assert.Equal(t, "Maria Santos", persona.Name)

	tool, ok := cat.Tool("check_case_status")
	assert.True(t, ok)
	assert.Equal(t, "object", tool.ReturnType)

	_, ok = cat.Tool("nonexistent")
	assert.False(t, ok)
}

func TestLoadPersonaIndexOutOfRange(t *testing.T) {
	scenarios := `[
  {
    "title": "Dangling persona",
    "category": "humanitarian",
    "complexity": "low",
    "description": "References a persona that does not exist.",
    "personaIndex": 7,
    "expectedTools": [],
    "successCriteria": [],
    "maxTurns": 4
  }
]`
	dir := writeDataDir(t, validPersonas, validTools, scenarios)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "personaIndex 7")
}

func TestLoadUnknownExpectedTool(t *testing.T) {
	scenarios := `[
  {
    "title": "Dangling tool",
    "category": "status_change",
    "complexity": "low",
    "description": "References a tool that does not exist.",
    "personaIndex": 0,
    "expectedTools": ["summon_lawyer"],
    "successCriteria": [],
    "maxTurns": 4
  }
]`
	dir := writeDataDir(t, validPersonas, validTools, scenarios)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"summon_lawyer"`)
}

func TestLoadSchemaViolation(t *testing.T) {
	// Missing required fields and an invalid category.
	scenarios := `[
  {
    "title": "Broken",
    "category": "tax_law",
    "personaIndex": 0
  }
]`
	dir := writeDataDir(t, validPersonas, validTools, scenarios)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestScenariosIn(t *testing.T) {
	dir := writeDataDir(t, validPersonas, validTools, validScenarios)
	cat, err := Load(dir)
	require.NoError(t, err)

	assert.Len(t, cat.ScenariosIn(""), 1)
	assert.Len(t, cat.ScenariosIn("visa_application"), 1)
	assert.Empty(t, cat.ScenariosIn("humanitarian"))
}
