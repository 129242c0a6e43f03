package models

// Persona is a simulated counterpart character sheet.
type Persona struct {
	Name            string   `json:"name"`
	Age             int      `json:"age"`
	Nationality     string   `json:"nationality"`
	CountryFlag     string   `json:"countryFlag,omitempty"`
	CurrentStatus   string   `json:"currentStatus"`
	VisaType        string   `json:"visaType"`
	ComplexityLevel string   `json:"complexityLevel"`
	Backstory       string   `json:"backstory"`
	Goals           []string `json:"goals"`
	Challenges      []string `json:"challenges"`
	FamilyInfo      string   `json:"familyInfo,omitempty"`
	EmploymentInfo  string   `json:"employmentInfo,omitempty"`
	EducationInfo   string   `json:"educationInfo,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// ToolParameter is one declared parameter of a simulated tool.
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolDefinition describes a simulated API endpoint exposed to the agent.
type ToolDefinition struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Category          string          `json:"category,omitempty"`
	Parameters        []ToolParameter `json:"parameters"`
	ReturnType        string          `json:"returnType"`
	ReturnDescription string          `json:"returnDescription"`
}

// Scenario categories. CategoryDisplay maps them to human-readable labels.
var Categories = []string{
	"visa_application",
	"status_change",
	"family_immigration",
	"deportation_defense",
	"humanitarian",
}

var CategoryDisplay = map[string]string{
	"visa_application":    "Visa Application",
	"status_change":       "Status Change",
	"family_immigration":  "Family Immigration",
	"deportation_defense": "Deportation Defense",
	"humanitarian":        "Humanitarian",
}

// Scenario is a scripted situation pairing a persona with a goal, tool
// expectations, and a turn budget.
type Scenario struct {
	Title           string   `json:"title"`
	Category        string   `json:"category"`
	Complexity      string   `json:"complexity"`
	Description     string   `json:"description"`
	PersonaIndex    int      `json:"personaIndex"`
	ExpectedTools   []string `json:"expectedTools"`
	SuccessCriteria []string `json:"successCriteria"`
	MaxTurns        int      `json:"maxTurns"`
}

// ProviderFamily identifies an API endpoint family.
type ProviderFamily string

const (
	ProviderOpenAI     ProviderFamily = "openai"
	ProviderOpenRouter ProviderFamily = "openrouter"
	ProviderGroq       ProviderFamily = "groq"
)

// ModelConfig describes one model available for evaluation.
type ModelConfig struct {
	ModelID       string         `json:"model_id"`
	DisplayName   string         `json:"display_name"`
	Provider      ProviderFamily `json:"provider"`
	APIModel      string         `json:"api_model"`
	EnvKey        string         `json:"env_key"`
	SupportsTools bool           `json:"supports_tools"`
	Enabled       bool           `json:"enabled"`
}
