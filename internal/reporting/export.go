package reporting

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/scoring"
	"github.com/saggiatore-ai/saggiatore/internal/store"
)

// maxExportedContent caps exported message bodies. System prompts are
// replaced wholesale; they are large and identical across sessions.
const maxExportedContent = 500

// sessionExport is the JSON shape of one exported session.
type sessionExport struct {
	ScenarioTitle    string               `json:"scenario_title"`
	ScenarioCategory string               `json:"scenario_category"`
	ModelID          string               `json:"model_id"`
	PersonaName      string               `json:"persona_name"`
	Status           models.SessionStatus `json:"status"`
	TotalTurns       int                  `json:"total_turns"`
	OverallScore     float64              `json:"overall_score"`
	Metrics          *models.MetricScores `json:"metrics"`
	FailureAnalysis  []string             `json:"failure_analysis,omitempty"`
	TraceRef         string               `json:"trace_ref,omitempty"`
	ConsoleURL       string               `json:"console_url,omitempty"`
	StartedAt        time.Time            `json:"started_at"`
	CompletedAt      *time.Time           `json:"completed_at"`
	Messages         []messageExport      `json:"messages"`
}

type messageExport struct {
	Role       models.MessageRole `json:"role"`
	Content    string             `json:"content"`
	TurnNumber int                `json:"turn_number"`
	ToolCalls  []models.ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
}

// rankedExport is the JSON shape of one exported leaderboard row.
type rankedExport struct {
	Rank             int                 `json:"rank"`
	ModelID          string              `json:"model_id"`
	OverallScore     float64             `json:"overall_score"`
	TotalEvaluations int                 `json:"total_evaluations"`
	Metrics          models.MetricScores `json:"metrics"`
	CategoryScores   map[string]float64  `json:"category_scores"`
}

// runSummary is the JSON shape of the exported run metadata.
type runSummary struct {
	RunID             string             `json:"run_id"`
	Timestamp         time.Time          `json:"timestamp"`
	TotalSessions     int                `json:"total_sessions"`
	Completed         int                `json:"completed"`
	Failed            int                `json:"failed"`
	ModelsEvaluated   []string           `json:"models_evaluated"`
	ScenariosRun      []string           `json:"scenarios_run"`
	CategoriesCovered []string           `json:"categories_covered"`
	MetricWeights     map[string]float64 `json:"metric_weights"`
	TopModel          string             `json:"top_model,omitempty"`
	TopScore          float64            `json:"top_score"`
}

// Exporter writes one batch's results to disk.
type Exporter struct {
	store store.Store
	now   func() time.Time
}

// ExporterOption customizes an Exporter.
type ExporterOption func(*Exporter)

// WithExportClock replaces the wall clock, for tests.
func WithExportClock(now func() time.Time) ExporterOption {
	return func(e *Exporter) { e.now = now }
}

// NewExporter builds an Exporter over the store.
func NewExporter(s store.Store, opts ...ExporterOption) *Exporter {
	e := &Exporter{store: s, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes sessions, leaderboard (JSON and CSV), and summary files for
// one batch into outputDir, prefixed by runID. An empty runID defaults to a
// timestamp. Returns the runID used.
func (e *Exporter) Export(ctx context.Context, batchID, outputDir, runID string) (string, error) {
	if runID == "" {
		runID = e.now().Format("20060102_150405")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	sessions, err := e.store.SessionsByBatch(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("loading batch sessions: %w", err)
	}

	exports, err := e.sessionExports(ctx, sessions)
	if err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(outputDir, runID+"_sessions.json"), exports); err != nil {
		return "", err
	}

	ranked, err := e.rankedExports(ctx, batchID)
	if err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(outputDir, runID+"_leaderboard.json"), ranked); err != nil {
		return "", err
	}
	if len(ranked) > 0 {
		if err := writeLeaderboardCSV(filepath.Join(outputDir, runID+"_leaderboard.csv"), ranked); err != nil {
			return "", err
		}
	}

	summary := e.summarize(runID, sessions, ranked)
	if err := writeJSON(filepath.Join(outputDir, runID+"_summary.json"), summary); err != nil {
		return "", err
	}

	return runID, nil
}

func (e *Exporter) sessionExports(ctx context.Context, sessions []*models.Session) ([]sessionExport, error) {
	exports := make([]sessionExport, 0, len(sessions))
	for _, sess := range sessions {
		msgs, err := e.store.MessagesBySession(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("loading transcript for %s: %w", sess.ID, err)
		}

		exp := sessionExport{
			ScenarioTitle:    sess.ScenarioTitle,
			ScenarioCategory: sess.ScenarioCategory,
			ModelID:          sess.ModelID,
			PersonaName:      sess.PersonaName,
			Status:           sess.Status,
			TotalTurns:       sess.TotalTurns,
			StartedAt:        sess.StartedAt,
			CompletedAt:      sess.CompletedAt,
			Messages:         make([]messageExport, 0, len(msgs)),
		}

		if eval, err := e.store.EvaluationBySession(ctx, sess.ID); err == nil {
			exp.OverallScore = eval.OverallScore
			exp.FailureAnalysis = eval.FailureAnalysis
			exp.TraceRef = eval.TraceRef
			exp.ConsoleURL = eval.ConsoleURL
			if eval.Scorable() {
				metrics := eval.Metrics
				exp.Metrics = &metrics
			}
		}

		for _, m := range msgs {
			exp.Messages = append(exp.Messages, messageExport{
				Role:       m.Role,
				Content:    exportContent(m),
				TurnNumber: m.TurnNumber,
				ToolCalls:  m.ToolCalls,
				ToolCallID: m.ToolCallID,
			})
		}
		exports = append(exports, exp)
	}
	return exports, nil
}

// exportContent truncates message bodies for export and elides system
// prompts entirely.
func exportContent(m models.Message) string {
	if m.Role == models.RoleSystem {
		return "[system prompt]"
	}
	runes := []rune(m.Content)
	if len(runes) <= maxExportedContent {
		return m.Content
	}
	return string(runes[:maxExportedContent])
}

func (e *Exporter) rankedExports(ctx context.Context, batchID string) ([]rankedExport, error) {
	entries, err := e.store.Snapshot(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("loading batch snapshot: %w", err)
	}

	ranked := make([]rankedExport, 0, len(entries))
	for i, entry := range rankEntries(entries) {
		ranked = append(ranked, rankedExport{
			Rank:             i + 1,
			ModelID:          entry.ModelID,
			OverallScore:     entry.OverallScore,
			TotalEvaluations: entry.EvaluationCount,
			Metrics:          entry.Metrics,
			CategoryScores:   entry.CategoryScores,
		})
	}
	return ranked, nil
}

func (e *Exporter) summarize(runID string, sessions []*models.Session, ranked []rankedExport) runSummary {
	summary := runSummary{
		RunID:         runID,
		Timestamp:     e.now(),
		TotalSessions: len(sessions),
		MetricWeights: scoring.Weights,
	}

	modelSet := map[string]bool{}
	scenarioSet := map[string]bool{}
	categorySet := map[string]bool{}
	for _, s := range sessions {
		modelSet[s.ModelID] = true
		scenarioSet[s.ScenarioTitle] = true
		categorySet[s.ScenarioCategory] = true
		switch s.Status {
		case models.SessionCompleted:
			summary.Completed++
		case models.SessionFailed, models.SessionCancelled, models.SessionTimeout:
			summary.Failed++
		}
	}
	summary.ModelsEvaluated = sortedKeys(modelSet)
	summary.ScenariosRun = sortedKeys(scenarioSet)
	summary.CategoriesCovered = sortedKeys(categorySet)

	if len(ranked) > 0 {
		summary.TopModel = ranked[0].ModelID
		summary.TopScore = ranked[0].OverallScore
	}
	return summary
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeLeaderboardCSV(path string, ranked []rankedExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"rank", "model_id", "overall_score", "total_evaluations",
		"tool_accuracy", "factual_correctness", "completeness", "empathy", "safety_compliance",
	}
	for _, cat := range models.Categories {
		header = append(header, "cat_"+cat)
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, r := range ranked {
		row := []string{
			strconv.Itoa(r.Rank),
			r.ModelID,
			formatScore(r.OverallScore),
			strconv.Itoa(r.TotalEvaluations),
			formatScore(r.Metrics.ToolAccuracy),
			formatScore(r.Metrics.FactualCorrectness),
			formatScore(r.Metrics.Completeness),
			formatScore(r.Metrics.Empathy),
			formatScore(r.Metrics.SafetyCompliance),
		}
		for _, cat := range models.Categories {
			row = append(row, formatScore(r.CategoryScores[cat]))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
