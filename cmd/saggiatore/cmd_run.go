package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/saggiatore-ai/saggiatore/internal/batch"
	"github.com/saggiatore-ai/saggiatore/internal/catalog"
	"github.com/saggiatore-ai/saggiatore/internal/config"
	"github.com/saggiatore-ai/saggiatore/internal/engine"
	"github.com/saggiatore-ai/saggiatore/internal/leaderboard"
	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/provider"
	"github.com/saggiatore-ai/saggiatore/internal/reporting"
	"github.com/saggiatore-ai/saggiatore/internal/scoring"
	"github.com/saggiatore-ai/saggiatore/internal/store"
)

var (
	runModels      []string
	runCategory    string
	runScenarios   []int
	runWorkers     int
	noScoring      bool
	outputDir      string
	runID          string
	sessionTimeout time.Duration
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [run-spec.yaml]",
		Short: "Run an evaluation batch",
		Long: `Run an evaluation batch: every selected model converses through every
selected scenario, transcripts are scored, and the batch leaderboard is
printed when all sessions finish.

The batch can be described in a YAML run spec, with flags overriding
individual fields, or assembled from flags alone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCommandE,
	}

	cmd.Flags().StringArrayVar(&runModels, "model", nil, "Model to evaluate (can be repeated)")
	cmd.Flags().StringVar(&runCategory, "category", "", "Only run scenarios in this category")
	cmd.Flags().IntSliceVar(&runScenarios, "scenario", nil, "Scenario indices to run (default: all)")
	cmd.Flags().IntVar(&runWorkers, "max-workers", 0, "Number of concurrent sessions (default: 4)")
	cmd.Flags().BoolVar(&noScoring, "no-scoring", false, "Skip external scoring")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory to export results into")
	cmd.Flags().StringVar(&runID, "run-id", "", "Export file prefix (default: timestamp)")
	cmd.Flags().DurationVar(&sessionTimeout, "session-timeout", 0, "Wall-clock cap per session (default: none)")

	return cmd
}

func runCommandE(cmd *cobra.Command, args []string) error {
	spec, err := buildRunSpec(args)
	if err != nil {
		return err
	}

	settings, err := config.Load(envFile)
	if err != nil {
		return err
	}

	cat, err := catalog.Load(dataDir)
	if err != nil {
		return fmt.Errorf("loading catalog from %s: %w", dataDir, err)
	}

	scenarios, personas, err := selectScenarios(cat, spec)
	if err != nil {
		return err
	}

	mem := store.NewMemoryStore()
	router := provider.NewRouter(nil, settings)

	executor, err := batch.NewExecutor(router, engine.New(mem, mem), mem, cat)
	if err != nil {
		return err
	}

	scoringOn := spec.ScoringEnabled()
	if scoringOn && !settings.ScorerConfigured() {
		fmt.Fprintln(cmd.ErrOrStderr(), "SCORER_API_KEY not configured; running without external scoring")
		scoringOn = false
	}
	var scorer batch.EvaluationScorer
	if scoringOn {
		service := scoring.NewHTTPService(
			settings.ScorerBaseURL,
			settings.ScorerAPIKey,
			settings.ScorerProject,
			settings.ScorerStream)
		scorer = scoring.NewScorer(service)
	}

	coord := batch.NewCoordinator(mem, executor, scorer, leaderboard.NewAggregator(mem),
		batch.WithScheduler(batch.NewScheduler(spec.Workers())),
		batch.WithProgress(func(p models.BatchProgress) {
			fmt.Printf("  sessions: %d/%d done (%d failed)\n",
				p.CompletedSessions+p.FailedSessions, p.TotalSessions, p.FailedSessions)
		}))

	plan := batch.Plan{
		Models:         spec.Models,
		Scenarios:      scenarios,
		Personas:       personas,
		Scoring:        scoringOn,
		SessionTimeout: spec.SessionTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := coord.Run(ctx, plan)
	if err != nil {
		return err
	}

	printResults(cmd, mem, result)

	if outputDir != "" {
		exporter := reporting.NewExporter(mem)
		id, err := exporter.Export(context.Background(), result.ID, outputDir, runID)
		if err != nil {
			return fmt.Errorf("exporting results: %w", err)
		}
		fmt.Printf("\nResults exported to %s (run %s)\n", outputDir, id)
	}

	if result.Status != models.BatchCompleted {
		msg := fmt.Sprintf("batch %s finished %s", result.ID, result.Status)
		if result.ErrorMessage != "" {
			msg += ": " + result.ErrorMessage
		}
		return &BatchFailureError{Message: msg}
	}
	return nil
}

// buildRunSpec loads the YAML spec when given and applies flag overrides,
// or assembles a spec from flags alone.
func buildRunSpec(args []string) (*config.RunSpec, error) {
	spec := &config.RunSpec{}
	if len(args) == 1 {
		loaded, err := config.LoadRunSpec(args[0])
		if err != nil {
			return nil, fmt.Errorf("loading run spec: %w", err)
		}
		spec = loaded
	}

	if len(runModels) > 0 {
		spec.Models = runModels
	}
	if runCategory != "" {
		spec.Category = runCategory
	}
	if len(runScenarios) > 0 {
		spec.Scenarios = runScenarios
	}
	if runWorkers > 0 {
		spec.MaxWorkers = runWorkers
	}
	if sessionTimeout > 0 {
		spec.SessionTimeout = sessionTimeout
	}
	if noScoring {
		off := false
		spec.Scoring = &off
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// selectScenarios resolves the spec's scenario selection against the
// catalog. Explicit indices win over the category filter; indices refer to
// positions in scenarios.json.
func selectScenarios(cat *catalog.Catalog, spec *config.RunSpec) ([]models.Scenario, []models.Persona, error) {
	var selected []models.Scenario
	switch {
	case len(spec.Scenarios) > 0:
		for _, idx := range spec.Scenarios {
			if idx >= len(cat.Scenarios) {
				return nil, nil, fmt.Errorf("scenario index %d out of range (%d scenarios)", idx, len(cat.Scenarios))
			}
			selected = append(selected, cat.Scenarios[idx])
		}
	case spec.Category != "":
		selected = cat.ScenariosIn(spec.Category)
		if len(selected) == 0 {
			return nil, nil, fmt.Errorf("no scenarios in category %q", spec.Category)
		}
	default:
		selected = cat.Scenarios
	}

	personas := make([]models.Persona, len(selected))
	for i, sc := range selected {
		personas[i] = cat.PersonaFor(sc)
	}
	return selected, personas, nil
}

func printResults(cmd *cobra.Command, mem *store.MemoryStore, result *models.Batch) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out)
	reporting.WriteBatchSummary(out, result)

	entries, err := mem.Snapshot(context.Background(), result.ID)
	if err != nil || len(entries) == 0 {
		return
	}

	fmt.Fprintln(out)
	reporting.WriteLeaderboard(out, entries)
	fmt.Fprintln(out)
	reporting.WriteCategoryBreakdown(out, entries)
	fmt.Fprintln(out)
	reporting.WriteWeightsFootnote(out)
}
