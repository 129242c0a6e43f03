// Package leaderboard folds individual evaluations into per-model
// aggregates: a running all-time entry per model, and batch-scoped
// snapshots.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/store"
)

// Aggregator maintains leaderboard entries. A single mutex serializes
// read-modify-write cycles so concurrent session completions can't lose
// updates.
type Aggregator struct {
	mu    sync.Mutex
	store store.LeaderboardStore
}

// NewAggregator builds an Aggregator over a leaderboard store.
func NewAggregator(s store.LeaderboardStore) *Aggregator {
	return &Aggregator{store: s}
}

// Apply folds one evaluation into the model's running entry using the
// incremental mean. Evaluations without a trustworthy score (pending,
// error) are skipped: they must never create or touch a leaderboard row.
func (a *Aggregator) Apply(ctx context.Context, eval *models.Evaluation) error {
	if !eval.Scorable() {
		slog.Debug("skipping unscorable evaluation",
			"session", eval.SessionID, "source", eval.Source)
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry, err := a.store.LeaderboardEntry(ctx, eval.ModelID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		entry = &models.LeaderboardEntry{
			ModelID:         eval.ModelID,
			OverallScore:    eval.OverallScore,
			Metrics:         eval.Metrics,
			CategoryScores:  map[string]float64{},
			CategoryCounts:  map[string]int{},
			EvaluationCount: 1,
		}
		if eval.Category != "" {
			entry.CategoryScores[eval.Category] = eval.OverallScore
			entry.CategoryCounts[eval.Category] = 1
		}
	case err != nil:
		return fmt.Errorf("loading leaderboard entry for %s: %w", eval.ModelID, err)
	default:
		fold(entry, eval)
	}

	return a.store.UpsertLeaderboardEntry(ctx, entry)
}

// fold applies the incremental mean newAvg = (oldAvg*n + new) / (n+1) to
// every tracked score. Overall and metric means use the model-wide count;
// each category mean uses that category's own count, so a score never
// dilutes a category it did not touch.
func fold(entry *models.LeaderboardEntry, eval *models.Evaluation) {
	n := entry.EvaluationCount

	entry.OverallScore = incMean(entry.OverallScore, n, eval.OverallScore)
	entry.Metrics.ToolAccuracy = incMean(entry.Metrics.ToolAccuracy, n, eval.Metrics.ToolAccuracy)
	entry.Metrics.Empathy = incMean(entry.Metrics.Empathy, n, eval.Metrics.Empathy)
	entry.Metrics.FactualCorrectness = incMean(entry.Metrics.FactualCorrectness, n, eval.Metrics.FactualCorrectness)
	entry.Metrics.Completeness = incMean(entry.Metrics.Completeness, n, eval.Metrics.Completeness)
	entry.Metrics.SafetyCompliance = incMean(entry.Metrics.SafetyCompliance, n, eval.Metrics.SafetyCompliance)

	if eval.Category != "" {
		if entry.CategoryScores == nil {
			entry.CategoryScores = map[string]float64{}
		}
		if entry.CategoryCounts == nil {
			entry.CategoryCounts = map[string]int{}
		}
		cn := entry.CategoryCounts[eval.Category]
		entry.CategoryScores[eval.Category] = incMean(entry.CategoryScores[eval.Category], cn, eval.OverallScore)
		entry.CategoryCounts[eval.Category] = cn + 1
	}

	entry.EvaluationCount = n + 1
}

func incMean(old float64, n int, value float64) float64 {
	return (old*float64(n) + value) / float64(n+1)
}

// SnapshotBatch computes fresh per-model averages over exactly the given
// evaluations and upserts one snapshot row per model, without blending into
// the all-time averages. Safe to invoke more than once for the same batch.
func (a *Aggregator) SnapshotBatch(ctx context.Context, batchID string, evals []*models.Evaluation) error {
	byModel := map[string][]*models.Evaluation{}
	for _, eval := range evals {
		if !eval.Scorable() {
			continue
		}
		byModel[eval.ModelID] = append(byModel[eval.ModelID], eval)
	}

	for modelID, scored := range byModel {
		n := float64(len(scored))
		entry := &models.LeaderboardEntry{
			ModelID:         modelID,
			CategoryScores:  map[string]float64{},
			EvaluationCount: len(scored),
		}

		catTotals := map[string]float64{}
		catCounts := map[string]int{}
		for _, eval := range scored {
			entry.OverallScore += eval.OverallScore / n
			entry.Metrics.ToolAccuracy += eval.Metrics.ToolAccuracy / n
			entry.Metrics.Empathy += eval.Metrics.Empathy / n
			entry.Metrics.FactualCorrectness += eval.Metrics.FactualCorrectness / n
			entry.Metrics.Completeness += eval.Metrics.Completeness / n
			entry.Metrics.SafetyCompliance += eval.Metrics.SafetyCompliance / n

			if eval.Category != "" {
				catTotals[eval.Category] += eval.OverallScore
				catCounts[eval.Category]++
			}
		}
		for cat, total := range catTotals {
			entry.CategoryScores[cat] = total / float64(catCounts[cat])
		}
		entry.CategoryCounts = catCounts

		if err := a.store.UpsertSnapshotEntry(ctx, batchID, entry); err != nil {
			return fmt.Errorf("upserting snapshot for %s: %w", modelID, err)
		}
	}

	return nil
}
