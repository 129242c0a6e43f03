// Package reporting renders leaderboard tables for the terminal and exports
// run results to JSON and CSV files.
package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/scoring"
)

const (
	minModelWidth = 20
	scoreWidth    = 8
)

// metricColumns fixes the display order of the metric columns.
var metricColumns = []struct {
	header string
	value  func(models.MetricScores) float64
	weight float64
}{
	{"Tool Acc.", func(m models.MetricScores) float64 { return m.ToolAccuracy }, scoring.WeightToolAccuracy},
	{"Factual", func(m models.MetricScores) float64 { return m.FactualCorrectness }, scoring.WeightFactualCorrectness},
	{"Complete", func(m models.MetricScores) float64 { return m.Completeness }, scoring.WeightCompleteness},
	{"Empathy", func(m models.MetricScores) float64 { return m.Empathy }, scoring.WeightEmpathy},
	{"Safety", func(m models.MetricScores) float64 { return m.SafetyCompliance }, scoring.WeightSafetyCompliance},
}

// WriteLeaderboard renders the ranked per-model table. Entries are sorted by
// overall score descending; ties break on model id so output is stable.
func WriteLeaderboard(w io.Writer, entries []*models.LeaderboardEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No evaluation results to display.")
		return
	}
	ranked := rankEntries(entries)

	nameWidth := minModelWidth
	for _, e := range ranked {
		if width := runewidth.StringWidth(displayName(e)); width > nameWidth {
			nameWidth = width
		}
	}

	headers := []string{"Rank", "Model", "Overall"}
	for _, col := range metricColumns {
		headers = append(headers, col.header)
	}
	headers = append(headers, "Sessions")

	fmt.Fprintf(w, "%s  %s", padRight(headers[0], 5), padRight(headers[1], nameWidth))
	for _, h := range headers[2:] {
		fmt.Fprintf(w, "  %s", padRight(h, scoreWidth))
	}
	fmt.Fprintln(w)

	for i, e := range ranked {
		fmt.Fprintf(w, "%s  %s  %s",
			padRight(fmt.Sprintf("#%d", i+1), 5),
			padRight(displayName(e), nameWidth),
			padRight(scoreCell(e.OverallScore), scoreWidth))
		for _, col := range metricColumns {
			fmt.Fprintf(w, "  %s", padRight(scoreCell(col.value(e.Metrics)), scoreWidth))
		}
		fmt.Fprintf(w, "  %d\n", e.EvaluationCount)
	}
}

// WriteCategoryBreakdown renders per-category scores, one column per known
// category. Omitted entirely when no entry has any category score.
func WriteCategoryBreakdown(w io.Writer, entries []*models.LeaderboardEntry) {
	ranked := rankEntries(entries)

	any := false
	for _, e := range ranked {
		for _, v := range e.CategoryScores {
			if v > 0 {
				any = true
			}
		}
	}
	if !any {
		return
	}

	nameWidth := minModelWidth
	for _, e := range ranked {
		if width := runewidth.StringWidth(displayName(e)); width > nameWidth {
			nameWidth = width
		}
	}

	colWidths := make([]int, len(models.Categories))
	fmt.Fprint(w, padRight("Model", nameWidth))
	for i, cat := range models.Categories {
		header := models.CategoryDisplay[cat]
		colWidths[i] = runewidth.StringWidth(header)
		if colWidths[i] < scoreWidth {
			colWidths[i] = scoreWidth
		}
		fmt.Fprintf(w, "  %s", padRight(header, colWidths[i]))
	}
	fmt.Fprintln(w)

	for _, e := range ranked {
		fmt.Fprint(w, padRight(displayName(e), nameWidth))
		for i, cat := range models.Categories {
			fmt.Fprintf(w, "  %s", padRight(scoreCell(e.CategoryScores[cat]), colWidths[i]))
		}
		fmt.Fprintln(w)
	}
}

// WriteWeightsFootnote renders the metric weight reference line.
func WriteWeightsFootnote(w io.Writer) {
	parts := make([]string, 0, len(metricColumns))
	for _, col := range metricColumns {
		parts = append(parts, fmt.Sprintf("%s: %.0f%%", col.header, col.weight*100))
	}
	fmt.Fprintf(w, "Weights: %s\n", strings.Join(parts, " | "))
}

// WriteBatchSummary renders the batch outcome line with localized counts.
func WriteBatchSummary(w io.Writer, batch *models.Batch) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Batch %s: %s — %d sessions (%d completed, %d failed)\n",
		batch.ID,
		batch.Status,
		batch.Progress.TotalSessions,
		batch.Progress.CompletedSessions,
		batch.Progress.FailedSessions)
	if batch.ErrorMessage != "" {
		fmt.Fprintf(w, "  error: %s\n", batch.ErrorMessage)
	}
}

func rankEntries(entries []*models.LeaderboardEntry) []*models.LeaderboardEntry {
	ranked := make([]*models.LeaderboardEntry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].OverallScore != ranked[j].OverallScore {
			return ranked[i].OverallScore > ranked[j].OverallScore
		}
		return ranked[i].ModelID < ranked[j].ModelID
	})
	return ranked
}

func displayName(e *models.LeaderboardEntry) string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.ModelID
}

// scoreCell formats a score to three decimals; zero renders as a dash so
// unscored cells stand out.
func scoreCell(score float64) string {
	if score <= 0 {
		return "—"
	}
	return fmt.Sprintf("%.3f", score)
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}
