package models

import "time"

// ScoringSource distinguishes how an evaluation's scores were obtained.
type ScoringSource string

const (
	// ScoringScored means the external scorer returned real metrics.
	ScoringScored ScoringSource = "scored"
	// ScoringDerived means the scores were synthesized locally, e.g. zeroed
	// metrics for a failed session so the model still ranks (penalized).
	ScoringDerived ScoringSource = "derived"
	// ScoringPending means the scorer never returned metrics within the
	// polling budget. Pending evaluations carry no trustworthy score and
	// must not feed the leaderboard.
	ScoringPending ScoringSource = "pending"
	// ScoringError means evaluation itself failed.
	ScoringError ScoringSource = "error"
)

// MetricScores is the fixed canonical metric vector. Every value lies in [0,1].
type MetricScores struct {
	ToolAccuracy       float64 `json:"tool_accuracy"`
	Empathy            float64 `json:"empathy"`
	FactualCorrectness float64 `json:"factual_correctness"`
	Completeness       float64 `json:"completeness"`
	SafetyCompliance   float64 `json:"safety_compliance"`
}

// Evaluation is the scored outcome of one session. Created once per
// completed or failed session; never mutated afterwards.
type Evaluation struct {
	SessionID       string             `json:"session_id"`
	ModelID         string             `json:"model_id"`
	Category        string             `json:"category"`
	OverallScore    float64            `json:"overall_score"`
	Metrics         MetricScores       `json:"metrics"`
	CategoryScores  map[string]float64 `json:"category_scores,omitempty"`
	FailureAnalysis []string           `json:"failure_analysis,omitempty"`
	Source          ScoringSource      `json:"scoring_source"`
	TraceRef        string             `json:"trace_ref,omitempty"`
	ConsoleURL      string             `json:"console_url,omitempty"`
	EvaluatedAt     time.Time          `json:"evaluated_at"`
}

// Scorable reports whether the evaluation may contribute to a leaderboard.
func (e *Evaluation) Scorable() bool {
	return e.Source == ScoringScored || e.Source == ScoringDerived
}

// LeaderboardEntry is a per-model score aggregate: either the running
// all-time average or a batch-scoped snapshot.
type LeaderboardEntry struct {
	ModelID         string             `json:"model_id"`
	DisplayName     string             `json:"display_name,omitempty"`
	OverallScore    float64            `json:"overall_score"`
	Metrics         MetricScores       `json:"metrics"`
	CategoryScores  map[string]float64 `json:"category_scores"`
	CategoryCounts  map[string]int     `json:"category_counts,omitempty"`
	EvaluationCount int                `json:"evaluation_count"`
}
