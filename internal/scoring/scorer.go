package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/saggiatore-ai/saggiatore/internal/models"
)

// Polling defaults: up to 12 attempts, 15 seconds apart, with partial
// results accepted from the 4th attempt on.
const (
	DefaultMaxPollAttempts = 12
	DefaultPollInterval    = 15 * time.Second
	DefaultPartialAfter    = 4
)

var errScoresNotReady = errors.New("scores not ready")

// ErrNotScorable is returned for sessions that must never be scored
// (cancelled, or still running).
var ErrNotScorable = errors.New("session is not scorable")

// Scorer turns finished sessions into Evaluations.
type Scorer struct {
	service      ScoreService
	maxAttempts  int
	interval     time.Duration
	partialAfter int
	now          func() time.Time
}

// ScorerOption customizes a Scorer.
type ScorerOption func(*Scorer)

// WithPollBudget overrides the attempt count and interval.
func WithPollBudget(attempts int, interval time.Duration) ScorerOption {
	return func(s *Scorer) {
		s.maxAttempts = attempts
		s.interval = interval
	}
}

// WithPartialAfter overrides the attempt from which partial metric sets are
// accepted.
func WithPartialAfter(n int) ScorerOption {
	return func(s *Scorer) { s.partialAfter = n }
}

// WithScorerClock replaces the wall clock, for tests.
func WithScorerClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) { s.now = now }
}

// NewScorer builds a Scorer over a score service.
func NewScorer(service ScoreService, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		service:      service,
		maxAttempts:  DefaultMaxPollAttempts,
		interval:     DefaultPollInterval,
		partialAfter: DefaultPartialAfter,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate produces the Evaluation for a terminal session.
//
// Completed sessions are submitted to the scorer and polled; if the budget
// is exhausted with zero metrics the outcome is pending, never a fabricated
// zero score. Failed sessions get derived zero metrics so the model still
// ranks, correctly penalized. Cancelled sessions are never scored.
func (s *Scorer) Evaluate(ctx context.Context, sess *models.Session, msgs []models.Message) (*models.Evaluation, error) {
	switch sess.Status {
	case models.SessionCompleted:
		return s.evaluateCompleted(ctx, sess, msgs), nil
	case models.SessionFailed:
		return s.deriveFailed(sess), nil
	default:
		return nil, fmt.Errorf("%w: session %s is %s", ErrNotScorable, sess.ID, sess.Status)
	}
}

func (s *Scorer) evaluateCompleted(ctx context.Context, sess *models.Session, msgs []models.Message) *models.Evaluation {
	trace := BuildTrace(sess, msgs)

	eval := &models.Evaluation{
		SessionID:   sess.ID,
		ModelID:     sess.ModelID,
		Category:    sess.ScenarioCategory,
		TraceRef:    trace.Name,
		EvaluatedAt: s.now(),
	}

	if err := s.service.Submit(ctx, trace); err != nil {
		slog.Error("trace submission failed", "session", sess.ID, "error", err)
		eval.Source = models.ScoringError
		eval.FailureAnalysis = []string{fmt.Sprintf("Evaluation error: %v", err)}
		return eval
	}
	if err := s.service.Flush(ctx); err != nil {
		slog.Error("trace flush failed", "session", sess.ID, "error", err)
		eval.Source = models.ScoringError
		eval.FailureAnalysis = []string{fmt.Sprintf("Evaluation error: %v", err)}
		return eval
	}
	slog.Debug("trace flushed to scorer", "trace", trace.Name)

	raw := s.pollForScores(ctx, trace.Name)
	if len(raw) == 0 {
		slog.Warn("scores not ready after polling", "session", sess.ID, "trace", trace.Name)
		eval.Source = models.ScoringPending
		eval.FailureAnalysis = []string{"Scores not available after polling. Check the scorer console."}
		return eval
	}

	eval.Metrics = MapScores(raw)
	eval.OverallScore = OverallScore(eval.Metrics)
	eval.FailureAnalysis = FailureAnalysis(eval.Metrics)
	eval.Source = models.ScoringScored
	eval.ConsoleURL = s.service.ConsoleURL(trace.Name)
	if sess.ScenarioCategory != "" {
		eval.CategoryScores = map[string]float64{sess.ScenarioCategory: eval.OverallScore}
	}

	slog.Info("evaluation complete",
		"session", sess.ID, "model", sess.ModelID, "score", eval.OverallScore)
	return eval
}

// pollForScores runs the bounded retry loop. It accepts a full metric set
// immediately, a partial set after partialAfter attempts, and gives up after
// the budget, returning nil.
func (s *Scorer) pollForScores(ctx context.Context, traceName string) map[string]float64 {
	var accepted map[string]float64
	attempt := 0

	backoff := retry.WithMaxRetries(uint64(s.maxAttempts-1), retry.NewConstant(s.interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		metrics, err := s.service.Poll(ctx, traceName)
		if err != nil {
			slog.Warn("poll attempt failed", "trace", traceName, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		if len(metrics) == 0 {
			return retry.RetryableError(errScoresNotReady)
		}

		missing := missingKeys(metrics)
		slog.Debug("poll attempt",
			"trace", traceName,
			"attempt", attempt,
			"found", len(metrics),
			"missing", len(missing))

		if len(missing) == 0 {
			accepted = metrics
			return nil
		}
		if attempt >= s.partialAfter {
			slog.Info("accepting partial scores", "trace", traceName, "attempt", attempt)
			accepted = metrics
			return nil
		}
		return retry.RetryableError(errScoresNotReady)
	})
	if err != nil {
		return nil
	}
	return accepted
}

// deriveFailed builds a zero-metric evaluation for a failed session.
func (s *Scorer) deriveFailed(sess *models.Session) *models.Evaluation {
	lines := []string{fmt.Sprintf("Session error: %s", sess.ErrorMessage)}
	lines = append(lines, FailureAnalysis(models.MetricScores{})...)

	eval := &models.Evaluation{
		SessionID:       sess.ID,
		ModelID:         sess.ModelID,
		Category:        sess.ScenarioCategory,
		Metrics:         models.MetricScores{},
		OverallScore:    0,
		FailureAnalysis: lines,
		Source:          models.ScoringDerived,
		EvaluatedAt:     s.now(),
	}
	if sess.ScenarioCategory != "" {
		eval.CategoryScores = map[string]float64{sess.ScenarioCategory: 0}
	}
	return eval
}

func missingKeys(metrics map[string]float64) []string {
	var missing []string
	for _, key := range ExpectedMetricKeys {
		if _, ok := metrics[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
