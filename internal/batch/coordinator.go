// Package batch fans a run plan out into sessions, drives each one through
// the conversation engine and the scorer, and finalizes the batch exactly
// once when every session has reached a terminal state.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/store"
)

// EvaluationScorer turns a terminal session into an evaluation record.
// *scoring.Scorer satisfies it.
type EvaluationScorer interface {
	Evaluate(ctx context.Context, sess *models.Session, msgs []models.Message) (*models.Evaluation, error)
}

// ScoreFolder folds evaluations into the running leaderboard and produces
// batch snapshots. *leaderboard.Aggregator satisfies it.
type ScoreFolder interface {
	Apply(ctx context.Context, eval *models.Evaluation) error
	SnapshotBatch(ctx context.Context, batchID string, evals []*models.Evaluation) error
}

// Plan describes one batch run: which models face which scenarios, with the
// persona backing each scenario resolved up front.
type Plan struct {
	Models         []string
	Scenarios      []models.Scenario
	Personas       []models.Persona // parallel to Scenarios
	Scoring        bool
	SessionTimeout time.Duration // 0 disables the watchdog
}

// Validate rejects plans that cannot produce a batch.
func (p Plan) Validate() error {
	if len(p.Models) == 0 {
		return errors.New("plan needs at least one model")
	}
	if len(p.Scenarios) == 0 {
		return errors.New("plan needs at least one scenario")
	}
	if len(p.Personas) != len(p.Scenarios) {
		return fmt.Errorf("plan has %d scenarios but %d personas", len(p.Scenarios), len(p.Personas))
	}
	return nil
}

// Coordinator owns the batch lifecycle. Each session runs as its own
// scheduled unit; the coordinator also acts as the wall-clock watchdog the
// engine deliberately does not implement.
type Coordinator struct {
	store      store.Store
	executor   SessionExecutor
	scorer     EvaluationScorer
	folder     ScoreFolder
	scheduler  Scheduler
	now        func() time.Time
	newID      func() string
	onProgress func(models.BatchProgress)
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithScheduler replaces the default single-worker scheduler.
func WithScheduler(s Scheduler) CoordinatorOption {
	return func(c *Coordinator) { c.scheduler = s }
}

// WithProgress registers a listener invoked after every progress update.
func WithProgress(fn func(models.BatchProgress)) CoordinatorOption {
	return func(c *Coordinator) { c.onProgress = fn }
}

// WithCoordinatorClock replaces the wall clock, for tests.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator replaces the uuid source, for tests.
func WithIDGenerator(fn func() string) CoordinatorOption {
	return func(c *Coordinator) { c.newID = fn }
}

// NewCoordinator builds a Coordinator. scorer and folder may be nil only
// when every plan run through it has Scoring disabled.
func NewCoordinator(s store.Store, executor SessionExecutor, scorer EvaluationScorer, folder ScoreFolder, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:     s,
		executor:  executor,
		scorer:    scorer,
		folder:    folder,
		scheduler: NewScheduler(1),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// unit pairs one session with the scenario and persona that shaped it.
type unit struct {
	session  *models.Session
	scenario models.Scenario
	persona  models.Persona
}

// Run creates the batch and all N×M sessions, schedules them, and blocks
// until the batch reaches a terminal state. The returned batch is the final
// record; the error covers store failures and invalid plans only.
func (c *Coordinator) Run(ctx context.Context, plan Plan) (*models.Batch, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	batch := &models.Batch{
		ID:        c.newID(),
		Status:    models.BatchDraft,
		Models:    plan.Models,
		StartedAt: c.now(),
	}
	if err := c.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("creating batch: %w", err)
	}

	units, err := c.generateSessions(ctx, batch.ID, plan)
	if err != nil {
		return nil, err
	}

	if err := c.store.UpdateBatch(ctx, batch.ID, func(b *models.Batch) {
		b.Status = models.BatchRunning
		b.Progress.Phase = string(models.BatchRunning)
	}); err != nil {
		return nil, fmt.Errorf("starting batch: %w", err)
	}

	slog.Info("batch start",
		"batch", batch.ID,
		"models", len(plan.Models),
		"scenarios", len(plan.Scenarios),
		"sessions", len(units))

	for _, u := range units {
		u := u
		c.scheduler.Schedule(ctx, func(ctx context.Context) {
			c.runUnit(ctx, batch.ID, u, plan)
		})
	}
	c.scheduler.Wait()

	// A cancelled context leaves sessions non-terminal on purpose (the
	// engine never marks them); settle the batch as cancelled so it is not
	// stuck in running forever.
	if ctx.Err() != nil {
		if final, err := c.store.Batch(context.Background(), batch.ID); err == nil && !final.Status.Terminal() {
			if err := c.Cancel(context.Background(), batch.ID); err != nil {
				slog.Error("cancelling interrupted batch", "batch", batch.ID, "error", err)
			}
		}
	}

	return c.store.Batch(context.Background(), batch.ID)
}

// generateSessions creates one pending session per model × scenario pair.
func (c *Coordinator) generateSessions(ctx context.Context, batchID string, plan Plan) ([]unit, error) {
	if err := c.store.UpdateBatch(ctx, batchID, func(b *models.Batch) {
		b.Status = models.BatchGenerating
		b.Progress = models.BatchProgress{
			TotalModels:    len(plan.Models),
			TotalScenarios: len(plan.Scenarios),
			TotalSessions:  len(plan.Models) * len(plan.Scenarios),
			Phase:          string(models.BatchGenerating),
		}
	}); err != nil {
		return nil, fmt.Errorf("marking batch generating: %w", err)
	}

	units := make([]unit, 0, len(plan.Models)*len(plan.Scenarios))
	for _, modelID := range plan.Models {
		for i, scenario := range plan.Scenarios {
			persona := plan.Personas[i]
			sess := &models.Session{
				ID:               c.newID(),
				BatchID:          batchID,
				ScenarioTitle:    scenario.Title,
				ScenarioCategory: scenario.Category,
				PersonaName:      persona.Name,
				ModelID:          modelID,
				Status:           models.SessionPending,
			}
			if err := c.store.CreateSession(ctx, sess); err != nil {
				return nil, fmt.Errorf("creating session for %s/%s: %w", modelID, scenario.Title, err)
			}
			units = append(units, unit{session: sess, scenario: scenario, persona: persona})
		}
	}
	return units, nil
}

// runUnit drives one session end to end: conversation, watchdog, scoring,
// progress accounting. It never returns an error; everything that can go
// wrong is either a session outcome or a logged infrastructure failure.
func (c *Coordinator) runUnit(ctx context.Context, batchID string, u unit, plan Plan) {
	sessCtx := ctx
	cancel := func() {}
	if plan.SessionTimeout > 0 {
		sessCtx, cancel = context.WithTimeout(ctx, plan.SessionTimeout)
	}
	defer cancel()

	if err := c.executor.Execute(sessCtx, u.session, u.scenario, u.persona); err != nil {
		slog.Error("session execution", "session", u.session.ID, "error", err)
	}

	sess, err := c.store.Session(ctx, u.session.ID)
	if err != nil {
		slog.Error("reloading session", "session", u.session.ID, "error", err)
		return
	}

	if !sess.Status.Terminal() {
		switch {
		case errors.Is(sessCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			// The engine stopped at a checkpoint without marking the
			// session; the coordinator owns the timeout status.
			if terr := c.store.TransitionSession(ctx, sess.ID, models.SessionTimeout, func(s *models.Session) {
				s.ErrorMessage = fmt.Sprintf("session exceeded %s", plan.SessionTimeout)
				now := c.now()
				s.CompletedAt = &now
			}); terr != nil {
				slog.Error("marking session timeout", "session", sess.ID, "error", terr)
				return
			}
			sess.Status = models.SessionTimeout
		default:
			// Batch-level cancellation owns the cancelled status; Cancel
			// marks the session, not this unit.
			return
		}
	}

	if plan.Scoring && c.scorer != nil && scorableOutcome(sess.Status) {
		c.evaluate(ctx, sess)
	}

	c.afterTerminal(ctx, batchID)
}

// scorableOutcome reports whether the pipeline submits this terminal status
// for evaluation. Cancelled and timed-out sessions are never scored.
func scorableOutcome(status models.SessionStatus) bool {
	return status == models.SessionCompleted || status == models.SessionFailed
}

func (c *Coordinator) evaluate(ctx context.Context, sess *models.Session) {
	msgs, err := c.store.MessagesBySession(ctx, sess.ID)
	if err != nil {
		slog.Error("loading transcript", "session", sess.ID, "error", err)
		return
	}

	eval, err := c.scorer.Evaluate(ctx, sess, msgs)
	if err != nil {
		slog.Warn("evaluation skipped", "session", sess.ID, "error", err)
		return
	}

	if err := c.store.CreateEvaluation(ctx, eval); err != nil {
		slog.Error("storing evaluation", "session", sess.ID, "error", err)
		return
	}
	if err := c.folder.Apply(ctx, eval); err != nil {
		slog.Error("updating leaderboard", "session", sess.ID, "error", err)
	}
}

// afterTerminal recomputes the batch counters and triggers finalization when
// this was the last session standing. The TryFinalizeBatch claim guarantees
// exactly one racer runs finalize.
func (c *Coordinator) afterTerminal(ctx context.Context, batchID string) {
	sessions, err := c.store.SessionsByBatch(ctx, batchID)
	if err != nil {
		slog.Error("loading batch sessions", "batch", batchID, "error", err)
		return
	}

	var completed, failed int
	for _, s := range sessions {
		switch s.Status {
		case models.SessionCompleted:
			completed++
		case models.SessionFailed, models.SessionCancelled, models.SessionTimeout:
			failed++
		}
	}

	var progress models.BatchProgress
	if err := c.store.UpdateBatch(ctx, batchID, func(b *models.Batch) {
		b.Progress.CompletedSessions = completed
		b.Progress.FailedSessions = failed
		progress = b.Progress
	}); err != nil {
		slog.Error("updating batch progress", "batch", batchID, "error", err)
		return
	}
	if c.onProgress != nil {
		c.onProgress(progress)
	}

	if !progress.AllTerminal() {
		return
	}
	claimed, err := c.store.TryFinalizeBatch(ctx, batchID)
	if err != nil {
		slog.Error("claiming finalization", "batch", batchID, "error", err)
		return
	}
	if claimed {
		c.finalize(ctx, batchID)
	}
}

// finalize snapshots the batch leaderboard and settles the batch status. A
// cancelled batch keeps its status but still gets a snapshot of whatever
// evaluations were collected before cancellation.
func (c *Coordinator) finalize(ctx context.Context, batchID string) {
	if err := c.store.UpdateBatch(ctx, batchID, func(b *models.Batch) {
		if !b.Status.Terminal() {
			b.Status = models.BatchEvaluating
			b.Progress.Phase = string(models.BatchEvaluating)
		}
	}); err != nil {
		slog.Error("marking batch evaluating", "batch", batchID, "error", err)
	}

	evals, err := c.batchEvaluations(ctx, batchID)
	var snapErr error
	if err != nil {
		snapErr = err
	} else if c.folder != nil {
		snapErr = c.folder.SnapshotBatch(ctx, batchID, evals)
	}

	now := c.now()
	if err := c.store.UpdateBatch(ctx, batchID, func(b *models.Batch) {
		if b.Status.Terminal() {
			return
		}
		if snapErr != nil {
			// Stored evaluations stay untouched; only the batch record
			// carries the aggregation failure.
			b.Status = models.BatchFailed
			b.ErrorMessage = fmt.Sprintf("aggregation: %v", snapErr)
		} else {
			b.Status = models.BatchCompleted
		}
		b.Progress.Phase = string(b.Status)
		b.CompletedAt = &now
	}); err != nil {
		slog.Error("settling batch", "batch", batchID, "error", err)
		return
	}

	slog.Info("batch finalized", "batch", batchID, "evaluations", len(evals))
}

// batchEvaluations returns the evaluations belonging to this batch's
// sessions.
func (c *Coordinator) batchEvaluations(ctx context.Context, batchID string) ([]*models.Evaluation, error) {
	sessions, err := c.store.SessionsByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("loading batch sessions: %w", err)
	}
	inBatch := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		inBatch[s.ID] = true
	}

	all, err := c.store.Evaluations(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading evaluations: %w", err)
	}
	evals := make([]*models.Evaluation, 0, len(sessions))
	for _, e := range all {
		if inBatch[e.SessionID] {
			evals = append(evals, e)
		}
	}
	return evals, nil
}

// Cancel transitions every non-terminal session to cancelled and pins the
// batch in cancelled. Evaluations collected before the cancel stay exposed;
// finalization still snapshots them.
func (c *Coordinator) Cancel(ctx context.Context, batchID string) error {
	sessions, err := c.store.SessionsByBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("loading batch sessions: %w", err)
	}

	now := c.now()
	for _, s := range sessions {
		if s.Status.Terminal() {
			continue
		}
		err := c.store.TransitionSession(ctx, s.ID, models.SessionCancelled, func(rec *models.Session) {
			rec.CompletedAt = &now
		})
		if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("cancelling session %s: %w", s.ID, err)
		}
	}

	if err := c.store.UpdateBatch(ctx, batchID, func(b *models.Batch) {
		if b.Status.Terminal() {
			return
		}
		b.Status = models.BatchCancelled
		b.Progress.Phase = string(models.BatchCancelled)
		b.CompletedAt = &now
	}); err != nil {
		return fmt.Errorf("cancelling batch: %w", err)
	}

	c.afterTerminal(ctx, batchID)
	return nil
}
