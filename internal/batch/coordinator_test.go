package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saggiatore-ai/saggiatore/internal/models"
	"github.com/saggiatore-ai/saggiatore/internal/store"
)

// fakeExecutor drives sessions straight to a terminal state without a real
// conversation. The default outcome completes the session.
type fakeExecutor struct {
	sessions store.SessionStore
	outcome  func(ctx context.Context, sess *models.Session, scenario models.Scenario) error
}

func (f *fakeExecutor) Execute(ctx context.Context, sess *models.Session, scenario models.Scenario, _ models.Persona) error {
	if f.outcome != nil {
		return f.outcome(ctx, sess, scenario)
	}
	return completeSession(ctx, f.sessions, sess.ID, scenario.MaxTurns)
}

func completeSession(ctx context.Context, s store.SessionStore, id string, turns int) error {
	if err := s.TransitionSession(ctx, id, models.SessionRunning, nil); err != nil {
		return err
	}
	return s.TransitionSession(ctx, id, models.SessionCompleted, func(rec *models.Session) {
		rec.TotalTurns = turns
		now := time.Now()
		rec.CompletedAt = &now
	})
}

func failSession(ctx context.Context, s store.SessionStore, id, msg string) error {
	if err := s.TransitionSession(ctx, id, models.SessionRunning, nil); err != nil {
		return err
	}
	return s.TransitionSession(ctx, id, models.SessionFailed, func(rec *models.Session) {
		rec.ErrorMessage = msg
	})
}

type fakeScorer struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (f *fakeScorer) Evaluate(_ context.Context, sess *models.Session, _ []models.Message) (*models.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, sess.ID)
	if f.err != nil {
		return nil, f.err
	}

	eval := &models.Evaluation{
		SessionID:    sess.ID,
		ModelID:      sess.ModelID,
		Category:     sess.ScenarioCategory,
		OverallScore: 0.8,
		Source:       models.ScoringScored,
	}
	if sess.Status == models.SessionFailed {
		eval.OverallScore = 0
		eval.Source = models.ScoringDerived
	}
	return eval, nil
}

func (f *fakeScorer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type fakeFolder struct {
	mu          sync.Mutex
	applied     []*models.Evaluation
	snapshots   int
	snapshotted []*models.Evaluation
	snapshotErr error
}

func (f *fakeFolder) Apply(_ context.Context, eval *models.Evaluation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, eval)
	return nil
}

func (f *fakeFolder) SnapshotBatch(_ context.Context, _ string, evals []*models.Evaluation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	f.snapshotted = evals
	return f.snapshotErr
}

func testPlan(modelIDs []string, scenarios []models.Scenario) Plan {
	personas := make([]models.Persona, len(scenarios))
	for i := range personas {
		personas[i] = models.Persona{Name: "Maria Santos"}
	}
	return Plan{
		Models:    modelIDs,
		Scenarios: scenarios,
		Personas:  personas,
		Scoring:   true,
	}
}

func twoScenarios() []models.Scenario {
	return []models.Scenario{
		{Title: "H-1B renewal", Category: "visa_application", MaxTurns: 3},
		{Title: "Asylum interview prep", Category: "humanitarian", MaxTurns: 4},
	}
}

func TestRunBatchCompletes(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	scorer := &fakeScorer{}
	folder := &fakeFolder{}

	coord := NewCoordinator(mem, &fakeExecutor{sessions: mem}, scorer, folder,
		WithScheduler(NewScheduler(2)))

	batch, err := coord.Run(ctx, testPlan([]string{"gpt-4o", "llama-3.3-70b-versatile"}, twoScenarios()))
	require.NoError(t, err)

	assert.Equal(t, models.BatchCompleted, batch.Status)
	require.NotNil(t, batch.CompletedAt)
	assert.Equal(t, 4, batch.Progress.TotalSessions)
	assert.Equal(t, 4, batch.Progress.CompletedSessions)
	assert.Zero(t, batch.Progress.FailedSessions)
	assert.Equal(t, string(models.BatchCompleted), batch.Progress.Phase)

	sessions, err := mem.SessionsByBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 4)
	for _, s := range sessions {
		assert.Equal(t, models.SessionCompleted, s.Status)
		eval, err := mem.EvaluationBySession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScoringScored, eval.Source)
	}

	assert.Equal(t, 4, scorer.count())
	assert.Len(t, folder.applied, 4)
	assert.Equal(t, 1, folder.snapshots)
	assert.Len(t, folder.snapshotted, 4)
}

func TestFinalizeOnceUnderConcurrentCompletions(t *testing.T) {
	mem := store.NewMemoryStore()
	folder := &fakeFolder{}

	coord := NewCoordinator(mem, &fakeExecutor{sessions: mem}, &fakeScorer{}, folder,
		WithScheduler(NewScheduler(8)))

	scenarios := []models.Scenario{
		{Title: "A", Category: "visa_application", MaxTurns: 2},
		{Title: "B", Category: "status_change", MaxTurns: 2},
		{Title: "C", Category: "humanitarian", MaxTurns: 2},
	}
	batch, err := coord.Run(context.Background(), testPlan([]string{"m1", "m2", "m3"}, scenarios))
	require.NoError(t, err)

	assert.Equal(t, models.BatchCompleted, batch.Status)
	assert.Equal(t, 9, batch.Progress.CompletedSessions)
	assert.Equal(t, 1, folder.snapshots, "nine racing completions must finalize exactly once")
}

func TestFailedSessionStillEvaluated(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	scorer := &fakeScorer{}
	folder := &fakeFolder{}

	exec := &fakeExecutor{sessions: mem}
	exec.outcome = func(ctx context.Context, sess *models.Session, sc models.Scenario) error {
		if sc.Category == "humanitarian" {
			return failSession(ctx, mem, sess.ID, "agent call: upstream exploded")
		}
		return completeSession(ctx, mem, sess.ID, sc.MaxTurns)
	}

	coord := NewCoordinator(mem, exec, scorer, folder)
	batch, err := coord.Run(ctx, testPlan([]string{"gpt-4o"}, twoScenarios()))
	require.NoError(t, err)

	// One session failing does not fail the batch.
	assert.Equal(t, models.BatchCompleted, batch.Status)
	assert.Equal(t, 1, batch.Progress.CompletedSessions)
	assert.Equal(t, 1, batch.Progress.FailedSessions)

	assert.Equal(t, 2, scorer.count(), "failed sessions are still evaluated")

	var derived int
	for _, eval := range folder.applied {
		if eval.Source == models.ScoringDerived {
			derived++
		}
	}
	assert.Equal(t, 1, derived)
}

func TestSessionTimeoutWatchdog(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	scorer := &fakeScorer{}

	// The conversation observes cancellation and returns without marking the
	// session, exactly like the engine does.
	exec := &fakeExecutor{sessions: mem}
	exec.outcome = func(ctx context.Context, sess *models.Session, _ models.Scenario) error {
		if err := mem.TransitionSession(ctx, sess.ID, models.SessionRunning, nil); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}

	coord := NewCoordinator(mem, exec, scorer, &fakeFolder{})
	plan := testPlan([]string{"gpt-4o"}, twoScenarios()[:1])
	plan.SessionTimeout = 20 * time.Millisecond

	batch, err := coord.Run(ctx, plan)
	require.NoError(t, err)

	sessions, err := mem.SessionsByBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, models.SessionTimeout, sessions[0].Status)
	assert.Contains(t, sessions[0].ErrorMessage, "exceeded")
	require.NotNil(t, sessions[0].CompletedAt)

	assert.Zero(t, scorer.count(), "timed-out sessions are never scored")
	assert.Equal(t, models.BatchCompleted, batch.Status)
	assert.Equal(t, 1, batch.Progress.FailedSessions)
}

func TestCancelPinsSessionAndBatchStatus(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	scorer := &fakeScorer{}
	folder := &fakeFolder{}

	started := make(chan string, 1)
	release := make(chan struct{})

	exec := &fakeExecutor{sessions: mem}
	exec.outcome = func(ctx context.Context, sess *models.Session, _ models.Scenario) error {
		if err := mem.TransitionSession(ctx, sess.ID, models.SessionRunning, nil); err != nil {
			return err
		}
		select {
		case started <- sess.BatchID:
		default:
		}
		<-release
		return nil
	}

	coord := NewCoordinator(mem, exec, scorer, folder, WithScheduler(NewScheduler(1)))

	type result struct {
		batch *models.Batch
		err   error
	}
	done := make(chan result, 1)
	go func() {
		batch, err := coord.Run(ctx, testPlan([]string{"gpt-4o"}, twoScenarios()))
		done <- result{batch, err}
	}()

	batchID := <-started
	require.NoError(t, coord.Cancel(ctx, batchID))
	close(release)

	res := <-done
	require.NoError(t, res.err)
	batch := res.batch
	assert.Equal(t, models.BatchCancelled, batch.Status)
	assert.Equal(t, string(models.BatchCancelled), batch.Progress.Phase)

	sessions, err := mem.SessionsByBatch(ctx, batchID)
	require.NoError(t, err)
	for _, s := range sessions {
		assert.Equal(t, models.SessionCancelled, s.Status, "cancelled is pinned; sessions must not resurrect")
	}

	assert.Zero(t, scorer.count())
	assert.Equal(t, 1, folder.snapshots, "partial results are still snapshotted")
}

func TestAggregationErrorFailsBatchKeepsEvaluations(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	folder := &fakeFolder{snapshotErr: errors.New("snapshot store exploded")}

	coord := NewCoordinator(mem, &fakeExecutor{sessions: mem}, &fakeScorer{}, folder)
	batch, err := coord.Run(ctx, testPlan([]string{"gpt-4o"}, twoScenarios()))
	require.NoError(t, err)

	assert.Equal(t, models.BatchFailed, batch.Status)
	assert.Contains(t, batch.ErrorMessage, "aggregation")

	// The per-session evaluations survive the aggregation failure.
	evals, err := mem.Evaluations(ctx)
	require.NoError(t, err)
	assert.Len(t, evals, 2)
}

func TestScoringDisabledSkipsEvaluation(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	scorer := &fakeScorer{}

	coord := NewCoordinator(mem, &fakeExecutor{sessions: mem}, scorer, &fakeFolder{})
	plan := testPlan([]string{"gpt-4o"}, twoScenarios())
	plan.Scoring = false

	batch, err := coord.Run(ctx, plan)
	require.NoError(t, err)

	assert.Equal(t, models.BatchCompleted, batch.Status)
	assert.Zero(t, scorer.count())

	evals, err := mem.Evaluations(ctx)
	require.NoError(t, err)
	assert.Empty(t, evals)
}

func TestProgressListenerSeesEveryTerminalSession(t *testing.T) {
	mem := store.NewMemoryStore()

	var mu sync.Mutex
	var updates []models.BatchProgress
	coord := NewCoordinator(mem, &fakeExecutor{sessions: mem}, &fakeScorer{}, &fakeFolder{},
		WithProgress(func(p models.BatchProgress) {
			mu.Lock()
			updates = append(updates, p)
			mu.Unlock()
		}))

	_, err := coord.Run(context.Background(), testPlan([]string{"gpt-4o", "m2"}, twoScenarios()))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 4)
	last := updates[len(updates)-1]
	assert.True(t, last.AllTerminal())
	assert.Equal(t, 4, last.CompletedSessions+last.FailedSessions)
}

func TestPlanValidate(t *testing.T) {
	scenarios := twoScenarios()

	tests := []struct {
		name    string
		plan    Plan
		wantErr string
	}{
		{
			name:    "no models",
			plan:    Plan{Scenarios: scenarios, Personas: make([]models.Persona, 2)},
			wantErr: "at least one model",
		},
		{
			name:    "no scenarios",
			plan:    Plan{Models: []string{"gpt-4o"}},
			wantErr: "at least one scenario",
		},
		{
			name:    "persona mismatch",
			plan:    Plan{Models: []string{"gpt-4o"}, Scenarios: scenarios, Personas: make([]models.Persona, 1)},
			wantErr: "personas",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, testPlan([]string{"gpt-4o"}, scenarios).Validate())
}
