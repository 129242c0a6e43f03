package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saggiatore-ai/saggiatore/internal/models"
)

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sess := &models.Session{ID: "s1", BatchID: "b1", Status: models.SessionPending}
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.ErrorIs(t, s.CreateSession(ctx, sess), ErrAlreadyExists)

	require.NoError(t, s.TransitionSession(ctx, "s1", models.SessionRunning, nil))
	require.NoError(t, s.TransitionSession(ctx, "s1", models.SessionCompleted, func(m *models.Session) {
		m.TotalTurns = 5
	}))

	got, err := s.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)
	assert.Equal(t, 5, got.TotalTurns)
}

func TestNoResurrectionFromTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateSession(ctx, &models.Session{ID: "s1", Status: models.SessionPending}))
	require.NoError(t, s.TransitionSession(ctx, "s1", models.SessionCancelled, nil))

	err := s.TransitionSession(ctx, "s1", models.SessionCompleted, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := s.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, got.Status, "cancelled session must stay cancelled")
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i, role := range []models.MessageRole{models.RoleSystem, models.RoleUser, models.RoleAssistant} {
		require.NoError(t, s.AppendMessage(ctx, &models.Message{
			SessionID: "s1", Role: role, TurnNumber: i,
		}))
	}

	msgs, err := s.MessagesBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Equal(t, 0, msgs[0].TurnNumber)
	assert.Equal(t, models.RoleAssistant, msgs[2].Role)
}

func TestEvaluationCreatedOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	eval := &models.Evaluation{SessionID: "s1", ModelID: "gpt-4o", OverallScore: 0.8}
	require.NoError(t, s.CreateEvaluation(ctx, eval))
	assert.ErrorIs(t, s.CreateEvaluation(ctx, eval), ErrAlreadyExists)

	got, err := s.EvaluationBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.OverallScore)

	_, err = s.EvaluationBySession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLeaderboardSortedByScore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpsertLeaderboardEntry(ctx, &models.LeaderboardEntry{ModelID: "a", OverallScore: 0.6}))
	require.NoError(t, s.UpsertLeaderboardEntry(ctx, &models.LeaderboardEntry{ModelID: "b", OverallScore: 0.9}))

	entries, err := s.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ModelID)
}

func TestSnapshotIsolatedPerBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpsertSnapshotEntry(ctx, "b1", &models.LeaderboardEntry{ModelID: "a", OverallScore: 0.5}))
	require.NoError(t, s.UpsertSnapshotEntry(ctx, "b2", &models.LeaderboardEntry{ModelID: "a", OverallScore: 0.7}))

	snap1, err := s.Snapshot(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, snap1, 1)
	assert.Equal(t, 0.5, snap1[0].OverallScore)

	running, err := s.Leaderboard(ctx)
	require.NoError(t, err)
	assert.Empty(t, running, "snapshots must not leak into the running leaderboard")
}

func TestTryFinalizeBatchExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateBatch(ctx, &models.Batch{ID: "b1", Status: models.BatchRunning}))

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryFinalizeBatch(ctx, "b1")
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "only one caller may claim finalization")
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpsertLeaderboardEntry(ctx, &models.LeaderboardEntry{
		ModelID:        "a",
		OverallScore:   0.5,
		CategoryScores: map[string]float64{"humanitarian": 0.5},
	}))

	got, err := s.LeaderboardEntry(ctx, "a")
	require.NoError(t, err)
	got.CategoryScores["humanitarian"] = 0.0

	again, err := s.LeaderboardEntry(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0.5, again.CategoryScores["humanitarian"])
}
