// Package store defines the persistence seams for sessions, transcripts,
// evaluations, leaderboards, and batches, plus an in-memory implementation.
// The durable engine behind these interfaces is provided externally.
package store

import (
	"context"
	"errors"

	"github.com/saggiatore-ai/saggiatore/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// SessionStore persists session records and enforces the one-directional
// status machine.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	Session(ctx context.Context, id string) (*models.Session, error)
	SessionsByBatch(ctx context.Context, batchID string) ([]*models.Session, error)

	// TransitionSession moves a session to next, applying mutate to the
	// record under the same lock. Illegal transitions (including any move
	// out of a terminal state) fail with ErrInvalidTransition and leave the
	// record untouched.
	TransitionSession(ctx context.Context, id string, next models.SessionStatus, mutate func(*models.Session)) error
}

// MessageStore is the append-only transcript log. Messages come back in
// insertion order, which within a session is also turn order.
type MessageStore interface {
	AppendMessage(ctx context.Context, m *models.Message) error
	MessagesBySession(ctx context.Context, sessionID string) ([]models.Message, error)
}

// EvaluationStore persists one immutable evaluation per session.
type EvaluationStore interface {
	CreateEvaluation(ctx context.Context, e *models.Evaluation) error
	EvaluationBySession(ctx context.Context, sessionID string) (*models.Evaluation, error)
	Evaluations(ctx context.Context) ([]*models.Evaluation, error)
}

// LeaderboardStore holds the running all-time entries and per-batch
// snapshots.
type LeaderboardStore interface {
	LeaderboardEntry(ctx context.Context, modelID string) (*models.LeaderboardEntry, error)
	UpsertLeaderboardEntry(ctx context.Context, e *models.LeaderboardEntry) error
	Leaderboard(ctx context.Context) ([]*models.LeaderboardEntry, error)

	UpsertSnapshotEntry(ctx context.Context, batchID string, e *models.LeaderboardEntry) error
	Snapshot(ctx context.Context, batchID string) ([]*models.LeaderboardEntry, error)
}

// BatchStore persists batch records and owns the finalize-once flag.
type BatchStore interface {
	CreateBatch(ctx context.Context, b *models.Batch) error
	Batch(ctx context.Context, id string) (*models.Batch, error)
	UpdateBatch(ctx context.Context, id string, mutate func(*models.Batch)) error

	// TryFinalizeBatch atomically claims the right to finalize. Exactly one
	// caller per batch observes true.
	TryFinalizeBatch(ctx context.Context, id string) (bool, error)
}

// Store aggregates every persistence seam the coordinator needs.
type Store interface {
	SessionStore
	MessageStore
	EvaluationStore
	LeaderboardStore
	BatchStore
}
