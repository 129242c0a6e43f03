package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/saggiatore-ai/saggiatore/internal/models"
)

// MemoryStore is the in-process Store used by the CLI and tests.
type MemoryStore struct {
	mu sync.RWMutex

	sessions    map[string]*models.Session
	messages    map[string][]models.Message
	evaluations map[string]*models.Evaluation
	leaderboard map[string]*models.LeaderboardEntry
	snapshots   map[string]map[string]*models.LeaderboardEntry
	batches     map[string]*models.Batch
	finalized   map[string]bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    map[string]*models.Session{},
		messages:    map[string][]models.Message{},
		evaluations: map[string]*models.Evaluation{},
		leaderboard: map[string]*models.LeaderboardEntry{},
		snapshots:   map[string]map[string]*models.LeaderboardEntry{},
		batches:     map[string]*models.Batch{},
		finalized:   map[string]bool{},
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s: %w", sess.ID, ErrAlreadyExists)
	}
	clone := *sess
	s.sessions[sess.ID] = &clone
	return nil
}

func (s *MemoryStore) Session(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	clone := *sess
	return &clone, nil
}

func (s *MemoryStore) SessionsByBatch(_ context.Context, batchID string) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.BatchID == batchID {
			clone := *sess
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) TransitionSession(_ context.Context, id string, next models.SessionStatus, mutate func(*models.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if !sess.Status.CanTransition(next) {
		return fmt.Errorf("session %s: %s -> %s: %w", id, sess.Status, next, ErrInvalidTransition)
	}
	sess.Status = next
	if mutate != nil {
		mutate(sess)
	}
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.SessionID] = append(s.messages[m.SessionID], *m)
	return nil
}

func (s *MemoryStore) MessagesBySession(_ context.Context, sessionID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) CreateEvaluation(_ context.Context, e *models.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.evaluations[e.SessionID]; ok {
		return fmt.Errorf("evaluation for session %s: %w", e.SessionID, ErrAlreadyExists)
	}
	clone := *e
	s.evaluations[e.SessionID] = &clone
	return nil
}

func (s *MemoryStore) EvaluationBySession(_ context.Context, sessionID string) (*models.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.evaluations[sessionID]
	if !ok {
		return nil, fmt.Errorf("evaluation for session %s: %w", sessionID, ErrNotFound)
	}
	clone := *e
	return &clone, nil
}

func (s *MemoryStore) Evaluations(_ context.Context) ([]*models.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Evaluation, 0, len(s.evaluations))
	for _, e := range s.evaluations {
		clone := *e
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (s *MemoryStore) LeaderboardEntry(_ context.Context, modelID string) (*models.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.leaderboard[modelID]
	if !ok {
		return nil, fmt.Errorf("leaderboard entry %s: %w", modelID, ErrNotFound)
	}
	clone := cloneEntry(e)
	return clone, nil
}

func (s *MemoryStore) UpsertLeaderboardEntry(_ context.Context, e *models.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderboard[e.ModelID] = cloneEntry(e)
	return nil
}

func (s *MemoryStore) Leaderboard(_ context.Context) ([]*models.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedEntries(s.leaderboard), nil
}

func (s *MemoryStore) UpsertSnapshotEntry(_ context.Context, batchID string, e *models.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshots[batchID] == nil {
		s.snapshots[batchID] = map[string]*models.LeaderboardEntry{}
	}
	s.snapshots[batchID][e.ModelID] = cloneEntry(e)
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context, batchID string) ([]*models.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedEntries(s.snapshots[batchID]), nil
}

func (s *MemoryStore) CreateBatch(_ context.Context, b *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; ok {
		return fmt.Errorf("batch %s: %w", b.ID, ErrAlreadyExists)
	}
	clone := *b
	s.batches[b.ID] = &clone
	return nil
}

func (s *MemoryStore) Batch(_ context.Context, id string) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	clone := *b
	return &clone, nil
}

func (s *MemoryStore) UpdateBatch(_ context.Context, id string, mutate func(*models.Batch)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	mutate(b)
	return nil
}

func (s *MemoryStore) TryFinalizeBatch(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[id]; !ok {
		return false, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if s.finalized[id] {
		return false, nil
	}
	s.finalized[id] = true
	return true, nil
}

func cloneEntry(e *models.LeaderboardEntry) *models.LeaderboardEntry {
	clone := *e
	clone.CategoryScores = make(map[string]float64, len(e.CategoryScores))
	for k, v := range e.CategoryScores {
		clone.CategoryScores[k] = v
	}
	if e.CategoryCounts != nil {
		clone.CategoryCounts = make(map[string]int, len(e.CategoryCounts))
		for k, v := range e.CategoryCounts {
			clone.CategoryCounts[k] = v
		}
	}
	return &clone
}

func sortedEntries(entries map[string]*models.LeaderboardEntry) []*models.LeaderboardEntry {
	out := make([]*models.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OverallScore != out[j].OverallScore {
			return out[i].OverallScore > out[j].OverallScore
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out
}
