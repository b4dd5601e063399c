package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/interview-agent/internal/usage"
)

// InMemoryStore keeps transcripts for the life of the process.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
	usage map[string]usage.Summary
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns: make(map[string][]Turn),
		usage: make(map[string]usage.Summary),
	}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.JobID] = append(s.turns[turn.JobID], turn)
	return nil
}

func (s *InMemoryStore) Turns(_ context.Context, jobID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn(nil), s.turns[jobID]...), nil
}

func (s *InMemoryStore) SaveUsage(_ context.Context, jobID, _ string, summary usage.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[jobID] = summary
	return nil
}

func (s *InMemoryStore) Usage(_ context.Context, jobID string) (usage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.usage[jobID]
	if !ok {
		return usage.Summary{}, ErrNoUsage
	}
	return summary, nil
}

func (s *InMemoryStore) Close() error { return nil }
