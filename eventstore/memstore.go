package eventstore

import (
	"context"
	"sync"

	"github.com/petal-labs/petalrules"
)

// MemEventStore is a thread-safe in-memory event store.
type MemEventStore struct {
	mu     sync.RWMutex
	events map[string][]petalrules.Event // evalID -> events
	order  []string
}

// NewMemEventStore creates a new in-memory event store.
func NewMemEventStore() *MemEventStore {
	return &MemEventStore{
		events: make(map[string][]petalrules.Event),
	}
}

func (s *MemEventStore) Append(_ context.Context, event petalrules.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.EvalID]; !ok {
		s.order = append(s.order, event.EvalID)
	}
	s.events[event.EvalID] = append(s.events[event.EvalID], event)
	return nil
}

func (s *MemEventStore) List(_ context.Context, evalID string, afterSeq uint64, limit int) ([]petalrules.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []petalrules.Event
	for _, e := range s.events[evalID] {
		if afterSeq > 0 && e.Seq <= afterSeq {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemEventStore) LatestSeq(_ context.Context, evalID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxSeq uint64
	for _, e := range s.events[evalID] {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	return maxSeq, nil
}

func (s *MemEventStore) EvalIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

// Compile-time interface check.
var _ EventStore = (*MemEventStore)(nil)
