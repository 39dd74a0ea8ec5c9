package eventstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the log in process memory. It is used by tests and by
// the "memory" store driver for local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []Event
	byAgg     map[string][]int
	snapshots map[string]Snapshot
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAgg:     make(map[string][]int),
		snapshots: make(map[string]Snapshot),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) AppendEvents(_ context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) error {
	if err := validateAppend(expectedVersion, events); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.byAgg[aggregateID]) != expectedVersion {
		return ErrConcurrencyConflict
	}

	for i, event := range events {
		event.ID = int64(len(s.events) + 1)
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = expectedVersion + i + 1
		event.CreatedAt = s.now()
		event.EventData = append([]byte(nil), event.EventData...)
		s.byAgg[aggregateID] = append(s.byAgg[aggregateID], len(s.events))
		s.events = append(s.events, event)
	}
	return nil
}

func (s *MemoryStore) LoadEvents(_ context.Context, aggregateID string, fromVersion, toVersion int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, idx := range s.byAgg[aggregateID] {
		event := s.events[idx]
		if event.Version < fromVersion {
			continue
		}
		if toVersion > 0 && event.Version > toVersion {
			break
		}
		out = append(out, event)
	}
	return out, nil
}

func (s *MemoryStore) GetCurrentVersion(_ context.Context, aggregateID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAgg[aggregateID]), nil
}

func (s *MemoryStore) StreamEvents(_ context.Context, fromID int64, batchSize int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if fromID < 0 {
		fromID = 0
	}
	var out []Event
	for i := int(fromID); i < len(s.events) && len(out) < batchSize; i++ {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.snapshots[snapshot.AggregateID]; ok && existing.Version >= snapshot.Version {
		return nil
	}
	snapshot.State = append([]byte(nil), snapshot.State...)
	snapshot.CreatedAt = s.now()
	s.snapshots[snapshot.AggregateID] = snapshot
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context, aggregateID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}
