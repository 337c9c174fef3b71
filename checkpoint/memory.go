package checkpoint

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for testing.
//
// This store is not suitable for production as positions are lost on
// restart. Use RedisStore or MongoStore for production workloads.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[int]Position
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[int]Position),
	}
}

// Save persists the position for a task.
func (s *MemoryStore) Save(ctx context.Context, taskID int, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[taskID] = pos
	return nil
}

// Load retrieves the position for a task.
func (s *MemoryStore) Load(ctx context.Context, taskID int) (Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[taskID]
	return pos, ok, nil
}

// LoadAll returns a copy of every saved position.
func (s *MemoryStore) LoadAll(ctx context.Context) (map[int]Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.positions), nil
}

// Delete removes the position for a task.
func (s *MemoryStore) Delete(ctx context.Context, taskID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.positions, taskID)
	return nil
}

// Compile-time check
var _ Store = (*MemoryStore)(nil)
