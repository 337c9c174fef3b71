package assignment

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore is an in-memory assignment store.
//
// Assignments are lost on restart, so shards may move between runs. Use
// RedisStore, MongoStore or SQLStore when placement must be stable.
type MemoryStore struct {
	mu       sync.Mutex
	channels map[string]int
	seq      int
}

// NewMemoryStore creates a new in-memory assignment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[string]int),
	}
}

// ChannelAssignment returns the recorded channel, assigning one on first sight.
func (s *MemoryStore) ChannelAssignment(_ context.Context, shardID string, channels int) (int, error) {
	if err := checkChannels(channels); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.channels[shardID]; ok {
		return ch, nil
	}
	ch := s.seq % channels
	s.seq++
	s.channels[shardID] = ch
	return ch, nil
}

// List returns a copy of all assignments.
func (s *MemoryStore) List(_ context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.channels), nil
}

// Reset removes all assignments.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[string]int)
	s.seq = 0
	return nil
}

// Compile-time check
var _ Store = (*MemoryStore)(nil)
