// Package assignment provides persistent shard to channel assignments.
//
// A shard-list partitioner using the round-robin hash method gives every
// first-seen shard the next channel in sequence. The assignment must
// survive restarts so a shard keeps its consumer, and therefore its apply
// order, across runs. Stores record the first assignment and return it on
// every later lookup.
//
// Available implementations:
//   - MemoryStore: single process, lost on restart (tests, simulation)
//   - RedisStore: hash of assignments plus a sequence counter
//   - MongoStore: one document per shard plus a sequence document
//   - SQLStore: shard_channel table through database/sql
//
// Usage with a shard-list partitioner:
//
//	store := assignment.NewRedisStore(redisClient, "replicator:shards")
//	p := partition.NewShardList(shardMap, partition.WithAssignmentLookup(store))
package assignment

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidChannels is returned when a lookup is made with no channels.
var ErrInvalidChannels = errors.New("assignment: channel count must be positive")

// Store persists shard to channel assignments.
// Implementations must be safe for concurrent use.
type Store interface {
	// ChannelAssignment returns the channel recorded for shardID. A shard
	// seen for the first time gets sequence mod channels, and that value is
	// recorded before it is returned.
	ChannelAssignment(ctx context.Context, shardID string, channels int) (int, error)

	// List returns every recorded assignment.
	List(ctx context.Context) (map[string]int, error)

	// Reset removes all assignments and restarts the sequence.
	Reset(ctx context.Context) error
}

func checkChannels(channels int) error {
	if channels <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidChannels, channels)
	}
	return nil
}
