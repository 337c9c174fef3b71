// Package checkpoint persists the restart position of each channel.
//
// A consumer records the header of the last event it applied on its channel.
// After a restart the pipeline resumes from the minimum position over all
// channels, so nothing applied by a slower channel is skipped. Stores keep
// one Position per task (channel) id.
//
// Available implementations:
//   - MemoryStore: in-process, for tests and simulation
//   - RedisStore: MessagePack-encoded positions in a Redis hash
//   - MongoStore: one document per task
//
// Usage with a store:
//
//	cp := checkpoint.NewRedisStore(redisClient, "replicator:restart")
//	store, err := shardq.New(
//	    shardq.WithChannels(8),
//	    shardq.WithCheckpointStore(cp),
//	)
package checkpoint

import (
	"context"
	"time"
)

// Position is a persisted restart point for one channel.
type Position struct {
	Seqno     int64     `json:"seqno" msgpack:"seqno" bson:"seqno"`
	Fragno    int16     `json:"fragno" msgpack:"fragno" bson:"fragno"`
	LastFrag  bool      `json:"last_frag" msgpack:"last_frag" bson:"last_frag"`
	ShardID   string    `json:"shard_id,omitempty" msgpack:"shard_id,omitempty" bson:"shard_id,omitempty"`
	EventID   string    `json:"event_id,omitempty" msgpack:"event_id,omitempty" bson:"event_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at" bson:"updated_at"`
}

// Store persists per-task restart positions.
// Implementations should be safe for concurrent use.
type Store interface {
	// Save persists the position for a task, replacing any previous one.
	Save(ctx context.Context, taskID int, pos Position) error

	// Load returns the position for a task. found is false when the task
	// has never been checkpointed.
	Load(ctx context.Context, taskID int) (pos Position, found bool, err error)

	// LoadAll returns every saved position keyed by task id.
	LoadAll(ctx context.Context) (map[int]Position, error)

	// Delete removes the position for a task.
	Delete(ctx context.Context, taskID int) error
}
