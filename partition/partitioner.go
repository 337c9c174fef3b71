// Package partition provides the strategies that route replicated change
// events onto the parallel channels of a shardq.Store.
//
// Every strategy maps an event to a Response: the target channel and whether
// the event is critical, meaning it must run with no concurrent activity on
// any other channel. For non-critical shards the mapping must be a pure
// function of shard identity, so that all changes for one shard are applied
// in order by the same consumer.
//
// # Variants
//
//   - Hash: FNV-1a hash of the shard id modulo the channel count
//   - RoundRobin: seqno modulo the channel count, ignores shards
//   - LoadBalancing: least occupied channel, needs live Metadata
//   - ShardList: explicit shard map with default channel and critical shards
//   - ConsistentHash: hash ring, minimal movement when channels change
//
// Variants are selected by Kind rather than by name lookup:
//
//	p, err := partition.New(partition.KindShardList,
//	    partition.WithShardMap(m),
//	    partition.WithAssignmentLookup(store),
//	)
package partition

import (
	"context"
	"hash/fnv"
)

// UnknownShard is the shard id assigned upstream to changes whose shard could
// not be determined. Such events are always critical.
const UnknownShard = "#UNKNOWN"

// Event is the view of a change event a partitioner needs.
type Event interface {
	Seqno() int64
	ShardID() string
}

// Response is the routing decision for one event.
type Response struct {
	// Partition is the target channel index.
	Partition int
	// Critical marks events that must run alone. Partition is then the
	// channel that runs exclusively.
	Critical bool
}

// Metadata is a read-only snapshot of one channel's occupancy.
type Metadata struct {
	Partition   int
	CurrentSize int64
}

// MetadataSource supplies live channel occupancy to stateful partitioners.
type MetadataSource interface {
	PartitionMetadata(partition int) Metadata
}

// Partitioner maps events to channels.
//
// SetPartitions is called once before the first Partition call. Partition
// returns an error only for configuration problems detected at first use or
// for a failing assignment lookup.
type Partitioner interface {
	SetPartitions(n int)
	Partition(ctx context.Context, ev Event, taskID int) (Response, error)
}

// Stateful is implemented by partitioners that route on live channel
// occupancy. The store binds itself as the MetadataSource before first use.
type Stateful interface {
	Partitioner
	SetMetadata(src MetadataSource)
}

// AssignmentLookup returns the persistent channel for a shard, assigning one
// on first sight. See package assignment for implementations.
type AssignmentLookup interface {
	ChannelAssignment(ctx context.Context, shardID string, channels int) (int, error)
}

// isUnknown reports whether a shard id cannot be routed safely.
func isUnknown(shard string) bool {
	return shard == "" || shard == UnknownShard
}

// hashShard returns the FNV-1a hash of shard modulo n.
func hashShard(shard string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(shard))
	return int(h.Sum32() % uint32(n))
}
