package partition

import (
	"context"
	"sync"
)

// Hash routes each shard to the FNV-1a hash of its id modulo the channel
// count. Empty and unknown shard ids are critical on channel 0.
//
// Example:
//
//	p := partition.NewHash()
//	p.SetPartitions(4)
//	r, _ := p.Partition(ctx, ev, 0) // same shard, same channel
//
// # Thread Safety
//
// Partition is safe for concurrent use once SetPartitions has returned.
// SetPartitions itself is not synchronized; the store calls it once
// during construction, before any event is routed.
type Hash struct {
	n int
}

// NewHash creates a hash partitioner with no channels. Partition returns
// ErrNoPartitions until SetPartitions is called with n > 0.
//
// Example:
//
//	store, err := shardq.New(
//	    shardq.WithChannels(8),
//	    shardq.WithPartitioner(partition.NewHash()),
//	)
func NewHash() *Hash {
	return &Hash{}
}

// SetPartitions sets the channel count.
//
// Parameters:
//   - n: Number of apply channels; values <= 0 make Partition fail
func (p *Hash) SetPartitions(n int) {
	p.n = n
}

// Partition returns the hashed channel for the event's shard.
//
// Parameters:
//   - ctx: Unused; hashing never blocks
//   - ev: The event whose ShardID is hashed
//   - taskID: Id of the producer calling Put, ignored
//
// Returns ErrNoPartitions when no channel count is set.
func (p *Hash) Partition(_ context.Context, ev Event, _ int) (Response, error) {
	if p.n <= 0 {
		return Response{}, ErrNoPartitions
	}
	shard := ev.ShardID()
	if isUnknown(shard) {
		return Response{Partition: 0, Critical: true}, nil
	}
	return Response{Partition: hashShard(shard, p.n)}, nil
}

// RoundRobin spreads events by seqno modulo the channel count. It ignores
// shards entirely, so it is only suitable when per-shard order does not
// matter. It never marks events critical.
//
// # Thread Safety
//
// Same contract as Hash: Partition may run concurrently after
// SetPartitions, which is not synchronized.
type RoundRobin struct {
	n int
}

// NewRoundRobin creates a round-robin partitioner with no channels.
//
// Example:
//
//	p := partition.NewRoundRobin()
//	p.SetPartitions(3)
//	r, _ := p.Partition(ctx, ev, 0) // r.Partition == ev.Seqno() % 3
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// SetPartitions sets the channel count.
//
// Parameters:
//   - n: Number of apply channels; values <= 0 make Partition fail
func (p *RoundRobin) SetPartitions(n int) {
	p.n = n
}

// Partition returns seqno mod n. Negative seqnos wrap into [0, n).
//
// Returns ErrNoPartitions when no channel count is set.
func (p *RoundRobin) Partition(_ context.Context, ev Event, _ int) (Response, error) {
	if p.n <= 0 {
		return Response{}, ErrNoPartitions
	}
	n := int64(p.n)
	return Response{Partition: int(((ev.Seqno() % n) + n) % n)}, nil
}

// LoadBalancing sends each event to the channel with the fewest resident
// events, taking the first empty channel when there is one. It never marks
// events critical and does not keep shards together.
//
// # Thread Safety
//
// LoadBalancing is safe for concurrent use. SetPartitions and SetMetadata
// take a write lock; Partition reads both under a read lock and queries
// the MetadataSource without holding it.
type LoadBalancing struct {
	mu  sync.RWMutex
	n   int
	src MetadataSource
}

// NewLoadBalancing creates a load-balancing partitioner. The store must bind
// a MetadataSource with SetMetadata before the first Partition call.
//
// Example:
//
//	// shardq.New binds the store as the metadata source.
//	store, err := shardq.New(
//	    shardq.WithChannels(4),
//	    shardq.WithPartitioner(partition.NewLoadBalancing()),
//	)
func NewLoadBalancing() *LoadBalancing {
	return &LoadBalancing{}
}

// SetPartitions sets the channel count.
//
// Parameters:
//   - n: Number of apply channels; values <= 0 make Partition fail
func (p *LoadBalancing) SetPartitions(n int) {
	p.mu.Lock()
	p.n = n
	p.mu.Unlock()
}

// SetMetadata binds the live occupancy source.
//
// Parameters:
//   - src: Reports CurrentSize per channel; nil makes Partition return
//     ErrNoMetadata
func (p *LoadBalancing) SetMetadata(src MetadataSource) {
	p.mu.Lock()
	p.src = src
	p.mu.Unlock()
}

// Partition returns the least occupied channel. Ties go to the lowest
// channel number.
//
// Returns ErrNoPartitions when no channel count is set and ErrNoMetadata
// when no source is bound.
func (p *LoadBalancing) Partition(_ context.Context, _ Event, _ int) (Response, error) {
	p.mu.RLock()
	n, src := p.n, p.src
	p.mu.RUnlock()

	if n <= 0 {
		return Response{}, ErrNoPartitions
	}
	if src == nil {
		return Response{}, ErrNoMetadata
	}

	best := 0
	var bestSize int64 = -1
	for i := 0; i < n; i++ {
		size := src.PartitionMetadata(i).CurrentSize
		if size == 0 {
			return Response{Partition: i}, nil
		}
		if bestSize < 0 || size < bestSize {
			best, bestSize = i, size
		}
	}
	return Response{Partition: best}, nil
}

// Compile-time checks
var _ Partitioner = (*Hash)(nil)
var _ Partitioner = (*RoundRobin)(nil)
var _ Stateful = (*LoadBalancing)(nil)
