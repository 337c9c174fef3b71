package partition

import (
	"context"
	"hash/crc32"
	"sort"
	"strconv"
	"sync"
)

// ConsistentHash routes shards with a hash ring of virtual nodes.
//
// Unlike Hash, which moves almost every shard when the channel count
// changes, the ring only moves about 1/n of the shards. Shard placement
// can only change across a restart anyway, so this matters when an
// operator resizes the channel count between runs and wants most shards
// to keep their previous consumer.
//
// Empty and unknown shard ids are critical on channel 0, as with Hash.
//
// Example:
//
//	p := partition.NewConsistentHash(150)
//	p.SetPartitions(4)
//	r, _ := p.Partition(ctx, ev, 0)
//	// After SetPartitions(5) most shards keep r.Partition.
//
// # Thread Safety
//
// ConsistentHash is safe for concurrent use. SetPartitions rebuilds the
// ring under a write lock; Partition searches it under a read lock.
type ConsistentHash struct {
	mu       sync.RWMutex
	ring     []uint32
	nodes    map[uint32]int
	replicas int
}

// NewConsistentHash creates a ring partitioner with the given number of
// virtual nodes per channel.
//
// Parameters:
//   - replicas: Virtual nodes per channel (100 if <= 0). More nodes give a
//     more even spread at the cost of a larger ring
func NewConsistentHash(replicas int) *ConsistentHash {
	if replicas <= 0 {
		replicas = 100
	}
	return &ConsistentHash{
		nodes:    make(map[uint32]int),
		replicas: replicas,
	}
}

// SetPartitions rebuilds the ring for n channels.
//
// Parameters:
//   - n: Number of apply channels; 0 leaves an empty ring and Partition
//     returns ErrNoPartitions
func (p *ConsistentHash) SetPartitions(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ring = make([]uint32, 0, n*p.replicas)
	p.nodes = make(map[uint32]int, n*p.replicas)
	for i := 0; i < n; i++ {
		for j := 0; j < p.replicas; j++ {
			h := crc32.ChecksumIEEE([]byte(strconv.Itoa(i) + "-" + strconv.Itoa(j)))
			p.ring = append(p.ring, h)
			p.nodes[h] = i
		}
	}
	sort.Slice(p.ring, func(i, j int) bool {
		return p.ring[i] < p.ring[j]
	})
}

// Partition returns the channel owning the shard's ring position: the
// first virtual node clockwise from the CRC-32 of the shard id.
//
// Returns ErrNoPartitions when the ring is empty.
func (p *ConsistentHash) Partition(_ context.Context, ev Event, _ int) (Response, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.ring) == 0 {
		return Response{}, ErrNoPartitions
	}
	shard := ev.ShardID()
	if isUnknown(shard) {
		return Response{Partition: 0, Critical: true}, nil
	}

	h := crc32.ChecksumIEEE([]byte(shard))
	idx := sort.Search(len(p.ring), func(i int) bool {
		return p.ring[i] >= h
	})
	if idx >= len(p.ring) {
		idx = 0
	}
	return Response{Partition: p.nodes[p.ring[idx]]}, nil
}

// Compile-time check
var _ Partitioner = (*ConsistentHash)(nil)
