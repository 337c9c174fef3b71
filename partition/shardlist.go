package partition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ShardList routes shards with an explicit ShardMap.
//
// Resolution order for a shard:
//  1. explicit assignment in the map
//  2. the default channel, when the map has one
//  3. the map's hash method (string-hash or round-robin)
//
// Shards listed as critical, and the unknown shard sentinel, still resolve
// a channel through the same order but are flagged critical.
//
// The map is validated against the channel count on the first Partition
// call; a failure there is remembered and returned by every later call.
//
// # Thread Safety
//
// ShardList is safe for concurrent use. A mutex guards the channel count,
// the validation result and the assignment cache. The AssignmentLookup is
// called at most once per shard for a given channel count.
type ShardList struct {
	m      *ShardMap
	lookup AssignmentLookup
	logger *slog.Logger

	mu       sync.Mutex
	n        int
	checked  bool
	checkErr error
	assigned map[string]int
}

// NewShardList creates a shard-list partitioner over m. A round-robin hash
// method needs WithAssignmentLookup.
//
// Parameters:
//   - m: Parsed shard map; explicit assignments, critical shards and the
//     fallback hash method
//   - opts: WithAssignmentLookup for round-robin maps, WithLogger
//
// Example:
//
//	m, err := partition.LoadShardMap("/etc/replicator/shards.map")
//	if err != nil {
//	    return err
//	}
//	p := partition.NewShardList(m,
//	    partition.WithAssignmentLookup(assignment.NewRedisStore(client, "replicator:shards")),
//	)
func NewShardList(m *ShardMap, opts ...Option) *ShardList {
	o := newOptions(opts...)
	return &ShardList{
		m:        m,
		lookup:   o.lookup,
		logger:   o.logger,
		assigned: make(map[string]int),
	}
}

// SetPartitions sets the channel count and resets cached assignments.
// The map is validated again on the next Partition call.
//
// Parameters:
//   - n: Number of apply channels the map's assignments must fit
func (p *ShardList) SetPartitions(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n = n
	p.checked = false
	p.checkErr = nil
	p.assigned = make(map[string]int)
}

// Partition resolves the event's shard to a channel.
//
// Parameters:
//   - ctx: Passed to the AssignmentLookup on a shard's first sighting
//   - ev: The event whose ShardID is resolved
//   - taskID: Id of the producer calling Put, ignored
//
// Returns the remembered validation error for a bad map, the lookup's
// error wrapped with the shard id, or a ChannelRangeError when the lookup
// answers outside [0, n).
func (p *ShardList) Partition(ctx context.Context, ev Event, _ int) (Response, error) {
	if err := p.configure(); err != nil {
		return Response{}, err
	}

	shard := ev.ShardID()
	ch, err := p.channelFor(ctx, shard)
	if err != nil {
		return Response{}, err
	}
	return Response{Partition: ch, Critical: p.m.IsCritical(shard)}, nil
}

func (p *ShardList) configure() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.checked {
		return p.checkErr
	}
	p.checked = true

	switch {
	case p.n <= 0:
		p.checkErr = ErrNoPartitions
	case p.m == nil:
		p.checkErr = ErrNoShardMap
	default:
		p.checkErr = p.m.Validate(p.n)
		if p.checkErr == nil && p.m.HashMethod == HashRoundRobin && p.lookup == nil {
			p.checkErr = ErrNoAssignment
		}
	}
	if p.checkErr != nil {
		p.logger.Error("shard map rejected", "error", p.checkErr)
		return p.checkErr
	}
	p.logger.Info("shard map configured",
		"channels", p.n,
		"explicit", len(p.m.Assignments),
		"default", p.m.Default,
		"critical", p.m.CriticalShards(),
		"hash_method", string(p.m.HashMethod))
	return nil
}

func (p *ShardList) channelFor(ctx context.Context, shard string) (int, error) {
	if ch, ok := p.m.Assignments[shard]; ok {
		return ch, nil
	}
	if p.m.Default >= 0 {
		return p.m.Default, nil
	}
	if isUnknown(shard) {
		return 0, nil
	}
	if p.m.HashMethod == HashString {
		return hashShard(shard, p.n), nil
	}
	return p.assign(ctx, shard)
}

// assign asks the lookup once per shard and caches the answer.
func (p *ShardList) assign(ctx context.Context, shard string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ch, ok := p.assigned[shard]; ok {
		return ch, nil
	}
	ch, err := p.lookup.ChannelAssignment(ctx, shard, p.n)
	if err != nil {
		return 0, fmt.Errorf("partition: channel assignment for shard %q: %w", shard, err)
	}
	if ch < 0 || ch >= p.n {
		return 0, &ChannelRangeError{Shard: shard, Channel: ch, Channels: p.n}
	}
	p.assigned[shard] = ch
	p.logger.Debug("assigned shard", "shard", shard, "channel", ch)
	return ch, nil
}

// Compile-time check
var _ Partitioner = (*ShardList)(nil)
