package partition

import (
	"fmt"
	"log/slog"
)

// Kind names a partitioner variant.
type Kind string

// Partitioner kinds accepted by New.
const (
	KindHash           Kind = "hash"
	KindRoundRobin     Kind = "round-robin"
	KindLoadBalancing  Kind = "load-balancing"
	KindShardList      Kind = "shard-list"
	KindConsistentHash Kind = "consistent-hash"
)

// Kinds lists every partitioner kind.
var Kinds = []Kind{KindHash, KindRoundRobin, KindLoadBalancing, KindShardList, KindConsistentHash}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if k == v {
			return true
		}
	}
	return false
}

// options holds configuration for partitioner construction (unexported)
type options struct {
	shardMap *ShardMap
	lookup   AssignmentLookup
	replicas int
	logger   *slog.Logger
}

// Option configures partitioner construction
type Option func(*options)

// WithShardMap sets the shard map used by KindShardList.
func WithShardMap(m *ShardMap) Option {
	return func(o *options) {
		o.shardMap = m
	}
}

// WithAssignmentLookup sets the persistent assignment lookup used by the
// round-robin hash method.
func WithAssignmentLookup(l AssignmentLookup) Option {
	return func(o *options) {
		o.lookup = l
	}
}

// WithReplicas sets the virtual nodes per channel for KindConsistentHash.
func WithReplicas(n int) Option {
	return func(o *options) {
		o.replicas = n
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger: slog.Default().With("component", "shardq>partition"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New builds the partitioner for kind.
func New(kind Kind, opts ...Option) (Partitioner, error) {
	o := newOptions(opts...)
	switch kind {
	case KindHash:
		return NewHash(), nil
	case KindRoundRobin:
		return NewRoundRobin(), nil
	case KindLoadBalancing:
		return NewLoadBalancing(), nil
	case KindConsistentHash:
		return NewConsistentHash(o.replicas), nil
	case KindShardList:
		if o.shardMap == nil {
			return nil, ErrNoShardMap
		}
		return NewShardList(o.shardMap, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
