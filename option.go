package shardq

import (
	"log/slog"

	"github.com/rbaliyan/shardq/checkpoint"
	"github.com/rbaliyan/shardq/partition"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values
var (
	// DefaultChannels is the number of parallel channels
	DefaultChannels = 1

	// DefaultMaxSize is the capacity of each channel
	DefaultMaxSize = 100

	// DefaultSyncInterval is the number of transaction boundaries between
	// periodic SYNC broadcasts
	DefaultSyncInterval = 10000
)

// options holds configuration for the store (unexported)
type options struct {
	channels     int
	maxSize      int
	partitioner  partition.Partitioner
	syncEnabled  bool
	syncInterval int
	checkpoint   checkpoint.Store
	logger       *slog.Logger
	meter        metric.Meter
	tracer       trace.Tracer
}

// Option configures the store
type Option func(*options)

// WithChannels sets the number of parallel channels.
func WithChannels(n int) Option {
	return func(o *options) {
		o.channels = n
	}
}

// WithMaxSize sets the capacity of each channel. Put blocks while the
// target channel is full.
func WithMaxSize(n int) Option {
	return func(o *options) {
		o.maxSize = n
	}
}

// WithPartitioner sets the routing strategy. Default is partition.Hash.
func WithPartitioner(p partition.Partitioner) Option {
	return func(o *options) {
		if p != nil {
			o.partitioner = p
		}
	}
}

// WithSyncEnabled enables or disables periodic SYNC broadcasts.
// Heartbeats and watch predicates still trigger SYNC when disabled.
func WithSyncEnabled(enabled bool) Option {
	return func(o *options) {
		o.syncEnabled = enabled
	}
}

// WithSyncInterval sets the number of transaction boundaries between
// periodic SYNC broadcasts. With interval k the (k+1)-th boundary
// broadcasts.
func WithSyncInterval(n int) Option {
	return func(o *options) {
		o.syncInterval = n
	}
}

// WithCheckpointStore persists restart headers. Headers are restored at
// Prepare and saved by Checkpoint and Release.
func WithCheckpointStore(cp checkpoint.Store) Option {
	return func(o *options) {
		o.checkpoint = cp
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

// WithMeter sets the OpenTelemetry meter. Default is the global meter.
func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithTracer sets the OpenTelemetry tracer. Default is the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// newOptions creates options with defaults and applies provided options
func newOptions(opts ...Option) *options {
	o := &options{
		channels:     DefaultChannels,
		maxSize:      DefaultMaxSize,
		syncEnabled:  true,
		syncInterval: DefaultSyncInterval,
		logger:       Logger("shardq>store"),
		meter:        otel.Meter("shardq"),
		tracer:       otel.Tracer("shardq"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.partitioner == nil {
		o.partitioner = partition.NewHash()
	}
	return o
}

func (o *options) validate() error {
	if o.channels < 1 {
		return configErrorf("channels must be at least 1, got %d", o.channels)
	}
	if o.maxSize < 1 {
		return configErrorf("max size must be at least 1, got %d", o.maxSize)
	}
	if o.syncEnabled && o.syncInterval < 1 {
		return configErrorf("sync interval must be at least 1, got %d", o.syncInterval)
	}
	return nil
}
