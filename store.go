package shardq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/shardq/partition"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Store lifecycle states
const (
	stateNew int32 = iota
	statePrepared
	stateReleased
)

// Store is the parallel dispatch engine. It owns N bounded channels, routes
// each admitted event to one of them through a partitioner, serializes
// critical events and broadcasts control events to every channel.
//
// A single producer calls Put; one consumer per channel calls Get with its
// own task id. Put is fully serialized by an admission lock.
//
// Liveness: entering or leaving a critical section waits until every
// channel is empty. A consumer that stops pulling from its channel stalls
// the producer during such transitions.
type Store struct {
	id          string
	opts        *options
	logger      *slog.Logger
	partitioner partition.Partitioner
	tracer      trace.Tracer
	metrics     *storeMetrics
	drainLog    rate.Sometimes

	lifecycle sync.Mutex
	state     atomic.Int32
	queues    atomic.Pointer[[]*queue]
	done      chan struct{}

	// admit is the admission lock. It is a channel so that waiting for it
	// honors context cancellation.
	admit chan struct{}

	// Guarded by admit
	last       Header
	lastFrag   bool
	boundaries int

	stopPending atomic.Bool
	critical    atomic.Int64
	active      *activeCounter

	watchMu sync.Mutex
	watches []*Watch

	headersMu sync.RWMutex
	headers   []Header

	admitted       atomic.Int64
	discarded      atomic.Int64
	syncs          atomic.Int64
	stops          atomic.Int64
	serializations atomic.Int64
}

// New creates a store. Channels are allocated by Prepare.
//
// Example:
//
//	store, err := shardq.New(
//	    shardq.WithChannels(4),
//	    shardq.WithMaxSize(1000),
//	    shardq.WithPartitioner(partition.NewHash()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := store.Prepare(ctx); err != nil {
//	    return err
//	}
//	defer store.Release(ctx)
func New(opts ...Option) (*Store, error) {
	o := newOptions(opts...)
	if err := o.validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Store{
		id:          id,
		opts:        o,
		logger:      o.logger.With("store", id),
		partitioner: o.partitioner,
		tracer:      o.tracer,
		drainLog:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
		done:        make(chan struct{}),
		admit:       make(chan struct{}, 1),
		lastFrag:    true,
		active:      newActiveCounter(),
		headers:     make([]Header, o.channels),
	}
	s.critical.Store(-1)
	s.metrics = newStoreMetrics(o.meter, s)
	return s, nil
}

// ID returns the store instance id.
func (s *Store) ID() string { return s.id }

// Channels returns the number of channels.
func (s *Store) Channels() int { return s.opts.channels }

// MaxSize returns the capacity of each channel.
func (s *Store) MaxSize() int { return s.opts.maxSize }

// Partitioner returns the routing strategy.
func (s *Store) Partitioner() partition.Partitioner { return s.partitioner }

// Prepare allocates the channels, configures the partitioner and restores
// restart headers from the checkpoint store.
func (s *Store) Prepare(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch s.state.Load() {
	case statePrepared:
		return ErrAlreadyPrepared
	case stateReleased:
		return ErrReleased
	}

	n := s.opts.channels
	s.partitioner.SetPartitions(n)
	if st, ok := s.partitioner.(partition.Stateful); ok {
		st.SetMetadata(s)
	}

	if err := s.restore(ctx); err != nil {
		return err
	}

	qs := make([]*queue, n)
	for i := range qs {
		qs[i] = newQueue(s.opts.maxSize)
	}
	s.queues.Store(&qs)
	s.state.Store(statePrepared)

	s.logger.Info("store prepared",
		"channels", n,
		"max_size", s.opts.maxSize,
		"sync_enabled", s.opts.syncEnabled,
		"sync_interval", s.opts.syncInterval)
	return nil
}

func (s *Store) restore(ctx context.Context) error {
	cp := s.opts.checkpoint
	if cp == nil {
		return nil
	}
	positions, err := cp.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("shardq: restore restart positions: %w", err)
	}

	s.headersMu.Lock()
	defer s.headersMu.Unlock()
	for taskID, pos := range positions {
		if taskID < 0 || taskID >= len(s.headers) {
			s.logger.Warn("ignoring restart position of unknown channel",
				"task", taskID, "channels", len(s.headers), "seqno", pos.Seqno)
			continue
		}
		s.headers[taskID] = headerOf(pos)
	}
	s.logger.Info("restored restart positions", "positions", len(positions))
	return nil
}

// Release persists restart headers when a checkpoint store is configured,
// wakes every blocked caller with ErrReleased and drops the channels.
func (s *Store) Release(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	prev := s.state.Swap(stateReleased)
	if prev == stateReleased {
		return nil
	}
	close(s.done)
	if n := s.settleWatches(ErrReleased); n > 0 {
		s.logger.Info("released pending watches", "watches", n)
	}

	var errs []error
	if prev == statePrepared {
		if err := s.Checkpoint(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	dropped := 0
	if qs := s.queues.Swap(nil); qs != nil {
		for _, q := range *qs {
			dropped += q.close()
		}
	}
	if dropped > 0 {
		s.active.add(-int64(dropped))
	}
	s.metrics.close()

	s.logger.Info("store released", "dropped", dropped, "admitted", s.admitted.Load())
	return errors.Join(errs...)
}

// channel returns the queue for taskID.
func (s *Store) channel(taskID int) (*queue, error) {
	if taskID < 0 || taskID >= s.opts.channels {
		return nil, &TaskRangeError{TaskID: taskID, Channels: s.opts.channels}
	}
	qs := s.queues.Load()
	if qs == nil {
		if s.state.Load() == stateReleased {
			return nil, ErrReleased
		}
		return nil, ErrNotPrepared
	}
	return (*qs)[taskID], nil
}

func (s *Store) lock(ctx context.Context) error {
	select {
	case s.admit <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrReleased
	}
}

func (s *Store) unlock() {
	<-s.admit
}

func (s *Store) admitOne() { s.active.add(1) }
func (s *Store) takeOne()  { s.active.add(-1) }

// Put admits an event on behalf of producer task taskID.
//
// Empty events are discarded. Otherwise the event is routed by the
// partitioner and appended to its channel, blocking while the channel is
// full and, when entering or leaving a critical section, until every
// channel is empty. On error the event is not admitted.
func (s *Store) Put(ctx context.Context, taskID int, ev Event) error {
	if _, err := s.channel(taskID); err != nil {
		return err
	}
	if ev == nil || ev.Empty() {
		s.discarded.Add(1)
		s.metrics.add(ctx, s.metrics.discarded)
		return nil
	}

	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	qs := s.queues.Load()
	if qs == nil {
		return ErrReleased
	}

	resp, err := s.partitioner.Partition(ctx, ev, taskID)
	if err != nil {
		return fmt.Errorf("shardq: partition seqno %d shard %q: %w", ev.Seqno(), ev.ShardID(), err)
	}
	if resp.Partition < 0 || resp.Partition >= len(*qs) {
		return fmt.Errorf("shardq: shard %q routed out of range: %w",
			ev.ShardID(), &TaskRangeError{TaskID: resp.Partition, Channels: len(*qs)})
	}

	current := int(s.critical.Load())
	next, err := s.transition(ctx, ev, resp, current)
	if err != nil {
		return err
	}
	if err := (*qs)[resp.Partition].put(ctx, ev, s.admitOne); err != nil {
		return err
	}
	if next != current {
		s.commitCritical(ctx, ev, current, next)
	}

	s.last = snapshot(ev)
	s.lastFrag = ev.LastFrag()
	s.admitted.Add(1)
	s.metrics.add(ctx, s.metrics.admitted, attribute.Int("channel", resp.Partition))

	if ev.LastFrag() {
		return s.boundary(ctx, ev)
	}
	return nil
}

// transition drains all channels when resp enters, switches or leaves the
// critical section and returns the serialized channel to apply once the
// event is enqueued, -1 for none.
//
// A non-critical event routed to the channel that is currently serialized
// is admitted without draining and the store stays serialized.
func (s *Store) transition(ctx context.Context, ev Event, resp partition.Response, current int) (int, error) {
	switch {
	case resp.Critical && current != resp.Partition:
		if err := s.drain(ctx, "enter_critical", ev); err != nil {
			return current, err
		}
		return resp.Partition, nil

	case !resp.Critical && current >= 0 && current != resp.Partition:
		if err := s.drain(ctx, "leave_critical", ev); err != nil {
			return current, err
		}
		return -1, nil
	}
	return current, nil
}

// commitCritical records a critical section change after its event was
// enqueued. Caller holds the admission lock.
func (s *Store) commitCritical(ctx context.Context, ev Event, current, next int) {
	s.critical.Store(int64(next))
	if next < 0 {
		s.logger.Info("left critical section",
			"channel", current,
			"seqno", ev.Seqno(),
			"shard", ev.ShardID())
		return
	}
	s.serializations.Add(1)
	s.metrics.add(ctx, s.metrics.serializations)
	s.logger.Info("entered critical section",
		"channel", next,
		"previous", current,
		"seqno", ev.Seqno(),
		"shard", ev.ShardID())
}

// drain blocks until no event is resident in any channel.
func (s *Store) drain(ctx context.Context, reason string, ev Event) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "shardq.store.drain",
		trace.WithAttributes(
			attribute.String("shardq.store", s.id),
			attribute.String("shardq.drain.reason", reason),
			attribute.Int64("shardq.seqno", ev.Seqno()),
			attribute.Int64("shardq.active", s.active.load())),
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for s.active.load() != 0 {
		select {
		case <-s.active.zeroed():
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "drain interrupted")
			return ctx.Err()
		case <-s.done:
			span.SetStatus(codes.Error, "store released")
			return ErrReleased
		case <-ticker.C:
			s.drainLog.Do(func() {
				s.logger.Warn("waiting for channels to drain",
					"reason", reason,
					"seqno", ev.Seqno(),
					"active", s.active.load(),
					"waited", time.Since(start))
			})
		}
	}

	s.metrics.drained(ctx, time.Since(start), reason)
	return nil
}

// boundary runs the end-of-transaction bookkeeping for ev.
func (s *Store) boundary(ctx context.Context, ev Event) error {
	if s.stopPending.Load() {
		if err := s.broadcast(ctx, ControlStop); err != nil {
			return err
		}
		s.stopPending.Store(false)
	}

	matched := s.matchWatches(ev)
	needSync := len(matched) > 0

	if s.opts.syncEnabled {
		s.boundaries++
		if s.boundaries > s.opts.syncInterval {
			needSync = true
			s.boundaries = 0
		}
	}
	if ev.Heartbeat() != "" {
		needSync = true
	}
	if !needSync {
		return nil
	}

	err := s.broadcast(ctx, ControlSync)
	for _, w := range matched {
		w.settle(err)
	}
	return err
}

// broadcast appends one control event to every channel.
func (s *Store) broadcast(ctx context.Context, t ControlType) error {
	qs := s.queues.Load()
	if qs == nil {
		return ErrReleased
	}

	ctrl := newControlEvent(t, s.last)
	for _, q := range *qs {
		if err := q.force(ctrl, s.admitOne); err != nil {
			return err
		}
	}

	switch t {
	case ControlSync:
		s.syncs.Add(1)
	case ControlStop:
		s.stops.Add(1)
	}
	s.metrics.add(ctx, s.metrics.broadcasts, attribute.String("type", t.String()))
	s.logger.Debug("broadcast control event", "type", t, "seqno", ctrl.Seqno(), "id", ctrl.ID)
	return nil
}

// InsertStopEvent broadcasts a STOP event. When the last admitted event
// ended a transaction, or nothing was admitted yet, the STOP is inserted at
// once; otherwise it is deferred to the next transaction boundary.
func (s *Store) InsertStopEvent(ctx context.Context) error {
	if _, err := s.channel(0); err != nil {
		return err
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	if s.lastFrag {
		s.logger.Info("inserting stop event", "seqno", seqnoOf(s.last))
		return s.broadcast(ctx, ControlStop)
	}
	s.stopPending.Store(true)
	s.logger.Info("deferring stop event to next transaction boundary", "seqno", seqnoOf(s.last))
	return nil
}

// InsertWatchSyncEvent registers pred to be tested against every future
// transaction boundary. When it first matches, a SYNC is broadcast and the
// returned watch settles with a nil Err. A nil pred matches the next
// boundary.
//
// Release settles every pending watch with ErrReleased. A watch registered
// on a released store is returned already settled with ErrReleased.
//
// Example:
//
//	w := store.InsertWatchSyncEvent(shardq.WatchSeqno(target))
//	if err := w.Wait(ctx); err != nil {
//	    return err
//	}
func (s *Store) InsertWatchSyncEvent(pred WatchPredicate) *Watch {
	if pred == nil {
		pred = WatchFunc(func(Event) bool { return true })
	}
	w := newWatch(pred)

	s.watchMu.Lock()
	// Checked under watchMu so Release cannot miss the watch.
	if s.state.Load() == stateReleased {
		s.watchMu.Unlock()
		w.settle(ErrReleased)
		return w
	}
	s.watches = append(s.watches, w)
	pending := len(s.watches)
	s.watchMu.Unlock()

	s.logger.Debug("registered watch predicate", "pending", pending)
	return w
}

// Get removes the next item from the channel of taskID, blocking while the
// channel is empty.
func (s *Store) Get(ctx context.Context, taskID int) (Item, error) {
	q, err := s.channel(taskID)
	if err != nil {
		return nil, err
	}
	return q.get(ctx, s.takeOne)
}

// Peek returns the next item of the channel without removing it, or nil.
func (s *Store) Peek(taskID int) (Item, error) {
	q, err := s.channel(taskID)
	if err != nil {
		return nil, err
	}
	return q.peek(), nil
}

// Size returns the number of items in the channel of taskID.
func (s *Store) Size(taskID int) (int, error) {
	q, err := s.channel(taskID)
	if err != nil {
		return 0, err
	}
	return q.len(), nil
}

// PartitionMetadata implements partition.MetadataSource with live sizes.
func (s *Store) PartitionMetadata(p int) partition.Metadata {
	md := partition.Metadata{Partition: p}
	if q, err := s.channel(p); err == nil {
		md.CurrentSize = int64(q.len())
	}
	return md
}

// SetLastHeader records the header of the last event applied by taskID.
func (s *Store) SetLastHeader(taskID int, h Header) error {
	if taskID < 0 || taskID >= s.opts.channels {
		return &TaskRangeError{TaskID: taskID, Channels: s.opts.channels}
	}
	if h != nil {
		h = snapshot(h)
	}
	s.headersMu.Lock()
	s.headers[taskID] = h
	s.headersMu.Unlock()
	return nil
}

// LastHeader returns the header recorded for taskID, nil when none.
func (s *Store) LastHeader(taskID int) (Header, error) {
	if taskID < 0 || taskID >= s.opts.channels {
		return nil, &TaskRangeError{TaskID: taskID, Channels: s.opts.channels}
	}
	s.headersMu.RLock()
	defer s.headersMu.RUnlock()
	return s.headers[taskID], nil
}

// RestartHeader returns the header with the minimum seqno over the channels
// that have one, nil when no channel has a position. Replay must restart
// from this point.
func (s *Store) RestartHeader() Header {
	s.headersMu.RLock()
	defer s.headersMu.RUnlock()

	var lowest Header
	for _, h := range s.headers {
		if h == nil {
			continue
		}
		if lowest == nil || h.Seqno() < lowest.Seqno() {
			lowest = h
		}
	}
	return lowest
}

// Checkpoint saves every channel's restart header to the checkpoint store.
func (s *Store) Checkpoint(ctx context.Context) error {
	cp := s.opts.checkpoint
	if cp == nil {
		return nil
	}

	s.headersMu.RLock()
	headers := slices.Clone(s.headers)
	s.headersMu.RUnlock()

	now := time.Now()
	var errs []error
	for taskID, h := range headers {
		if h == nil {
			continue
		}
		pos := positionOf(h)
		pos.UpdatedAt = now
		if err := cp.Save(ctx, taskID, pos); err != nil {
			errs = append(errs, fmt.Errorf("shardq: save restart position of task %d: %w", taskID, err))
		}
	}
	return errors.Join(errs...)
}

// Compile-time check
var _ partition.MetadataSource = (*Store)(nil)
