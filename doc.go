// Package shardq provides the parallel dispatch engine of a change-stream
// replicator: change events from one producer are fanned out over N bounded
// channels, each drained by its own consumer.
//
// Two guarantees hold:
//   - all changes of one shard are routed to the same channel and applied in
//     admission order
//   - critical events run with no other event resident in any channel
//
// Basic example:
//
//	store, err := shardq.New(
//	    shardq.WithChannels(4),
//	    shardq.WithPartitioner(partition.NewHash()),
//	    shardq.WithCheckpointStore(checkpoint.NewRedisStore(client, "replicator:restart")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := store.Prepare(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Release(ctx)
//
//	// Consumers, one per channel
//	go store.RunConsumers(ctx, func(ctx context.Context, taskID int, ev shardq.Event) error {
//	    return target.Apply(ctx, ev)
//	})
//
//	// Producer
//	for ev := range extracted {
//	    if err := store.Put(ctx, 0, ev); err != nil {
//	        return err
//	    }
//	}
//	store.InsertStopEvent(ctx)
//
// Critical Sections:
// When the partitioner marks an event critical, Put waits until every
// channel is empty before admitting it, and the store stays serialized on
// that channel. The next event routed elsewhere waits for the channels to
// drain again before serialization ends. A non-critical event routed to the
// serialized channel is admitted without waiting.
//
// Control Events:
// SYNC and STOP are broadcast to every channel at the same admission point.
// SYNC is broadcast every WithSyncInterval transaction boundaries, on
// heartbeat boundaries, and when a predicate registered with
// InsertWatchSyncEvent matches. STOP is inserted by InsertStopEvent, deferred
// to the next transaction boundary when called mid-transaction. Release
// settles every pending Watch with ErrReleased.
//
// Restart Positions:
// Consumers record the header of each applied event with SetLastHeader.
// RestartHeader returns the lowest of them, the point replay must restart
// from. With a checkpoint store the headers survive restarts.
package shardq
