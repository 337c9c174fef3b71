package shardq

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ApplyFunc applies one data event taken from channel taskID.
type ApplyFunc func(ctx context.Context, taskID int, ev Event) error

// Consume runs the consumer loop of channel taskID until a STOP event is
// taken, apply fails or ctx is done.
//
// After each applied event the channel's restart header advances to it.
// A SYNC event advances the header to the broadcast position, so channels
// with no traffic still move their restart point forward.
//
// Example:
//
//	err := store.Consume(ctx, 2, func(ctx context.Context, taskID int, ev shardq.Event) error {
//	    return target.Apply(ctx, ev)
//	})
func (s *Store) Consume(ctx context.Context, taskID int, apply ApplyFunc) error {
	logger := s.logger.With("task", taskID)
	logger.Debug("consumer started")

	for {
		item, err := s.Get(ctx, taskID)
		if err != nil {
			return err
		}

		switch it := item.(type) {
		case *ControlEvent:
			if it.Header != nil {
				if err := s.SetLastHeader(taskID, it.Header); err != nil {
					return err
				}
			}
			if it.Type == ControlStop {
				logger.Debug("consumer stopped", "seqno", it.Seqno())
				return nil
			}
		case Event:
			if err := apply(ctx, taskID, it); err != nil {
				return fmt.Errorf("shardq: apply seqno %d on task %d: %w", it.Seqno(), taskID, err)
			}
			if err := s.SetLastHeader(taskID, it); err != nil {
				return err
			}
		}
	}
}

// RunConsumers runs Consume for every channel and waits for all of them.
// The first failure cancels the others.
func (s *Store) RunConsumers(ctx context.Context, apply ApplyFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	for taskID := 0; taskID < s.opts.channels; taskID++ {
		g.Go(func() error {
			return s.Consume(ctx, taskID, apply)
		})
	}
	return g.Wait()
}
