package shardq

import (
	"context"
	"slices"
	"sync"
)

// WatchPredicate is a condition over admitted events. A registered predicate
// is tested against every admitted transaction boundary until it matches
// once, which triggers a SYNC broadcast.
type WatchPredicate interface {
	Match(ev Event) bool
}

// WatchFunc adapts a function to WatchPredicate.
type WatchFunc func(ev Event) bool

// Match calls f(ev).
func (f WatchFunc) Match(ev Event) bool {
	return f(ev)
}

// WatchSeqno matches the first boundary event with seqno >= seqno.
func WatchSeqno(seqno int64) WatchPredicate {
	return WatchFunc(func(ev Event) bool {
		return ev.Seqno() >= seqno
	})
}

// WatchEventID matches the boundary event with the given source event id.
func WatchEventID(id string) WatchPredicate {
	return WatchFunc(func(ev Event) bool {
		return ev.EventID() == id
	})
}

// WatchHeartbeat matches the boundary event carrying the named heartbeat.
func WatchHeartbeat(name string) WatchPredicate {
	return WatchFunc(func(ev Event) bool {
		return ev.Heartbeat() == name
	})
}

// Watch is a registered watch predicate.
//
// Done is closed once the watch settles: either its predicate matched a
// transaction boundary and the SYNC was broadcast to every channel, or the
// store was released first. Err tells the two apart.
type Watch struct {
	pred WatchPredicate
	done chan struct{}
	once sync.Once
	err  error
}

func newWatch(pred WatchPredicate) *Watch {
	return &Watch{pred: pred, done: make(chan struct{})}
}

// Done returns a channel closed when the watch settles.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Err returns nil while the watch is pending or after its SYNC was
// broadcast, and the failure (ErrReleased when the store was released)
// otherwise.
func (w *Watch) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Wait blocks until the watch settles or ctx is done.
func (w *Watch) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle records err and closes Done. Only the first call has an effect.
func (w *Watch) settle(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.done)
	})
}

// matchWatches removes and returns every pending watch matching ev.
// Predicates run without holding watchMu.
func (s *Store) matchWatches(ev Event) []*Watch {
	s.watchMu.Lock()
	pending := slices.Clone(s.watches)
	s.watchMu.Unlock()

	var matched []*Watch
	for _, w := range pending {
		if w.pred.Match(ev) {
			matched = append(matched, w)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	// Release may have settled and dropped watches meanwhile.
	kept := s.watches[:0]
	var taken []*Watch
	for _, w := range s.watches {
		if slices.Contains(matched, w) {
			taken = append(taken, w)
			continue
		}
		kept = append(kept, w)
	}
	clear(s.watches[len(kept):])
	s.watches = kept
	return taken
}

// settleWatches fails every pending watch with err and drops them.
func (s *Store) settleWatches(err error) int {
	s.watchMu.Lock()
	pending := s.watches
	s.watches = nil
	s.watchMu.Unlock()

	for _, w := range pending {
		w.settle(err)
	}
	return len(pending)
}

func (s *Store) pendingWatches() int {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return len(s.watches)
}
