package shardq

import (
	"context"
	"sync"
)

// queue is one bounded FIFO channel. Go channels cannot be peeked, so the
// queue is a slice guarded by a mutex; state changes close and replace the
// changed channel to wake blocked callers.
//
// The admit and take callbacks run under the queue lock, so counter updates
// are ordered with the item becoming visible or leaving.
type queue struct {
	mu       sync.Mutex
	items    []Item
	capacity int
	closed   bool
	changed  chan struct{}
}

func newQueue(capacity int) *queue {
	return &queue{
		items:    make([]Item, 0, capacity),
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// notify wakes every waiter. Caller must hold q.mu.
func (q *queue) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// put appends item, blocking while the queue is full.
func (q *queue) put(ctx context.Context, item Item, admit func()) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrReleased
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, item)
			admit()
			q.notify()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// force appends item regardless of capacity. Control broadcasts use it so
// that a broadcast never blocks halfway through the channels.
func (q *queue) force(item Item, admit func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrReleased
	}
	q.items = append(q.items, item)
	admit()
	q.notify()
	return nil
}

// get removes the head item, blocking while the queue is empty.
func (q *queue) get(ctx context.Context, take func()) (Item, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			take()
			q.notify()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrReleased
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (q *queue) peek() Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close wakes all waiters and drops the items. It returns how many items
// were dropped.
func (q *queue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	dropped := len(q.items)
	q.closed = true
	q.items = nil
	q.notify()
	return dropped
}
