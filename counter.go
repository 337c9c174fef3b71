package shardq

import (
	"sync"
	"sync/atomic"
)

// activeCounter counts events resident across all channels. Waiters observe
// the count reaching zero through zeroed.
type activeCounter struct {
	n    atomic.Int64
	mu   sync.Mutex
	zero chan struct{} // closed while n == 0
}

func newActiveCounter() *activeCounter {
	c := &activeCounter{zero: make(chan struct{})}
	close(c.zero)
	return c
}

func (c *activeCounter) add(delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.n.Load()
	v := c.n.Add(delta)
	switch {
	case prev == 0 && v != 0:
		c.zero = make(chan struct{})
	case prev != 0 && v == 0:
		close(c.zero)
	}
	return v
}

func (c *activeCounter) load() int64 {
	return c.n.Load()
}

// zeroed returns a channel that is closed once the count is zero.
func (c *activeCounter) zeroed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zero
}
