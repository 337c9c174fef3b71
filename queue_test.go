package shardq

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestActiveCounter(t *testing.T) {
	c := newActiveCounter()

	select {
	case <-c.zeroed():
	default:
		t.Fatal("new counter must be zero")
	}

	c.add(2)
	zero := c.zeroed()
	select {
	case <-zero:
		t.Fatal("counter at 2 reported zero")
	default:
	}

	c.add(-1)
	select {
	case <-zero:
		t.Fatal("counter at 1 reported zero")
	default:
	}

	if v := c.add(-1); v != 0 {
		t.Fatalf("expected 0, got %d", v)
	}
	select {
	case <-zero:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken at zero")
	}
}

func TestQueue(t *testing.T) {
	ctx := context.Background()
	var count int
	inc := func() { count++ }
	dec := func() { count-- }

	t.Run("FIFO and callbacks", func(t *testing.T) {
		q := newQueue(3)
		for seq := int64(1); seq <= 3; seq++ {
			if err := q.put(ctx, event(seq, "a"), inc); err != nil {
				t.Fatalf("put failed: %v", err)
			}
		}
		if count != 3 || q.len() != 3 {
			t.Fatalf("expected 3 items, count %d len %d", count, q.len())
		}
		if q.peek().Seqno() != 1 {
			t.Errorf("expected head seqno 1, got %d", q.peek().Seqno())
		}
		for want := int64(1); want <= 3; want++ {
			item, _ := q.get(ctx, dec)
			if item.Seqno() != want {
				t.Errorf("expected seqno %d, got %d", want, item.Seqno())
			}
		}
		if count != 0 || q.peek() != nil {
			t.Errorf("expected empty queue, count %d", count)
		}
	})

	t.Run("force ignores capacity", func(t *testing.T) {
		q := newQueue(1)
		q.put(ctx, event(1, "a"), inc)
		if err := q.force(newControlEvent(ControlSync, nil), inc); err != nil {
			t.Fatalf("force failed: %v", err)
		}
		if q.len() != 2 {
			t.Errorf("expected 2 items, got %d", q.len())
		}

		full, cancel := context.WithTimeout(ctx, blockTimeout)
		defer cancel()
		if err := q.put(full, event(2, "a"), inc); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected put on full queue to time out, got %v", err)
		}
		q.get(ctx, dec)
		q.get(ctx, dec)
	})

	t.Run("close wakes waiters", func(t *testing.T) {
		q := newQueue(1)
		done := make(chan error, 1)
		go func() {
			_, err := q.get(ctx, dec)
			done <- err
		}()
		time.Sleep(blockTimeout)
		if dropped := q.close(); dropped != 0 {
			t.Errorf("expected nothing dropped, got %d", dropped)
		}
		select {
		case err := <-done:
			if !errors.Is(err, ErrReleased) {
				t.Errorf("expected ErrReleased, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("get not woken by close")
		}
		if err := q.force(event(1, "a"), inc); !errors.Is(err, ErrReleased) {
			t.Errorf("expected ErrReleased from closed queue, got %v", err)
		}
	})
}
