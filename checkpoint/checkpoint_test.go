package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func testStoreBehavior(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("Save and Load", func(t *testing.T) {
		pos := Position{Seqno: 42, Fragno: 1, LastFrag: true, ShardID: "orders", EventID: "mysql-bin.000001:0042", UpdatedAt: now}
		if err := store.Save(ctx, 1, pos); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, found, err := store.Load(ctx, 1)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !found {
			t.Fatal("expected position to be found")
		}
		if diff := cmp.Diff(pos, loaded); diff != "" {
			t.Errorf("position mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Load non-existent", func(t *testing.T) {
		_, found, err := store.Load(ctx, 99)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if found {
			t.Error("expected no position")
		}
	})

	t.Run("Overwrite and LoadAll", func(t *testing.T) {
		store.Save(ctx, 0, Position{Seqno: 10, UpdatedAt: now})
		store.Save(ctx, 0, Position{Seqno: 11, UpdatedAt: now})

		all, err := store.LoadAll(ctx)
		if err != nil {
			t.Fatalf("LoadAll failed: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 positions, got %d", len(all))
		}
		if all[0].Seqno != 11 {
			t.Errorf("expected seqno 11, got %d", all[0].Seqno)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.Delete(ctx, 1); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		_, found, _ := store.Load(ctx, 1)
		if found {
			t.Error("expected position to be deleted")
		}
		if err := store.Delete(ctx, 12345); err != nil {
			t.Errorf("Delete non-existent should not error: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreBehavior(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	testStoreBehavior(t, NewRedisStore(client, "test:restart"))
}

func TestRedisStoreCorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "test:restart")
	store.Save(ctx, 0, Position{Seqno: 5})
	mr.HSet("test:restart", "1", "not msgpack \xc1")

	if _, _, err := store.Load(ctx, 1); !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("expected ErrDecodeFailure, got %v", err)
	}

	all, err := store.LoadAll(ctx)
	if !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("expected ErrDecodeFailure from LoadAll, got %v", err)
	}
	if all[0].Seqno != 5 {
		t.Errorf("valid entries should still load, got %v", all)
	}
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "test:restart", WithTTL(time.Minute))
	store.Save(ctx, 0, Position{Seqno: 1})

	if ttl := mr.TTL("test:restart"); ttl != time.Minute {
		t.Errorf("expected TTL of 1m, got %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, found, _ := store.Load(ctx, 0); found {
		t.Error("expected position to expire")
	}
}
