package assignment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"
)

func testStoreBehavior(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("first seen shards get sequential channels", func(t *testing.T) {
		got := map[string]int{}
		for _, shard := range []string{"a", "b", "c", "d", "e"} {
			ch, err := store.ChannelAssignment(ctx, shard, 3)
			if err != nil {
				t.Fatalf("ChannelAssignment(%q) failed: %v", shard, err)
			}
			got[shard] = ch
		}
		want := map[string]int{"a": 0, "b": 1, "c": 2, "d": 0, "e": 1}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("assignments mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("known shards keep their channel", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			ch, err := store.ChannelAssignment(ctx, "c", 3)
			if err != nil {
				t.Fatalf("ChannelAssignment failed: %v", err)
			}
			if ch != 2 {
				t.Errorf("expected channel 2, got %d", ch)
			}
		}
	})

	t.Run("list returns all assignments", func(t *testing.T) {
		all, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(all) != 5 {
			t.Errorf("expected 5 assignments, got %d: %v", len(all), all)
		}
	})

	t.Run("invalid channel count", func(t *testing.T) {
		_, err := store.ChannelAssignment(ctx, "x", 0)
		if !errors.Is(err, ErrInvalidChannels) {
			t.Errorf("expected ErrInvalidChannels, got %v", err)
		}
	})

	t.Run("concurrent first lookups agree", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make([]int, 8)
		errs := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = store.ChannelAssignment(ctx, "contended", 4)
			}(i)
		}
		wg.Wait()
		for i := range results {
			if errs[i] != nil {
				t.Fatalf("lookup %d failed: %v", i, errs[i])
			}
			if results[i] != results[0] {
				t.Errorf("lookup %d got %d, lookup 0 got %d", i, results[i], results[0])
			}
		}
	})

	t.Run("reset clears assignments and sequence", func(t *testing.T) {
		if err := store.Reset(ctx); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		all, _ := store.List(ctx)
		if len(all) != 0 {
			t.Errorf("expected empty store, got %v", all)
		}
		ch, _ := store.ChannelAssignment(ctx, "z", 3)
		if ch != 0 {
			t.Errorf("expected sequence restart at 0, got %d", ch)
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

	testStoreBehavior(t, NewRedisStore(client, "test:shards"))
}

func TestRedisStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	first := NewRedisStore(client, "test:shards")
	for _, shard := range []string{"a", "b"} {
		if _, err := first.ChannelAssignment(ctx, shard, 2); err != nil {
			t.Fatalf("ChannelAssignment failed: %v", err)
		}
	}

	restarted := NewRedisStore(client, "test:shards")
	ch, err := restarted.ChannelAssignment(ctx, "b", 2)
	if err != nil {
		t.Fatalf("ChannelAssignment failed: %v", err)
	}
	if ch != 1 {
		t.Errorf("expected b to keep channel 1, got %d", ch)
	}
}

func TestRedisStoreConcurrentFirstLookups(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	const (
		shards   = 20
		channels = 1000
	)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		store := NewRedisStore(client, "test:shards")
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < shards; i++ {
				if _, err := store.ChannelAssignment(ctx, fmt.Sprintf("shard-%d", i), channels); err != nil {
					t.Errorf("ChannelAssignment failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	// Every sequence number is used exactly once, so channels are 0..n-1.
	list, err := NewRedisStore(client, "test:shards").List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	seen := make(map[int]string, len(list))
	for shard, ch := range list {
		if prev, dup := seen[ch]; dup {
			t.Errorf("channel %d given to %s and %s", ch, prev, shard)
		}
		seen[ch] = shard
	}
	for ch := 0; ch < shards; ch++ {
		if _, ok := seen[ch]; !ok {
			t.Errorf("sequence skipped channel %d: %v", ch, list)
		}
	}
	if seq, _ := mr.Get("test:shards:seq"); seq != strconv.Itoa(shards) {
		t.Errorf("expected sequence %d, got %s", shards, seq)
	}
}

func mongoCollection(t *testing.T, uri string) *mongo.Collection {
	t.Helper()
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo connect: %v", err)
	}
	t.Cleanup(func() { client.Disconnect(ctx) })
	return client.Database("shardq_test").Collection("shard_channel")
}

func TestMongoStoreSequenceCollection(t *testing.T) {
	// Connect is lazy, no server is contacted here.
	coll := mongoCollection(t, "mongodb://127.0.0.1:1")

	store := NewMongoStore(coll)
	if store.sequence.Name() == coll.Name() {
		t.Fatalf("sequence counter shares collection %q with assignments", coll.Name())
	}
	if got := store.sequence.Name(); got != "shard_channel_seq" {
		t.Errorf("expected sequence collection shard_channel_seq, got %s", got)
	}
	if store.sequence.Database().Name() != coll.Database().Name() {
		t.Errorf("expected sequence collection in database %s", coll.Database().Name())
	}

	custom := coll.Database().Collection("counters")
	if got := NewMongoStore(coll, WithSequenceCollection(custom)).sequence.Name(); got != "counters" {
		t.Errorf("expected custom sequence collection, got %s", got)
	}
	if got := NewMongoStore(coll, WithSequenceCollection(nil)).sequence.Name(); got != "shard_channel_seq" {
		t.Errorf("nil option should keep the default, got %s", got)
	}
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("SHARDQ_MONGODB_URI")
	if uri == "" {
		t.Skip("SHARDQ_MONGODB_URI not set")
	}
	ctx := context.Background()
	store := NewMongoStore(mongoCollection(t, uri))
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	t.Cleanup(func() { store.Reset(ctx) })

	testStoreBehavior(t, store)

	// A shard named like the counter document is an ordinary shard.
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	for want, shard := range []string{sequenceID, "orders"} {
		got, err := store.ChannelAssignment(ctx, shard, 4)
		if err != nil {
			t.Fatalf("ChannelAssignment(%q) failed: %v", shard, err)
		}
		if got != want {
			t.Errorf("expected channel %d for %q, got %d", want, shard, got)
		}
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if diff := cmp.Diff(map[string]int{sequenceID: 0, "orders": 1}, list); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLStore(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "shards.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	store := NewSQLStore(db, WithSQLDialect(DialectSQLite))
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	testStoreBehavior(t, store)
}
