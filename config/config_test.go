package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rbaliyan/shardq/assignment"
	"github.com/rbaliyan/shardq/partition"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("empty document should yield defaults (-want +got):\n%s", diff)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
channels: 4
max_size: 500
partitioner:
  kind: consistent-hash
  replicas: 50
sync:
  enabled: false
assignment:
  backend: redis
  redis:
    addr: localhost:6379
    key: replicator:shards
checkpoint:
  backend: redis
  redis:
    addr: localhost:6379
    key: replicator:restart
    ttl: 168h
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := Default()
	want.Channels = 4
	want.MaxSize = 500
	want.Partitioner = PartitionerConfig{Kind: partition.KindConsistentHash, Replicas: 50}
	want.Sync.Enabled = false
	want.Assignment = BackendConfig{Backend: BackendRedis, Redis: RedisConfig{Addr: "localhost:6379", Key: "replicator:shards"}}
	want.Checkpoint = BackendConfig{Backend: BackendRedis, Redis: RedisConfig{Addr: "localhost:6379", Key: "replicator:restart", TTL: 168 * time.Hour}}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if got := len(cfg.StoreOptions()); got != 4 {
		t.Errorf("expected 4 store options, got %d", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown field", "channel: 3\n"},
		{"trailing document", "channels: 3\n---\nchannels: 4\n"},
		{"zero channels", "channels: 0\n"},
		{"negative max size", "max_size: -1\n"},
		{"bad sync interval", "sync:\n  enabled: true\n  interval: 0\n"},
		{"unknown kind", "partitioner:\n  kind: random\n"},
		{"shard list without map", "partitioner:\n  kind: shard-list\n"},
		{"redis without addr", "checkpoint:\n  backend: redis\n"},
		{"mongodb without database", "assignment:\n  backend: mongodb\n  mongodb:\n    uri: mongodb://localhost\n"},
		{"sql checkpoint", "checkpoint:\n  backend: sql\n"},
		{"unknown backend", "assignment:\n  backend: etcd\n"},
		{"missing assignment backend", "assignment:\n  backend: none\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestValidateReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Channels = 0
	cfg.MaxSize = 0
	cfg.Partitioner.Kind = "nope"

	err := cfg.Validate()
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 3 {
		t.Errorf("expected three joined errors, got %v", err)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shards.map", "orders=1\n(*)=0\n(critical)=ddl\n(hash-method)=round-robin\n")
	path := writeFile(t, dir, "pipeline.yaml", `
channels: 2
partitioner:
  kind: shard-list
  shard_map: shards.map
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if want := filepath.Join(dir, "shards.map"); cfg.Partitioner.ShardMap != want {
		t.Errorf("expected shard map resolved to %s, got %s", want, cfg.Partitioner.ShardMap)
	}

	p, err := cfg.BuildPartitioner(assignment.NewMemoryStore())
	if err != nil {
		t.Fatalf("BuildPartitioner failed: %v", err)
	}
	if _, ok := p.(*partition.ShardList); !ok {
		t.Errorf("expected *partition.ShardList, got %T", p)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("not yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, dir, "pipeline.json", "{}"))
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("expected ErrInvalid, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.yaml"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected not exist error, got %v", err)
		}
	})

	t.Run("shard map out of range", func(t *testing.T) {
		writeFile(t, dir, "wide.map", "orders=5\n")
		cfg, err := Load(writeFile(t, dir, "wide.yaml", "channels: 2\npartitioner:\n  kind: shard-list\n  shard_map: wide.map\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		_, err = cfg.BuildPartitioner(nil)
		var rangeErr *partition.ChannelRangeError
		if !errors.As(err, &rangeErr) || rangeErr.Shard != "orders" {
			t.Errorf("expected range error naming orders, got %v", err)
		}
	})
}
