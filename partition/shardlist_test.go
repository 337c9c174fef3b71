package partition

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleMap = `
# explicit
orders=0
customers = 1

(*)=2
(critical)=ddl, audit ,
(hash-method)=string-hash
`

type countingLookup struct {
	mu    sync.Mutex
	calls map[string]int
	next  int
	err   error
}

func (l *countingLookup) ChannelAssignment(_ context.Context, shard string, channels int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	if l.calls == nil {
		l.calls = make(map[string]int)
	}
	l.calls[shard]++
	ch := l.next % channels
	l.next++
	return ch, nil
}

func TestParseShardMap(t *testing.T) {
	t.Run("valid map", func(t *testing.T) {
		m, err := ParseShardMap(strings.NewReader(sampleMap))
		if err != nil {
			t.Fatalf("ParseShardMap failed: %v", err)
		}
		want := &ShardMap{
			Assignments: map[string]int{"orders": 0, "customers": 1},
			Default:     2,
			Critical:    map[string]struct{}{"ddl": {}, "audit": {}},
			HashMethod:  HashString,
		}
		if diff := cmp.Diff(want, m); diff != "" {
			t.Errorf("shard map mismatch (-want +got):\n%s", diff)
		}
		if got := m.CriticalShards(); !cmp.Equal(got, []string{"audit", "ddl"}) {
			t.Errorf("unexpected critical shards %v", got)
		}
	})

	t.Run("malformed entries", func(t *testing.T) {
		cases := map[string]string{
			"missing equals":  "orders 0",
			"empty shard":     "=1",
			"not an integer":  "orders=zero",
			"negative":        "orders=-1",
			"duplicate key":   "orders=1\norders=2",
			"bad default":     "(*)=x",
			"duplicate crit":  "(critical)=a\n(critical)=b",
		}
		for name, text := range cases {
			t.Run(name, func(t *testing.T) {
				m, err := ParseShardMap(strings.NewReader(text))
				if err == nil {
					t.Fatalf("expected error, got map %+v", m)
				}
				if m != nil {
					t.Error("partial map must not be returned")
				}
				var entryErr *EntryError
				if !errors.As(err, &entryErr) {
					t.Errorf("expected EntryError, got %T", err)
				}
				if !IsConfigError(err) {
					t.Errorf("expected config error, got %v", err)
				}
			})
		}
	})

	t.Run("hash method is not checked at parse time", func(t *testing.T) {
		m, err := ParseShardMap(strings.NewReader("(hash-method)=md5"))
		if err != nil {
			t.Fatalf("ParseShardMap failed: %v", err)
		}
		if m.HashMethod != "md5" {
			t.Errorf("expected md5, got %q", m.HashMethod)
		}
	})
}

func TestLoadShardMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard.list")
	if err := os.WriteFile(path, []byte(sampleMap), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := LoadShardMap(path)
	if err != nil {
		t.Fatalf("LoadShardMap failed: %v", err)
	}
	if m.Assignments["orders"] != 0 {
		t.Errorf("expected orders on 0, got %d", m.Assignments["orders"])
	}

	_, err = LoadShardMap(filepath.Join(dir, "missing.list"))
	if !IsConfigError(err) {
		t.Errorf("expected config error for missing file, got %v", err)
	}
}

func TestShardList(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit default and critical", func(t *testing.T) {
		m, _ := ParseShardMap(strings.NewReader(sampleMap))
		p := NewShardList(m)
		p.SetPartitions(3)

		cases := []struct {
			shard string
			want  Response
		}{
			{"orders", Response{Partition: 0}},
			{"customers", Response{Partition: 1}},
			{"inventory", Response{Partition: 2}},
			{"ddl", Response{Partition: 2, Critical: true}},
			{UnknownShard, Response{Partition: 2, Critical: true}},
		}
		for _, c := range cases {
			got, err := p.Partition(ctx, testEvent{shard: c.shard}, 0)
			if err != nil {
				t.Fatalf("Partition(%q) failed: %v", c.shard, err)
			}
			if got != c.want {
				t.Errorf("Partition(%q) = %+v, want %+v", c.shard, got, c.want)
			}
		}
	})

	t.Run("string hash matches hash partitioner", func(t *testing.T) {
		m := NewShardMap()
		p := NewShardList(m)
		p.SetPartitions(5)
		h := NewHash()
		h.SetPartitions(5)

		for _, shard := range []string{"a", "b", "orders", "customers", "x.y"} {
			got, _ := p.Partition(ctx, testEvent{shard: shard}, 0)
			want, _ := h.Partition(ctx, testEvent{shard: shard}, 0)
			if got != want {
				t.Errorf("shard %q: shard-list %+v, hash %+v", shard, got, want)
			}
		}
	})

	t.Run("round robin uses lookup once per shard", func(t *testing.T) {
		m := NewShardMap()
		m.HashMethod = HashRoundRobin
		lookup := &countingLookup{}
		p := NewShardList(m, WithAssignmentLookup(lookup))
		p.SetPartitions(2)

		first := map[string]int{}
		for round := 0; round < 3; round++ {
			for _, shard := range []string{"a", "b", "c"} {
				r, err := p.Partition(ctx, testEvent{shard: shard}, 0)
				if err != nil {
					t.Fatalf("Partition failed: %v", err)
				}
				if round == 0 {
					first[shard] = r.Partition
				} else if first[shard] != r.Partition {
					t.Errorf("shard %q moved from %d to %d", shard, first[shard], r.Partition)
				}
			}
		}
		if diff := cmp.Diff(map[string]int{"a": 0, "b": 1, "c": 0}, first); diff != "" {
			t.Errorf("assignments mismatch (-want +got):\n%s", diff)
		}
		for shard, n := range lookup.calls {
			if n != 1 {
				t.Errorf("shard %q looked up %d times", shard, n)
			}
		}
	})

	t.Run("lookup failure is not cached", func(t *testing.T) {
		m := NewShardMap()
		m.HashMethod = HashRoundRobin
		lookup := &countingLookup{err: errors.New("connection refused")}
		p := NewShardList(m, WithAssignmentLookup(lookup))
		p.SetPartitions(2)

		if _, err := p.Partition(ctx, testEvent{shard: "a"}, 0); err == nil {
			t.Fatal("expected lookup error")
		}
		lookup.err = nil
		if _, err := p.Partition(ctx, testEvent{shard: "a"}, 0); err != nil {
			t.Fatalf("expected recovery, got %v", err)
		}
	})

	t.Run("round robin without lookup fails at first use", func(t *testing.T) {
		m := NewShardMap()
		m.HashMethod = HashRoundRobin
		p := NewShardList(m)
		p.SetPartitions(2)

		_, err := p.Partition(ctx, testEvent{shard: "a"}, 0)
		if !errors.Is(err, ErrNoAssignment) {
			t.Errorf("expected ErrNoAssignment, got %v", err)
		}
		_, err = p.Partition(ctx, testEvent{shard: "b"}, 0)
		if !errors.Is(err, ErrNoAssignment) {
			t.Errorf("expected remembered ErrNoAssignment, got %v", err)
		}
	})

	t.Run("unknown hash method fails at first use", func(t *testing.T) {
		m := NewShardMap()
		m.HashMethod = "md5"
		p := NewShardList(m)
		p.SetPartitions(2)

		_, err := p.Partition(ctx, testEvent{shard: "a"}, 0)
		if !errors.Is(err, ErrUnknownHashMethod) {
			t.Errorf("expected ErrUnknownHashMethod, got %v", err)
		}
	})

	t.Run("channel out of range names the shard", func(t *testing.T) {
		m := NewShardMap()
		m.Assignments["orders"] = 4
		p := NewShardList(m)
		p.SetPartitions(2)

		_, err := p.Partition(ctx, testEvent{shard: "other"}, 0)
		var rangeErr *ChannelRangeError
		if !errors.As(err, &rangeErr) {
			t.Fatalf("expected ChannelRangeError, got %v", err)
		}
		if rangeErr.Shard != "orders" || rangeErr.Channel != 4 {
			t.Errorf("unexpected range error %+v", rangeErr)
		}
		if !strings.Contains(err.Error(), `"orders"`) {
			t.Errorf("error should name the shard: %v", err)
		}
	})
}
