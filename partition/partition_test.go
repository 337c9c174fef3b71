package partition

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"syreclabs.com/go/faker"
)

func init() {
	faker.Seed(time.Now().UnixNano())
}

type testEvent struct {
	seqno int64
	shard string
}

func (e testEvent) Seqno() int64    { return e.seqno }
func (e testEvent) ShardID() string { return e.shard }

type fixedMetadata []int64

func (f fixedMetadata) PartitionMetadata(p int) Metadata {
	return Metadata{Partition: p, CurrentSize: f[p]}
}

func TestHashDeterministic(t *testing.T) {
	ctx := context.Background()
	p := NewHash()
	p.SetPartitions(7)

	for i := 0; i < 200; i++ {
		shard := faker.Lorem().Word() + "-" + strconv.Itoa(faker.RandomInt(0, 1<<20))
		first, err := p.Partition(ctx, testEvent{seqno: int64(i), shard: shard}, 0)
		if err != nil {
			t.Fatalf("Partition failed: %v", err)
		}
		if first.Critical {
			t.Errorf("shard %q should not be critical", shard)
		}
		if first.Partition < 0 || first.Partition >= 7 {
			t.Fatalf("partition %d out of range", first.Partition)
		}
		again, _ := p.Partition(ctx, testEvent{seqno: int64(i + 1000), shard: shard}, 3)
		if again != first {
			t.Errorf("shard %q: got %+v then %+v", shard, first, again)
		}
	}
}

func TestHashUnknownShardIsCritical(t *testing.T) {
	ctx := context.Background()
	p := NewHash()
	p.SetPartitions(3)

	for _, shard := range []string{"", UnknownShard} {
		r, err := p.Partition(ctx, testEvent{shard: shard}, 0)
		if err != nil {
			t.Fatalf("Partition failed: %v", err)
		}
		if !r.Critical {
			t.Errorf("shard %q: expected critical", shard)
		}
	}
}

func TestHashWithoutPartitions(t *testing.T) {
	_, err := NewHash().Partition(context.Background(), testEvent{shard: "a"}, 0)
	if !errors.Is(err, ErrNoPartitions) {
		t.Errorf("expected ErrNoPartitions, got %v", err)
	}
}

func TestRoundRobinCoverage(t *testing.T) {
	ctx := context.Background()
	const n, k = 4, 25
	p := NewRoundRobin()
	p.SetPartitions(n)

	counts := make([]int, n)
	for seq := int64(0); seq < n*k; seq++ {
		r, err := p.Partition(ctx, testEvent{seqno: seq, shard: "same"}, 0)
		if err != nil {
			t.Fatalf("Partition failed: %v", err)
		}
		if r.Critical {
			t.Fatal("round-robin must never be critical")
		}
		counts[r.Partition]++
	}
	for i, c := range counts {
		if c != k {
			t.Errorf("channel %d: expected %d events, got %d", i, k, c)
		}
	}
}

func TestLoadBalancing(t *testing.T) {
	ctx := context.Background()

	t.Run("requires metadata", func(t *testing.T) {
		p := NewLoadBalancing()
		p.SetPartitions(3)
		_, err := p.Partition(ctx, testEvent{}, 0)
		if !errors.Is(err, ErrNoMetadata) {
			t.Errorf("expected ErrNoMetadata, got %v", err)
		}
	})

	t.Run("prefers empty channel", func(t *testing.T) {
		p := NewLoadBalancing()
		p.SetPartitions(4)
		p.SetMetadata(fixedMetadata{3, 1, 0, 0})
		r, err := p.Partition(ctx, testEvent{shard: "x"}, 0)
		if err != nil {
			t.Fatalf("Partition failed: %v", err)
		}
		if r.Partition != 2 || r.Critical {
			t.Errorf("expected channel 2 non-critical, got %+v", r)
		}
	})

	t.Run("picks smallest", func(t *testing.T) {
		p := NewLoadBalancing()
		p.SetPartitions(3)
		p.SetMetadata(fixedMetadata{5, 9, 2})
		r, _ := p.Partition(ctx, testEvent{}, 0)
		if r.Partition != 2 {
			t.Errorf("expected channel 2, got %d", r.Partition)
		}
	})
}

func TestConsistentHash(t *testing.T) {
	ctx := context.Background()
	p := NewConsistentHash(50)
	p.SetPartitions(5)

	for i := 0; i < 100; i++ {
		shard := faker.Lorem().Word()
		a, err := p.Partition(ctx, testEvent{shard: shard}, 0)
		if err != nil {
			t.Fatalf("Partition failed: %v", err)
		}
		b, _ := p.Partition(ctx, testEvent{shard: shard}, 0)
		if a != b {
			t.Errorf("shard %q moved: %+v vs %+v", shard, a, b)
		}
		if a.Partition < 0 || a.Partition >= 5 {
			t.Errorf("partition %d out of range", a.Partition)
		}
	}

	r, _ := p.Partition(ctx, testEvent{shard: UnknownShard}, 0)
	if !r.Critical {
		t.Error("unknown shard must be critical")
	}
}

func TestNew(t *testing.T) {
	for _, kind := range []Kind{KindHash, KindRoundRobin, KindLoadBalancing, KindConsistentHash} {
		p, err := New(kind)
		if err != nil {
			t.Errorf("New(%s) failed: %v", kind, err)
		}
		if p == nil {
			t.Errorf("New(%s) returned nil", kind)
		}
	}

	if _, err := New(KindShardList); !errors.Is(err, ErrNoShardMap) {
		t.Errorf("expected ErrNoShardMap, got %v", err)
	}
	if _, err := New(KindShardList, WithShardMap(NewShardMap())); err != nil {
		t.Errorf("New(shard-list) failed: %v", err)
	}

	_, err := New("by-class-name")
	if !errors.Is(err, ErrUnknownKind) || !IsConfigError(err) {
		t.Errorf("expected ErrUnknownKind config error, got %v", err)
	}
}
