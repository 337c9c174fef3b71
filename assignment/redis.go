package assignment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using a Redis hash for assignments and a
// counter key for the sequence.
//
// Keys:
//   - <key>: hash of shard id -> channel
//   - <key>:seq: sequence counter incremented once per new shard
//
// A new shard is assigned by one Lua script that reads the hash, takes the
// next sequence number and records the channel atomically, so concurrent
// first lookups never consume a sequence number without recording it and
// channels are handed out strictly in sequence.
//
// With Redis Cluster both keys must hash to the same slot; use a hash tag
// such as "{replicator}:shards".
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := assignment.NewRedisStore(client, "replicator:shards")
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore creates a new Redis-backed assignment store.
//
// Parameters:
//   - client: Redis client (Cmdable, so cluster clients work too)
//   - key: Redis hash key holding the assignments
func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
	}
}

func (s *RedisStore) seqKey() string {
	return s.key + ":seq"
}

// assignScript returns the recorded channel of ARGV[1], or records
// (INCR(KEYS[2]) - 1) mod ARGV[2] for it first.
var assignScript = redis.NewScript(`
	local ch = redis.call('HGET', KEYS[1], ARGV[1])
	if ch then
		return tonumber(ch)
	end
	local n = redis.call('INCR', KEYS[2])
	ch = (n - 1) % tonumber(ARGV[2])
	redis.call('HSET', KEYS[1], ARGV[1], ch)
	return ch
`)

// ChannelAssignment returns the recorded channel, assigning one on first sight.
func (s *RedisStore) ChannelAssignment(ctx context.Context, shardID string, channels int) (int, error) {
	if err := checkChannels(channels); err != nil {
		return 0, err
	}

	ch, found, err := s.get(ctx, shardID)
	if err != nil || found {
		return ch, err
	}

	ch, err = assignScript.Run(ctx, s.client, []string{s.key, s.seqKey()}, shardID, channels).Int()
	if err != nil {
		return 0, fmt.Errorf("assignment: record shard %q: %w", shardID, err)
	}
	return ch, nil
}

func (s *RedisStore) get(ctx context.Context, shardID string) (int, bool, error) {
	value, err := s.client.HGet(ctx, s.key, shardID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("assignment: lookup shard %q: %w", shardID, err)
	}
	ch, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("assignment: shard %q has invalid channel %q: %w", shardID, value, err)
	}
	return ch, true, nil
}

// List returns every recorded assignment. Invalid entries are skipped.
func (s *RedisStore) List(ctx context.Context) (map[string]int, error) {
	result, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(result))
	for shard, value := range result {
		ch, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		out[shard] = ch
	}
	return out, nil
}

// Reset deletes the assignment hash and the sequence counter.
func (s *RedisStore) Reset(ctx context.Context) error {
	return s.client.Del(ctx, s.key, s.seqKey()).Err()
}

// Compile-time check
var _ Store = (*RedisStore)(nil)
