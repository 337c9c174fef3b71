package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec errors
var (
	ErrEncodeFailure = errors.New("checkpoint: failed to encode position")
	ErrDecodeFailure = errors.New("checkpoint: failed to decode position")
)

// RedisStore implements Store using Redis.
// Positions are MessagePack-encoded and stored in a Redis hash keyed by
// task id.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	cp := checkpoint.NewRedisStore(client, "replicator:restart")
//
//	// Expire positions of pipelines that have not run for a week
//	cp = checkpoint.NewRedisStore(client, "replicator:restart",
//	    checkpoint.WithTTL(7*24*time.Hour))
type RedisStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// RedisOption configures the Redis checkpoint store
type RedisOption func(*RedisStore)

// WithTTL sets a TTL on the positions hash, refreshed on every Save.
// Default is 0 (no expiration).
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore creates a new Redis-backed checkpoint store.
//
// Parameters:
//   - client: Redis client (supports Cmdable interface for universal client compatibility)
//   - key: Redis hash key holding all task positions
func NewRedisStore(client redis.Cmdable, key string, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		key:    key,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists the position for a task.
func (s *RedisStore) Save(ctx context.Context, taskID int, pos Position) error {
	data, err := msgpack.Marshal(pos)
	if err != nil {
		return errors.Join(ErrEncodeFailure, err)
	}

	if err := s.client.HSet(ctx, s.key, strconv.Itoa(taskID), data).Err(); err != nil {
		return err
	}

	if s.ttl > 0 {
		s.client.Expire(ctx, s.key, s.ttl)
	}
	return nil
}

// Load retrieves the position for a task.
func (s *RedisStore) Load(ctx context.Context, taskID int) (Position, bool, error) {
	data, err := s.client.HGet(ctx, s.key, strconv.Itoa(taskID)).Bytes()
	if err == redis.Nil {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, err
	}

	var pos Position
	if err := msgpack.Unmarshal(data, &pos); err != nil {
		return Position{}, false, errors.Join(ErrDecodeFailure, fmt.Errorf("task %d: %w", taskID, err))
	}
	return pos, true, nil
}

// LoadAll returns every saved position. Entries that fail to decode are
// reported together after the rest have been read.
func (s *RedisStore) LoadAll(ctx context.Context) (map[int]Position, error) {
	result, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}

	var errs []error
	positions := make(map[int]Position, len(result))
	for field, value := range result {
		taskID, err := strconv.Atoi(field)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid task id %q: %w", field, err))
			continue
		}
		var pos Position
		if err := msgpack.Unmarshal([]byte(value), &pos); err != nil {
			errs = append(errs, fmt.Errorf("task %d: %w", taskID, err))
			continue
		}
		positions[taskID] = pos
	}
	if len(errs) > 0 {
		return positions, errors.Join(append([]error{ErrDecodeFailure}, errs...)...)
	}
	return positions, nil
}

// Delete removes the position for a task.
func (s *RedisStore) Delete(ctx context.Context, taskID int) error {
	return s.client.HDel(ctx, s.key, strconv.Itoa(taskID)).Err()
}

// DeleteAll removes all positions (useful for testing or cleanup).
func (s *RedisStore) DeleteAll(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Compile-time check
var _ Store = (*RedisStore)(nil)
