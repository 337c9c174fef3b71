package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rbaliyan/shardq/assignment"
	"github.com/rbaliyan/shardq/checkpoint"
	"github.com/rbaliyan/shardq/config"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// Default key and collection names used when the configuration leaves them
// empty.
const (
	defaultAssignmentKey        = "shardq:assignments"
	defaultCheckpointKey        = "shardq:checkpoints"
	defaultAssignmentCollection = "shard_assignments"
	defaultCheckpointCollection = "restart_positions"
	defaultPipeline             = "default"
)

// backends holds the persistence stores built from a configuration and the
// connections that must be closed with them.
type backends struct {
	assignment assignment.Store
	checkpoint checkpoint.Store
	closers    []func(context.Context) error
}

func (b *backends) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i](ctx))
	}
	b.closers = nil
	return errors.Join(errs...)
}

// openBackends connects the assignment and checkpoint stores of cfg. The
// returned backends must be closed even when an error is returned.
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	as, err := b.openAssignment(ctx, cfg.Assignment)
	if err != nil {
		return b, fmt.Errorf("assignment backend: %w", err)
	}
	b.assignment = as

	cs, err := b.openCheckpoint(ctx, cfg.Checkpoint)
	if err != nil {
		return b, fmt.Errorf("checkpoint backend: %w", err)
	}
	b.checkpoint = cs
	return b, nil
}

func (b *backends) redisClient(ctx context.Context, c config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
	b.closers = append(b.closers, func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", c.Addr, err)
	}
	return client, nil
}

func (b *backends) mongoDatabase(ctx context.Context, c config.MongoDBConfig) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	b.closers = append(b.closers, client.Disconnect)
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}
	return client.Database(c.Database), nil
}

func (b *backends) openAssignment(ctx context.Context, c config.BackendConfig) (assignment.Store, error) {
	switch c.Backend {
	case config.BackendMemory:
		return assignment.NewMemoryStore(), nil

	case config.BackendRedis:
		client, err := b.redisClient(ctx, c.Redis)
		if err != nil {
			return nil, err
		}
		return assignment.NewRedisStore(client, orDefault(c.Redis.Key, defaultAssignmentKey)), nil

	case config.BackendMongoDB:
		db, err := b.mongoDatabase(ctx, c.MongoDB)
		if err != nil {
			return nil, err
		}
		coll := db.Collection(orDefault(c.MongoDB.Collection, defaultAssignmentCollection))
		return assignment.NewMongoStore(coll), nil

	case config.BackendSQL:
		db, err := sql.Open(c.SQL.Driver, c.SQL.DSN)
		if err != nil {
			return nil, fmt.Errorf("sql open: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error { return db.Close() })

		dialect := assignment.DialectPostgres
		if c.SQL.Driver == "sqlite" {
			dialect = assignment.DialectSQLite
		}
		store := assignment.NewSQLStore(db, assignment.WithSQLTable(c.SQL.Table), assignment.WithSQLDialect(dialect))
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported backend %q", c.Backend)
	}
}

// openCheckpoint returns nil for the "none" backend.
func (b *backends) openCheckpoint(ctx context.Context, c config.BackendConfig) (checkpoint.Store, error) {
	switch c.Backend {
	case config.BackendNone, "":
		return nil, nil

	case config.BackendMemory:
		return checkpoint.NewMemoryStore(), nil

	case config.BackendRedis:
		client, err := b.redisClient(ctx, c.Redis)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewRedisStore(client, orDefault(c.Redis.Key, defaultCheckpointKey), checkpoint.WithTTL(c.Redis.TTL)), nil

	case config.BackendMongoDB:
		db, err := b.mongoDatabase(ctx, c.MongoDB)
		if err != nil {
			return nil, err
		}
		coll := db.Collection(orDefault(c.MongoDB.Collection, defaultCheckpointCollection))
		store := checkpoint.NewMongoStore(coll, orDefault(c.MongoDB.Pipeline, defaultPipeline))
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported backend %q", c.Backend)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
