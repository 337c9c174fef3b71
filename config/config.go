// Package config loads the YAML configuration of a dispatch pipeline.
//
// Example file:
//
//	channels: 4
//	max_size: 1000
//	partitioner:
//	  kind: shard-list
//	  shard_map: /etc/replicator/shards.map
//	sync:
//	  enabled: true
//	  interval: 10000
//	assignment:
//	  backend: redis
//	  redis:
//	    addr: localhost:6379
//	    key: replicator:shards
//	checkpoint:
//	  backend: mongodb
//	  mongodb:
//	    uri: mongodb://localhost:27017
//	    database: replicator
//	    collection: restart_positions
//
// Parsing is strict: unknown keys and trailing documents are rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbaliyan/shardq"
	"github.com/rbaliyan/shardq/partition"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration validation failures.
var ErrInvalid = errors.New("config: invalid configuration")

// Backend names
const (
	BackendNone    = "none"
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendMongoDB = "mongodb"
	BackendSQL     = "sql"
)

// Config is the pipeline configuration.
type Config struct {
	Channels    int               `yaml:"channels"`
	MaxSize     int               `yaml:"max_size"`
	Partitioner PartitionerConfig `yaml:"partitioner"`
	Sync        SyncConfig        `yaml:"sync"`
	Assignment  BackendConfig     `yaml:"assignment"`
	Checkpoint  BackendConfig     `yaml:"checkpoint"`
}

// PartitionerConfig selects the routing strategy.
type PartitionerConfig struct {
	Kind partition.Kind `yaml:"kind"`
	// ShardMap is the path of the shard map file, required by shard-list.
	ShardMap string `yaml:"shard_map"`
	// Replicas is the virtual node count of consistent-hash.
	Replicas int `yaml:"replicas"`
}

// SyncConfig controls periodic SYNC broadcasts.
type SyncConfig struct {
	Enabled  bool `yaml:"enabled"`
	Interval int  `yaml:"interval"`
}

// BackendConfig selects a persistence backend. Only the section matching
// Backend is used.
type BackendConfig struct {
	Backend string        `yaml:"backend"`
	Redis   RedisConfig   `yaml:"redis"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
	SQL     SQLConfig     `yaml:"sql"`
}

// RedisConfig addresses a Redis hash.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
}

// MongoDBConfig addresses a MongoDB collection.
type MongoDBConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	// Pipeline scopes checkpoint documents in a shared collection.
	Pipeline string `yaml:"pipeline"`
}

// SQLConfig addresses a SQL table through database/sql.
type SQLConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Channels: shardq.DefaultChannels,
		MaxSize:  shardq.DefaultMaxSize,
		Partitioner: PartitionerConfig{
			Kind: partition.KindHash,
		},
		Sync: SyncConfig{
			Enabled:  true,
			Interval: shardq.DefaultSyncInterval,
		},
		Assignment: BackendConfig{Backend: BackendMemory},
		Checkpoint: BackendConfig{Backend: BackendNone},
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: unsupported config format %q (only YAML supported)", ErrInvalid, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	// A relative shard map is resolved against the config file.
	if m := cfg.Partitioner.ShardMap; m != "" && !filepath.IsAbs(m) {
		cfg.Partitioner.ShardMap = filepath.Join(filepath.Dir(path), m)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: multiple documents or trailing content", ErrInvalid)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate reports every problem in the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Channels < 1 {
		errs = append(errs, invalid("channels must be at least 1, got %d", c.Channels))
	}
	if c.MaxSize < 1 {
		errs = append(errs, invalid("max_size must be at least 1, got %d", c.MaxSize))
	}
	if c.Sync.Enabled && c.Sync.Interval < 1 {
		errs = append(errs, invalid("sync.interval must be at least 1, got %d", c.Sync.Interval))
	}

	p := c.Partitioner
	switch {
	case !p.Kind.Valid():
		errs = append(errs, invalid("unknown partitioner kind %q", p.Kind))
	case p.Kind == partition.KindShardList && p.ShardMap == "":
		errs = append(errs, invalid("partitioner.shard_map is required for kind %q", p.Kind))
	}
	if p.Replicas < 0 {
		errs = append(errs, invalid("partitioner.replicas must not be negative, got %d", p.Replicas))
	}

	errs = append(errs, c.Assignment.validate("assignment", false)...)
	errs = append(errs, c.Checkpoint.validate("checkpoint", true)...)
	return errors.Join(errs...)
}

func (b BackendConfig) validate(section string, allowNone bool) []error {
	var errs []error
	switch b.Backend {
	case BackendMemory:
	case BackendNone, "":
		if !allowNone {
			errs = append(errs, invalid("%s.backend is required", section))
		}
	case BackendRedis:
		if b.Redis.Addr == "" {
			errs = append(errs, invalid("%s.redis.addr is required", section))
		}
	case BackendMongoDB:
		if b.MongoDB.URI == "" {
			errs = append(errs, invalid("%s.mongodb.uri is required", section))
		}
		if b.MongoDB.Database == "" {
			errs = append(errs, invalid("%s.mongodb.database is required", section))
		}
	case BackendSQL:
		if section == "checkpoint" {
			errs = append(errs, invalid("checkpoint backend %q is not supported", b.Backend))
			break
		}
		if b.SQL.Driver == "" || b.SQL.DSN == "" {
			errs = append(errs, invalid("%s.sql.driver and %s.sql.dsn are required", section, section))
		}
	default:
		errs = append(errs, invalid("unknown %s backend %q", section, b.Backend))
	}
	return errs
}

// BuildPartitioner creates the configured partitioner. The shard map is
// loaded from disk for shard-list; lookup serves the round-robin hash
// method and may be nil otherwise.
func (c *Config) BuildPartitioner(lookup partition.AssignmentLookup) (partition.Partitioner, error) {
	opts := []partition.Option{partition.WithReplicas(c.Partitioner.Replicas)}
	if lookup != nil {
		opts = append(opts, partition.WithAssignmentLookup(lookup))
	}
	if c.Partitioner.Kind == partition.KindShardList {
		m, err := partition.LoadShardMap(c.Partitioner.ShardMap)
		if err != nil {
			return nil, err
		}
		if err := m.Validate(c.Channels); err != nil {
			return nil, err
		}
		opts = append(opts, partition.WithShardMap(m))
	}
	return partition.New(c.Partitioner.Kind, opts...)
}

// StoreOptions returns the store options for the configuration. The
// partitioner and checkpoint store are built separately and appended by
// the caller.
func (c *Config) StoreOptions() []shardq.Option {
	return []shardq.Option{
		shardq.WithChannels(c.Channels),
		shardq.WithMaxSize(c.MaxSize),
		shardq.WithSyncEnabled(c.Sync.Enabled),
		shardq.WithSyncInterval(c.Sync.Interval),
	}
}
