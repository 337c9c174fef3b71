package partition

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Reserved shard map keys.
const (
	KeyDefault    = "(*)"
	KeyCritical   = "(critical)"
	KeyHashMethod = "(hash-method)"
)

// HashMethod selects how ShardList places shards that are neither mapped
// explicitly nor covered by a default channel.
type HashMethod string

const (
	// HashString places shards by a stable hash of the shard id.
	HashString HashMethod = "string-hash"
	// HashRoundRobin gives first-seen shards the next channel in sequence,
	// recorded by an AssignmentLookup so shards keep their channel across
	// restarts.
	HashRoundRobin HashMethod = "round-robin"
)

// Valid reports whether m is a known hash method.
func (m HashMethod) Valid() bool {
	return m == HashString || m == HashRoundRobin
}

// ShardMap is the parsed form of a shard map file:
//
//	# explicit assignments
//	orders=0
//	customers=1
//	# default channel for unmatched shards
//	(*)=2
//	# shards that always run alone
//	(critical)=ddl,audit
//	(hash-method)=string-hash
type ShardMap struct {
	// Assignments maps shard ids to explicit channels.
	Assignments map[string]int
	// Default is the channel for unmatched shards, or -1 to fall back to
	// the hash method.
	Default int
	// Critical holds shard ids that are always critical.
	Critical map[string]struct{}
	// HashMethod is checked at first use, not at parse time.
	HashMethod HashMethod
}

// NewShardMap returns an empty map using string hashing and no default.
func NewShardMap() *ShardMap {
	return &ShardMap{
		Assignments: make(map[string]int),
		Default:     -1,
		Critical:    make(map[string]struct{}),
		HashMethod:  HashString,
	}
}

// IsCritical reports whether shard is always critical. The unknown shard
// sentinel is critical regardless of the map.
func (m *ShardMap) IsCritical(shard string) bool {
	if isUnknown(shard) {
		return true
	}
	_, ok := m.Critical[shard]
	return ok
}

// CriticalShards returns the critical shard ids in sorted order.
func (m *ShardMap) CriticalShards() []string {
	out := make([]string, 0, len(m.Critical))
	for s := range m.Critical {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Validate checks the map against a channel count: every explicit and
// default channel must be in range and the hash method must be known.
func (m *ShardMap) Validate(channels int) error {
	var errs []error
	if !m.HashMethod.Valid() {
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownHashMethod, m.HashMethod))
	}
	if m.Default >= channels {
		errs = append(errs, &ChannelRangeError{Shard: KeyDefault, Channel: m.Default, Channels: channels})
	}
	shards := make([]string, 0, len(m.Assignments))
	for s := range m.Assignments {
		shards = append(shards, s)
	}
	sort.Strings(shards)
	for _, s := range shards {
		if ch := m.Assignments[s]; ch >= channels {
			errs = append(errs, &ChannelRangeError{Shard: s, Channel: ch, Channels: channels})
		}
	}
	return errors.Join(errs...)
}

// LoadShardMap reads and parses a shard map file.
func LoadShardMap(path string) (*ShardMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: shard map %q: %w", ErrConfig, path, err)
	}
	defer f.Close()

	m, err := ParseShardMap(f)
	if err != nil {
		return nil, fmt.Errorf("shard map %q: %w", path, err)
	}
	return m, nil
}

// ParseShardMap parses key=value lines. Blank lines and lines starting with
// '#' are ignored. Any malformed line fails the whole parse, so a partial map
// is never returned.
func ParseShardMap(r io.Reader) (*ShardMap, error) {
	m := NewShardMap()
	seen := make(map[string]int)

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, &EntryError{Line: line, Text: text, Err: errors.New("missing '='")}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, &EntryError{Line: line, Text: text, Err: errors.New("empty shard id")}
		}
		if prev, dup := seen[key]; dup {
			return nil, &EntryError{Line: line, Text: text, Err: fmt.Errorf("duplicate key, first set on line %d", prev)}
		}
		seen[key] = line

		switch key {
		case KeyHashMethod:
			m.HashMethod = HashMethod(value)
		case KeyCritical:
			for _, s := range strings.Split(value, ",") {
				if s = strings.TrimSpace(s); s != "" {
					m.Critical[s] = struct{}{}
				}
			}
		default:
			ch, err := strconv.Atoi(value)
			if err != nil {
				return nil, &EntryError{Line: line, Text: text, Err: fmt.Errorf("channel is not an integer: %w", err)}
			}
			if ch < 0 {
				return nil, &EntryError{Line: line, Text: text, Err: fmt.Errorf("negative channel %d", ch)}
			}
			if key == KeyDefault {
				m.Default = ch
			} else {
				m.Assignments[key] = ch
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading shard map: %w", ErrConfig, err)
	}
	return m, nil
}
