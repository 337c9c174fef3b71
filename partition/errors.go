package partition

import (
	"errors"
	"fmt"
)

// Configuration errors. All of them wrap ErrConfig.
var (
	ErrConfig            = errors.New("partition: configuration error")
	ErrUnknownKind       = fmt.Errorf("%w: unknown partitioner kind", ErrConfig)
	ErrUnknownHashMethod = fmt.Errorf("%w: unknown hash method", ErrConfig)
	ErrNoAssignment      = fmt.Errorf("%w: round-robin hash method requires an assignment lookup", ErrConfig)
	ErrNoShardMap        = fmt.Errorf("%w: shard-list partitioner requires a shard map", ErrConfig)
	ErrNoMetadata        = fmt.Errorf("%w: load-balancing partitioner has no channel metadata", ErrConfig)
	ErrNoPartitions      = fmt.Errorf("%w: partition count not set", ErrConfig)
)

// ChannelRangeError reports a channel index outside [0, Channels).
type ChannelRangeError struct {
	Shard    string
	Channel  int
	Channels int
}

func (e *ChannelRangeError) Error() string {
	if e.Shard == "" {
		return fmt.Sprintf("partition: channel %d out of range [0, %d)", e.Channel, e.Channels)
	}
	return fmt.Sprintf("partition: shard %q assigned to channel %d, out of range [0, %d)",
		e.Shard, e.Channel, e.Channels)
}

func (e *ChannelRangeError) Unwrap() error {
	return ErrConfig
}

// EntryError reports a malformed shard map line.
type EntryError struct {
	Line int
	Text string
	Err  error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("partition: shard map line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *EntryError) Unwrap() []error {
	return []error{ErrConfig, e.Err}
}

// IsConfigError reports whether err is a partition configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}
