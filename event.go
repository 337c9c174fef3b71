package shardq

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Header identifies a position in the replicated change stream.
type Header interface {
	// Seqno is the monotonically increasing sequence number of the event.
	Seqno() int64
	// Fragno is the fragment number within a transaction.
	Fragno() int16
	// LastFrag reports whether this is the last fragment of its transaction.
	LastFrag() bool
	// ShardID is the partition key of the event.
	ShardID() string
	// EventID is the source position, for example a binlog file and offset.
	EventID() string
}

// Event is a change event handed to the store by the producer.
type Event interface {
	Header
	// Empty reports whether the event carries no row data. Empty events are
	// discarded on admission.
	Empty() bool
	// Heartbeat returns the heartbeat name, or "" when the event is not a
	// heartbeat. A heartbeat on a last fragment forces a SYNC broadcast.
	Heartbeat() string
}

// Item is an element held by a channel: an Event or a *ControlEvent.
type Item interface {
	Seqno() int64
}

// EventHeader is a plain Header value.
type EventHeader struct {
	Seq          int64  `json:"seqno"`
	Frag         int16  `json:"fragno"`
	LastFragment bool   `json:"last_frag"`
	Shard        string `json:"shard_id"`
	ID           string `json:"event_id"`
}

func (h EventHeader) Seqno() int64    { return h.Seq }
func (h EventHeader) Fragno() int16   { return h.Frag }
func (h EventHeader) LastFrag() bool  { return h.LastFragment }
func (h EventHeader) ShardID() string { return h.Shard }
func (h EventHeader) EventID() string { return h.ID }

// ChangeEvent is the concrete Event used by producers.
type ChangeEvent struct {
	EventHeader
	// HeartbeatName is set on heartbeat events.
	HeartbeatName string
	// Data is the row change payload. A nil Data makes the event empty.
	Data any
}

// NewChangeEvent creates a single-fragment change event.
func NewChangeEvent(seqno int64, shard string, data any) *ChangeEvent {
	return &ChangeEvent{
		EventHeader: EventHeader{
			Seq:          seqno,
			LastFragment: true,
			Shard:        shard,
		},
		Data: data,
	}
}

func (e *ChangeEvent) Empty() bool       { return e.Data == nil }
func (e *ChangeEvent) Heartbeat() string { return e.HeartbeatName }

func (e *ChangeEvent) String() string {
	return fmt.Sprintf("seqno=%d frag=%d last=%t shard=%s", e.Seq, e.Frag, e.LastFragment, e.Shard)
}

// ControlType tags a control event.
type ControlType int

const (
	// ControlSync asks every consumer to advance its restart position.
	ControlSync ControlType = iota
	// ControlStop asks every consumer to terminate.
	ControlStop
)

// String returns the lowercase control type name.
func (t ControlType) String() string {
	switch t {
	case ControlSync:
		return "sync"
	case ControlStop:
		return "stop"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ControlEvent is broadcast to every channel at the same admission point.
// All channels receive the same *ControlEvent value.
type ControlEvent struct {
	Type ControlType
	// ID is shared by the copies of one broadcast.
	ID string
	// Header is the header of the last real event admitted before the
	// broadcast, nil when none was admitted.
	Header    Header
	CreatedAt time.Time
}

func newControlEvent(t ControlType, last Header) *ControlEvent {
	return &ControlEvent{
		Type:      t,
		ID:        uuid.NewString(),
		Header:    last,
		CreatedAt: time.Now(),
	}
}

// Seqno returns the seqno of the last admitted event, or -1.
func (c *ControlEvent) Seqno() int64 {
	if c.Header == nil {
		return -1
	}
	return c.Header.Seqno()
}

func (c *ControlEvent) String() string {
	return fmt.Sprintf("control=%s seqno=%d id=%s", c.Type, c.Seqno(), c.ID)
}

// Compile-time checks
var (
	_ Header = EventHeader{}
	_ Event  = (*ChangeEvent)(nil)
	_ Item   = (*ControlEvent)(nil)
)
