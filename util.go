package shardq

import (
	"log/slog"

	"github.com/rbaliyan/shardq/checkpoint"
)

// Logger returns the default logger tagged with a component name.
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// positionOf converts a header to a persisted restart position.
func positionOf(h Header) checkpoint.Position {
	return checkpoint.Position{
		Seqno:    h.Seqno(),
		Fragno:   h.Fragno(),
		LastFrag: h.LastFrag(),
		ShardID:  h.ShardID(),
		EventID:  h.EventID(),
	}
}

// headerOf converts a persisted restart position to a header.
func headerOf(p checkpoint.Position) Header {
	return EventHeader{
		Seq:          p.Seqno,
		Frag:         p.Fragno,
		LastFragment: p.LastFrag,
		Shard:        p.ShardID,
		ID:           p.EventID,
	}
}

// snapshot copies the header fields of h, dropping any payload.
func snapshot(h Header) EventHeader {
	if eh, ok := h.(EventHeader); ok {
		return eh
	}
	return EventHeader{
		Seq:          h.Seqno(),
		Frag:         h.Fragno(),
		LastFragment: h.LastFrag(),
		Shard:        h.ShardID(),
		ID:           h.EventID(),
	}
}

func seqnoOf(h Header) int64 {
	if h == nil {
		return -1
	}
	return h.Seqno()
}
