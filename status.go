package shardq

import (
	"fmt"
	"strings"
)

// Status is a diagnostic snapshot of a store. Taking it never blocks on
// admission.
type Status struct {
	StoreID  string `json:"store_id"`
	State    string `json:"state"`
	Channels int    `json:"channels"`
	MaxSize  int    `json:"max_size"`

	// Active counts events and control events resident across channels.
	Active int64 `json:"active"`
	Sizes  []int `json:"sizes"`

	// CriticalPartition is the serialized channel, -1 when none.
	CriticalPartition int  `json:"critical_partition"`
	StopPending       bool `json:"stop_pending"`
	PendingWatches    int  `json:"pending_watches"`

	Admitted       int64 `json:"admitted"`
	Discarded      int64 `json:"discarded"`
	Syncs          int64 `json:"syncs"`
	Stops          int64 `json:"stops"`
	Serializations int64 `json:"serializations"`

	// RestartSeqno is the seqno replay must restart from, -1 when unknown.
	RestartSeqno int64 `json:"restart_seqno"`
}

// Occupancy returns the total number of items across channels.
func (st Status) Occupancy() int {
	total := 0
	for _, n := range st.Sizes {
		total += n
	}
	return total
}

// Critical reports whether the store is serialized on a channel.
func (st Status) Critical() bool {
	return st.CriticalPartition >= 0
}

// String formats the status as a multi-line report.
func (st Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "store:          %s (%s)\n", st.StoreID, st.State)
	fmt.Fprintf(&b, "channels:       %d x %d\n", st.Channels, st.MaxSize)
	fmt.Fprintf(&b, "active:         %d\n", st.Active)
	for i, n := range st.Sizes {
		fmt.Fprintf(&b, "  channel %-3d   %d\n", i, n)
	}
	if st.Critical() {
		fmt.Fprintf(&b, "critical:       channel %d\n", st.CriticalPartition)
	} else {
		b.WriteString("critical:       none\n")
	}
	fmt.Fprintf(&b, "admitted:       %d (discarded %d)\n", st.Admitted, st.Discarded)
	fmt.Fprintf(&b, "broadcasts:     sync=%d stop=%d\n", st.Syncs, st.Stops)
	fmt.Fprintf(&b, "serializations: %d\n", st.Serializations)
	fmt.Fprintf(&b, "restart seqno:  %d\n", st.RestartSeqno)
	return b.String()
}

func stateName(state int32) string {
	switch state {
	case stateNew:
		return "new"
	case statePrepared:
		return "prepared"
	case stateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Status returns a snapshot of the store.
func (s *Store) Status() Status {
	st := Status{
		StoreID:           s.id,
		State:             stateName(s.state.Load()),
		Channels:          s.opts.channels,
		MaxSize:           s.opts.maxSize,
		Active:            s.active.load(),
		Sizes:             make([]int, s.opts.channels),
		CriticalPartition: int(s.critical.Load()),
		StopPending:       s.stopPending.Load(),
		PendingWatches:    s.pendingWatches(),
		Admitted:          s.admitted.Load(),
		Discarded:         s.discarded.Load(),
		Syncs:             s.syncs.Load(),
		Stops:             s.stops.Load(),
		Serializations:    s.serializations.Load(),
		RestartSeqno:      seqnoOf(s.RestartHeader()),
	}
	if qs := s.queues.Load(); qs != nil {
		for i, q := range *qs {
			st.Sizes[i] = q.len()
		}
	}
	return st
}
