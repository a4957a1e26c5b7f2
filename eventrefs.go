package tally

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/drpcorg/tally/val"
)

// EventRef points at one event of one stream.
type EventRef struct {
	StreamID int64
	EventID  int64
}

const EventRefLen = 16

func (r EventRef) IsZero() bool {
	return r.StreamID == 0 && r.EventID == 0
}

func (r EventRef) Compare(o EventRef) int {
	switch {
	case r.StreamID < o.StreamID:
		return -1
	case r.StreamID > o.StreamID:
		return 1
	case r.EventID < o.EventID:
		return -1
	case r.EventID > o.EventID:
		return 1
	default:
		return 0
	}
}

func (r EventRef) AppendTo(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.StreamID))
	return binary.BigEndian.AppendUint64(buf, uint64(r.EventID))
}

func (r EventRef) String() string {
	return fmt.Sprintf("%d:%d", r.StreamID, r.EventID)
}

func ReadEventRef(data []byte) (EventRef, error) {
	if len(data) < EventRefLen {
		return EventRef{}, ErrBadPayload
	}
	return EventRef{
		StreamID: int64(binary.BigEndian.Uint64(data[0:8])),
		EventID:  int64(binary.BigEndian.Uint64(data[8:16])),
	}, nil
}

func LaterRef(a, b EventRef) EventRef {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// RefFromRow reads the stream and event ids of a row.
func RefFromRow(row []val.Val, streamPos, eventPos int) (EventRef, bool) {
	if streamPos < 0 || eventPos < 0 || streamPos >= len(row) || eventPos >= len(row) {
		return EventRef{}, false
	}
	stream, sok := val.ToLong(row[streamPos])
	event, eok := val.ToLong(row[eventPos])
	if !sok || !eok {
		return EventRef{}, false
	}
	return EventRef{StreamID: stream, EventID: event}, true
}

type EventRefsLimits struct {
	MinEvent EventRef
	// MaxEvent is inclusive, zero means no upper bound.
	MaxEvent           EventRef
	MaxStreams         int
	MaxEvents          int
	MaxEventsPerStream int
}

// EventRefs keeps the lowest event references within the limits. Excess
// refs are trimmed lazily once twice the event limit piles up.
type EventRefs struct {
	lock         sync.Mutex
	limits       EventRefsLimits
	refs         []EventRef
	sorted       bool
	pending      []EventRef
	trackPending bool
	reachedLimit bool
}

func NewEventRefs(limits EventRefsLimits, trackPending bool) *EventRefs {
	return &EventRefs{limits: limits, trackPending: trackPending, sorted: true}
}

func (e *EventRefs) inRange(ref EventRef) bool {
	if ref.Compare(e.limits.MinEvent) < 0 {
		return false
	}
	return e.limits.MaxEvent.IsZero() || ref.Compare(e.limits.MaxEvent) <= 0
}

func (e *EventRefs) Add(ref EventRef) bool {
	if !e.inRange(ref) {
		return false
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	e.refs = append(e.refs, ref)
	e.sorted = false
	if e.trackPending {
		e.pending = append(e.pending, ref)
	}
	if e.limits.MaxEvents > 0 && len(e.refs) > 2*e.limits.MaxEvents {
		e.trim()
	}
	return true
}

// under lock
func (e *EventRefs) trim() {
	defer e.prunePending()
	if !e.sorted {
		slices.SortFunc(e.refs, EventRef.Compare)
		e.refs = slices.Compact(e.refs)
		e.sorted = true
	}
	kept := e.refs[:0]
	streams := 0
	perStream := 0
	var stream int64
	for i, ref := range e.refs {
		if i == 0 || ref.StreamID != stream {
			stream = ref.StreamID
			perStream = 0
			streams++
		}
		perStream++
		switch {
		case e.limits.MaxStreams > 0 && streams > e.limits.MaxStreams,
			e.limits.MaxEvents > 0 && len(kept) >= e.limits.MaxEvents:
			e.reachedLimit = true
			e.refs = kept
			return
		case e.limits.MaxEventsPerStream > 0 && perStream > e.limits.MaxEventsPerStream:
			e.reachedLimit = true
			continue
		}
		kept = append(kept, ref)
	}
	e.refs = kept
}

// under lock, refs sorted. Pending keeps only the refs that survived the trim.
func (e *EventRefs) prunePending() {
	if len(e.pending) == 0 {
		return
	}
	slices.SortFunc(e.pending, EventRef.Compare)
	e.pending = slices.Compact(e.pending)
	kept := e.pending[:0]
	for _, ref := range e.pending {
		if _, found := slices.BinarySearchFunc(e.refs, ref, EventRef.Compare); found {
			kept = append(kept, ref)
		}
	}
	e.pending = kept
}

// List returns the retained refs in order.
func (e *EventRefs) List() []EventRef {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.trim()
	return slices.Clone(e.refs)
}

func (e *EventRefs) Size() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.trim()
	return len(e.refs)
}

func (e *EventRefs) ReachedLimit() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.trim()
	return e.reachedLimit
}

// TakePending returns the refs added since the previous call.
func (e *EventRefs) TakePending() []EventRef {
	e.lock.Lock()
	defer e.lock.Unlock()
	ret := e.pending
	e.pending = nil
	return ret
}
