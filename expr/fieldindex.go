package expr

import (
	"iter"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Well-known field names carrying the stream and event ids of a row.
// The double-underscore names win when both spellings are present.
const (
	StreamIDField         = "__stream_id__"
	EventIDField          = "__event_id__"
	FallbackStreamIDField = "StreamId"
	FallbackEventIDField  = "EventId"
)

// FieldIndex maps field names to the positions of their values in a row.
// Positions are handed out once and never change.
type FieldIndex struct {
	positions *xsync.MapOf[string, int]
	lock      sync.Mutex
	names     []string
}

func NewFieldIndex(names ...string) *FieldIndex {
	fi := &FieldIndex{positions: xsync.NewMapOf[string, int]()}
	for _, name := range names {
		fi.GetOrCreate(name)
	}
	return fi
}

func (fi *FieldIndex) GetOrCreate(name string) int {
	if pos, ok := fi.positions.Load(name); ok {
		return pos
	}
	fi.lock.Lock()
	defer fi.lock.Unlock()
	if pos, ok := fi.positions.Load(name); ok {
		return pos
	}
	pos := len(fi.names)
	fi.names = append(fi.names, name)
	fi.positions.Store(name, pos)
	return pos
}

func (fi *FieldIndex) Pos(name string) (int, bool) {
	return fi.positions.Load(name)
}

func (fi *FieldIndex) Name(pos int) string {
	fi.lock.Lock()
	defer fi.lock.Unlock()
	if pos < 0 || pos >= len(fi.names) {
		return ""
	}
	return fi.names[pos]
}

func (fi *FieldIndex) Size() int {
	return fi.positions.Size()
}

// Names returns a copy of the names in position order.
func (fi *FieldIndex) Names() []string {
	fi.lock.Lock()
	defer fi.lock.Unlock()
	names := make([]string, len(fi.names))
	copy(names, fi.names)
	return names
}

// All enumerates (name, position) pairs in position order.
func (fi *FieldIndex) All() iter.Seq2[string, int] {
	names := fi.Names()
	return func(yield func(string, int) bool) {
		for pos, name := range names {
			if !yield(name, pos) {
				return
			}
		}
	}
}

func (fi *FieldIndex) wellKnown(name, fallback string) int {
	if pos, ok := fi.Pos(name); ok {
		return pos
	}
	if pos, ok := fi.Pos(fallback); ok {
		return pos
	}
	return fi.GetOrCreate(fallback)
}

func (fi *FieldIndex) StreamIDPos() int {
	return fi.wellKnown(StreamIDField, FallbackStreamIDField)
}

func (fi *FieldIndex) EventIDPos() int {
	return fi.wellKnown(EventIDField, FallbackEventIDField)
}
