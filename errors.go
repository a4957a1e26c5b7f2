package tally

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// configuration errors, fatal at construction
var (
	ErrTooManyFields       = errors.New("too many fields: an item holds at most 255")
	ErrPayloadsUnsupported = errors.New("the heap map store can not produce payloads")
	ErrBadSizes            = errors.New("result size limits must not be negative")
	ErrNoStoreRoot         = errors.New("off-heap stores need a store root directory")
)

// data errors
var (
	ErrBadKey     = errors.New("bad raw key")
	ErrBadItem    = errors.New("bad raw item")
	ErrBadPayload = errors.New("bad payload")
)

// lifecycle errors
var (
	ErrDestroyed        = errors.New("the store is destroyed")
	ErrInterrupted      = errors.New("interrupted")
	ErrUnknownComponent = errors.New("unknown component id")
	ErrBadState         = errors.New("illegal query state transition")
)

const MaxRetainedErrors = 100

// ErrorConsumer collects the failures of one query. The first
// MaxRetainedErrors distinct messages are kept in arrival order, the
// count covers all of them. Cancellation is not an error.
type ErrorConsumer struct {
	lock     sync.Mutex
	seen     map[string]struct{}
	messages []string
	count    atomic.Int64
}

func NewErrorConsumer() *ErrorConsumer {
	return &ErrorConsumer{seen: make(map[string]struct{})}
}

func isInterruption(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrInterrupted)
}

func (ec *ErrorConsumer) Add(err error) {
	if err == nil || isInterruption(err) {
		return
	}
	ec.count.Add(1)
	ErrorsReported.Inc()
	msg := err.Error()
	ec.lock.Lock()
	defer ec.lock.Unlock()
	if len(ec.messages) >= MaxRetainedErrors {
		return
	}
	if _, ok := ec.seen[msg]; ok {
		return
	}
	ec.seen[msg] = struct{}{}
	ec.messages = append(ec.messages, msg)
}

// Errors returns a snapshot of the retained messages.
func (ec *ErrorConsumer) Errors() []string {
	ec.lock.Lock()
	defer ec.lock.Unlock()
	ret := make([]string, len(ec.messages))
	copy(ret, ec.messages)
	return ret
}

// Drain returns the retained messages and forgets them.
// HasErrors stays true.
func (ec *ErrorConsumer) Drain() []string {
	ec.lock.Lock()
	defer ec.lock.Unlock()
	ret := ec.messages
	ec.messages = nil
	ec.seen = make(map[string]struct{})
	return ret
}

func (ec *ErrorConsumer) HasErrors() bool {
	return ec.count.Load() > 0
}

func (ec *ErrorConsumer) Count() int64 {
	return ec.count.Load()
}
