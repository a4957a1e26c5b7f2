package utils

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("[tally] payload queue is closed")
var ErrOverflow = errors.New("[tally] payload queue is overflowed")

// Queue is a bounded batching queue of byte records. Drain blocks while
// the queue is full; a writer that waits longer than the time limit marks
// the queue overflowed, which is permanent. Feed returns batches of at
// least batchSize bytes when that much is queued.
type Queue[T ~[][]byte] struct {
	lock       sync.Mutex
	data       T
	size       int
	limit      int
	timelimit  time.Duration
	batchSize  int
	closed     bool
	overflowed bool
	changed    chan struct{}
}

func NewQueue[T ~[][]byte](limit int, timelimit time.Duration, batchSize int) *Queue[T] {
	return &Queue[T]{
		limit:     limit,
		timelimit: timelimit,
		batchSize: batchSize,
		changed:   make(chan struct{}),
	}
}

// under lock
func (q *Queue[T]) signal() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue[T]) Close() error {
	q.lock.Lock()
	defer q.lock.Unlock()
	if !q.closed {
		q.closed = true
		q.signal()
	}
	return nil
}

func (q *Queue[T]) Size() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.size
}

func (q *Queue[T]) Drain(ctx context.Context, recs T) error {
	timer := time.NewTimer(q.timelimit)
	defer timer.Stop()
	for len(recs) > 0 {
		q.lock.Lock()
		if q.closed {
			q.lock.Unlock()
			return ErrClosed
		}
		if q.overflowed {
			q.lock.Unlock()
			return ErrOverflow
		}
		n := 0
		for n < len(recs) && q.size+len(recs[n]) <= q.limit {
			q.size += len(recs[n])
			n++
		}
		// an oversized record still passes through an empty queue
		if n == 0 && q.size == 0 {
			q.size += len(recs[0])
			n = 1
		}
		if n > 0 {
			q.data = append(q.data, recs[:n]...)
			recs = recs[n:]
			q.signal()
		}
		wait := q.changed
		q.lock.Unlock()
		if len(recs) == 0 {
			break
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			q.lock.Lock()
			q.overflowed = true
			q.lock.Unlock()
			return ErrOverflow
		}
	}
	return nil
}

// Feed waits up to the time limit for records; it returns an empty batch
// on timeout. Records queued before Close are still fed.
func (q *Queue[T]) Feed(ctx context.Context) (recs T, err error) {
	timer := time.NewTimer(q.timelimit)
	defer timer.Stop()
	for {
		q.lock.Lock()
		if len(q.data) > 0 {
			n, size := 0, 0
			for n < len(q.data) && (n == 0 || size < q.batchSize) {
				size += len(q.data[n])
				n++
			}
			recs = append(recs, q.data[:n]...)
			q.data = q.data[n:]
			if len(q.data) == 0 {
				q.data = nil
			}
			q.size -= size
			q.signal()
			q.lock.Unlock()
			return recs, nil
		}
		if q.closed {
			q.lock.Unlock()
			return nil, ErrClosed
		}
		wait := q.changed
		q.lock.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		}
	}
}
