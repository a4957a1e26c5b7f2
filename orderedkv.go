package tally

import (
	"io"
	"slices"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
)

// OrderedKV is what the off-heap store needs from an embedded engine:
// point reads, ordered range scans and atomic write batches.
type OrderedKV interface {
	// Get returns a copy of the value, nil if the key is absent.
	Get(key []byte) ([]byte, error)
	Scan(lower, upper []byte, fn func(key, value []byte) bool) error
	Write(fn func(w KVWriter) error) error
	Close() error
}

type KVWriter interface {
	Set(key, value []byte) error
	Merge(key, value []byte) error
	DeleteRange(lower, upper []byte) error
}

// MergeFunc combines the operands of one key, ordered old to new.
type MergeFunc func(key []byte, inputs [][]byte) ([]byte, error)

type pebbleMergeAdaptor struct {
	key   []byte
	merge MergeFunc
	old   bool
	vals  [][]byte
}

func (a *pebbleMergeAdaptor) MergeNewer(value []byte) error {
	a.vals = append(a.vals, slices.Clone(value))
	return nil
}

func (a *pebbleMergeAdaptor) MergeOlder(value []byte) error {
	a.vals = append(a.vals, slices.Clone(value))
	a.old = true
	return nil
}

func (a *pebbleMergeAdaptor) Finish(includesBase bool) ([]byte, io.Closer, error) {
	if a.old {
		slices.Reverse(a.vals)
	}
	if len(a.vals) == 0 {
		return nil, nil, nil
	}
	res, err := a.merge(a.key, a.vals)
	return res, nil, err
}

type pebbleKV struct {
	db *pebble.DB
}

var syncOff = pebble.NoSync

func openPebbleKV(dir string, inMemory bool, merge MergeFunc) (*pebbleKV, error) {
	opts := pebble.Options{
		ErrorIfExists: true,
		Merger: &pebble.Merger{
			Name: "tally.items",
			Merge: func(key, value []byte) (pebble.ValueMerger, error) {
				return &pebbleMergeAdaptor{
					key:   slices.Clone(key),
					merge: merge,
					vals:  [][]byte{slices.Clone(value)},
				}, nil
			},
		},
	}
	if inMemory {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, &opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can not open store at %s", dir)
	}
	return &pebbleKV{db: db}, nil
}

func (kv *pebbleKV) Get(key []byte) ([]byte, error) {
	value, closer, err := kv.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ret := slices.Clone(value)
	if ret == nil {
		ret = []byte{}
	}
	_ = closer.Close()
	return ret, nil
}

func (kv *pebbleKV) Scan(lower, upper []byte, fn func(key, value []byte) bool) error {
	iter, err := kv.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return err
	}
	for valid := iter.First(); valid; valid = iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Close()
}

type pebbleWriter struct {
	batch *pebble.Batch
}

func (w pebbleWriter) Set(key, value []byte) error   { return w.batch.Set(key, value, nil) }
func (w pebbleWriter) Merge(key, value []byte) error { return w.batch.Merge(key, value, nil) }

func (w pebbleWriter) DeleteRange(lower, upper []byte) error {
	return w.batch.DeleteRange(lower, upper, nil)
}

func (kv *pebbleKV) Write(fn func(w KVWriter) error) error {
	batch := kv.db.NewBatch()
	defer batch.Close()
	if err := fn(pebbleWriter{batch: batch}); err != nil {
		return err
	}
	return batch.Commit(syncOff)
}

func (kv *pebbleKV) Metrics() *pebble.Metrics {
	return kv.db.Metrics()
}

func (kv *pebbleKV) Close() error {
	return kv.db.Close()
}
