package tally

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"github.com/drpcorg/tally/expr"
	"github.com/drpcorg/tally/utils"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Key layout of the off-heap store:
//
//	I <raw key>                       -> ref(16) generators
//	C <len(parent)> <parent> <seq>    -> raw child key, in insertion order
//	D <epoch> <raw key>               -> ref(16) generators, changes since the last payload
//	N <parent>                        -> uint64 child count
//
// I and D values are combined by the merge operator.
const (
	itemPrefix  = 'I'
	childPrefix = 'C'
	deltaPrefix = 'D'
	countPrefix = 'N'
)

func itemKey(raw RawKey) []byte {
	key := make([]byte, 0, len(raw)+1)
	key = append(key, itemPrefix)
	return append(key, raw...)
}

func childKey(parent RawKey, seq uint64) []byte {
	key := make([]byte, 0, len(parent)+13)
	key = append(key, childPrefix)
	key = binary.BigEndian.AppendUint32(key, uint32(len(parent)))
	key = append(key, parent...)
	return binary.BigEndian.AppendUint64(key, seq)
}

func countKey(parent RawKey) []byte {
	key := make([]byte, 0, len(parent)+1)
	key = append(key, countPrefix)
	return append(key, parent...)
}

func deltaKey(epoch uint64, raw RawKey) []byte {
	key := make([]byte, 0, len(raw)+9)
	key = append(key, deltaPrefix)
	key = binary.BigEndian.AppendUint64(key, epoch)
	return append(key, raw...)
}

func epochBounds(epoch uint64) (lower, upper []byte) {
	lower = binary.BigEndian.AppendUint64([]byte{deltaPrefix}, epoch)
	upper = binary.BigEndian.AppendUint64([]byte{deltaPrefix}, epoch+1)
	return
}

func encodeValue(ser *ItemSerialiser, ref EventRef, gens []expr.Generator) []byte {
	buf := make([]byte, 0, 64)
	buf = ref.AppendTo(buf)
	return ser.AppendGenerators(buf, gens)
}

func decodeValue(ser *ItemSerialiser, value []byte) (EventRef, []expr.Generator, error) {
	ref, err := ReadEventRef(value)
	if err != nil {
		return ref, nil, ErrBadItem
	}
	gens, _, err := ser.ReadGenerators(value[EventRefLen:])
	return ref, gens, err
}

// mergeValues takes the latest ref and merges the generators, old to new.
func mergeValues(ser *ItemSerialiser, inputs [][]byte) ([]byte, error) {
	var ref EventRef
	genBytes := make([][]byte, 0, len(inputs))
	for _, in := range inputs {
		r, err := ReadEventRef(in)
		if err != nil {
			return nil, ErrBadItem
		}
		ref = LaterRef(ref, r)
		genBytes = append(genBytes, in[EventRefLen:])
	}
	merged, err := ser.MergeGeneratorBytes(genBytes...)
	if err != nil {
		return nil, err
	}
	return append(ref.AppendTo(nil), merged...), nil
}

type PebbleStoreOptions struct {
	Dir          string
	InMemory     bool
	KeyCacheSize int
}

// PebbleDataStore keeps items in a private pebble instance. Writes go
// through one mutex, reads do not take it.
type PebbleDataStore struct {
	storeBase
	opts PebbleStoreOptions
	kv   *pebbleKV

	// writer state
	lock   sync.Mutex
	epoch  uint64
	counts *lru.Cache[string, uint64]
	known  *lru.Cache[string, struct{}]

	lifecycle sync.RWMutex
	destroyed bool
	failure   atomic.Pointer[error]
	failOnce  sync.Once
	onDestroy func()
}

func NewPebbleDataStore(name string, opts PebbleStoreOptions, ser *ItemSerialiser, settings DataStoreSettings, errs *ErrorConsumer, log utils.Logger) (*PebbleDataStore, error) {
	if opts.KeyCacheSize <= 0 {
		opts.KeyCacheSize = 1 << 16
	}
	known, err := lru.New[string, struct{}](opts.KeyCacheSize)
	if err != nil {
		return nil, err
	}
	counts, err := lru.New[string, uint64](opts.KeyCacheSize)
	if err != nil {
		return nil, err
	}
	if !opts.InMemory {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "can not create store dir %s", opts.Dir)
		}
	}
	kv, err := openPebbleKV(opts.Dir, opts.InMemory, func(key []byte, inputs [][]byte) ([]byte, error) {
		return mergeValues(ser, inputs)
	})
	if err != nil {
		return nil, err
	}
	s := &PebbleDataStore{
		opts:   opts,
		kv:     kv,
		counts: counts,
		known:  known,
	}
	s.storeBase = storeBase{
		name:     name,
		backend:  "pebble",
		ser:      ser,
		settings: settings,
		errs:     errs,
		log:      log,

		storedTotal:   ItemsStored.WithLabelValues("pebble"),
		rejectedTotal: ItemsRejected.WithLabelValues("pebble"),
	}
	return s, nil
}

func (s *PebbleDataStore) Receive(key Key, gens []expr.Generator) bool {
	return s.receive(key, gens, EventRef{}, false)
}

func (s *PebbleDataStore) ReceiveWithRef(key Key, gens []expr.Generator, ref EventRef) bool {
	return s.receive(key, gens, ref, false)
}

// under the writer lock
func (s *PebbleDataStore) exists(raw RawKey) (bool, error) {
	if s.known.Contains(string(raw)) {
		return true, nil
	}
	value, err := s.kv.Get(itemKey(raw))
	if err != nil || value == nil {
		return false, err
	}
	s.known.Add(string(raw), struct{}{})
	return true, nil
}

func (s *PebbleDataStore) receive(key Key, gens []expr.Generator, ref EventRef, requireParent bool) bool {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.destroyed || s.failure.Load() != nil {
		return false
	}
	if !s.settings.StoreLatestEventReference {
		ref = EventRef{}
	}
	raw := key.Bytes()
	value := encodeValue(s.ser, ref, gens)

	s.lock.Lock()
	defer s.lock.Unlock()
	found, err := s.exists(raw)
	if err != nil {
		s.fail(err)
		return false
	}
	parent := key.Parent()
	parentRaw := parent.Bytes()
	var seq uint64
	if !found {
		if requireParent && !parent.IsRoot() {
			ok, err := s.exists(parentRaw)
			if err != nil {
				s.fail(err)
			}
			if !ok {
				return false
			}
		}
		if seq, err = s.childCount(parentRaw); err != nil {
			s.fail(err)
			return false
		}
		if seq >= uint64(s.settings.MaxResults.Size(key.Depth())) {
			s.rejected()
			return false
		}
	}
	err = s.kv.Write(func(w KVWriter) error {
		var err error
		if found {
			err = w.Merge(itemKey(raw), value)
		} else {
			err = w.Set(itemKey(raw), value)
			if err == nil {
				err = w.Set(childKey(parentRaw, seq), raw)
			}
			if err == nil {
				err = w.Set(countKey(parentRaw), binary.BigEndian.AppendUint64(nil, seq+1))
			}
		}
		if err == nil && s.settings.ProducePayloads {
			err = w.Merge(deltaKey(s.epoch, raw), value)
		}
		return err
	})
	if err != nil {
		s.fail(err)
		return false
	}
	if !found {
		s.counts.Add(string(parentRaw), seq+1)
		s.known.Add(string(raw), struct{}{})
		s.stored()
	}
	return true
}

// fail records a resource failure once; the store stops taking rows.
func (s *PebbleDataStore) fail(err error) {
	s.failOnce.Do(func() {
		err = errors.Wrapf(err, "store %s failed", s.name)
		s.failure.Store(&err)
		s.errs.Add(err)
		s.log.Error("store failed", "store", s.name, "err", err)
	})
}

func (s *PebbleDataStore) Err() error {
	if err := s.failure.Load(); err != nil {
		return *err
	}
	return nil
}

func (s *PebbleDataStore) Children(parent Key, offset, length int) []Item {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.destroyed || offset < 0 || length <= 0 {
		return nil
	}
	parentRaw := parent.Bytes()
	lower := childKey(parentRaw, uint64(offset))
	upper := childKey(parentRaw, uint64(offset)+uint64(length))
	var raws []RawKey
	err := s.kv.Scan(lower, upper, func(_, value []byte) bool {
		raws = append(raws, RawKey(append([]byte(nil), value...)))
		return true
	})
	if err != nil {
		s.errs.Add(err)
		return nil
	}
	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		item, err := s.item(raw)
		if err != nil {
			s.errs.Add(err)
			continue
		}
		items = append(items, item)
	}
	return items
}

func (s *PebbleDataStore) item(raw RawKey) (Item, error) {
	key, err := DecodeKey(raw)
	if err != nil {
		return Item{}, err
	}
	value, err := s.kv.Get(itemKey(raw))
	if err != nil {
		return Item{}, err
	}
	if value == nil {
		return Item{}, ErrBadItem
	}
	ref, gens, err := decodeValue(s.ser, value)
	return Item{Key: key, Generators: gens, LatestRef: ref}, err
}

// ChildCount reads the committed count and does not wait for writers.
func (s *PebbleDataStore) ChildCount(parent Key) int {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.destroyed {
		return 0
	}
	n, err := s.readCount(parent.Bytes())
	if err != nil {
		s.errs.Add(err)
	}
	return int(n)
}

// under the writer lock
func (s *PebbleDataStore) childCount(parent RawKey) (uint64, error) {
	if n, ok := s.counts.Get(string(parent)); ok {
		return n, nil
	}
	return s.readCount(parent)
}

func (s *PebbleDataStore) readCount(parent RawKey) (uint64, error) {
	value, err := s.kv.Get(countKey(parent))
	if err != nil || value == nil {
		return 0, err
	}
	if len(value) != 8 {
		return 0, ErrBadItem
	}
	return binary.BigEndian.Uint64(value), nil
}

// CreatePayload cuts the changes made since the previous call. The epoch
// is switched under the writer lock, so every write lands in exactly one
// payload.
func (s *PebbleDataStore) CreatePayload() (*Payload, error) {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.destroyed {
		return nil, ErrDestroyed
	}
	if !s.settings.ProducePayloads {
		return nil, ErrPayloadsDisabled
	}
	s.lock.Lock()
	epoch := s.epoch
	s.epoch++
	s.lock.Unlock()

	lower, upper := epochBounds(epoch)
	payload := &Payload{}
	var bad error
	err := s.kv.Scan(lower, upper, func(key, value []byte) bool {
		if len(value) < EventRefLen {
			bad = ErrBadItem
			return false
		}
		ref, _ := ReadEventRef(value)
		payload.appendItem(RawKey(key[9:]), value[EventRefLen:], ref, s.settings.StoreLatestEventReference)
		return true
	})
	if err == nil {
		err = bad
	}
	if err == nil {
		err = s.kv.Write(func(w KVWriter) error {
			return w.DeleteRange(lower, upper)
		})
	}
	if err != nil {
		s.fail(err)
		return nil, s.Err()
	}
	PayloadBytes.WithLabelValues("created").Observe(float64(len(payload.Data)))
	return payload, nil
}

func (s *PebbleDataStore) ApplyPayload(payload *Payload) error {
	PayloadBytes.WithLabelValues("applied").Observe(float64(len(payload.Data)))
	return applyPayload(s, payload)
}

// Destroy waits for in-flight calls, closes the engine and removes the
// store directory.
func (s *PebbleDataStore) Destroy() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.destroyed {
		return nil
	}
	s.destroyed = true
	err := s.kv.Close()
	if !s.opts.InMemory {
		if rerr := os.RemoveAll(s.opts.Dir); rerr != nil && err == nil {
			err = errors.Wrapf(rerr, "can not remove store dir %s", s.opts.Dir)
		}
	}
	if s.onDestroy != nil {
		s.onDestroy()
	}
	s.size.Store(0)
	return err
}
