package tally

import (
	"sync"

	"github.com/drpcorg/tally/expr"
	"github.com/drpcorg/tally/utils"
	"github.com/puzpuzpuz/xsync/v3"
)

type mapItem struct {
	lock sync.Mutex
	key  Key
	gens []expr.Generator
	ref  EventRef
}

type childList struct {
	lock sync.Mutex
	keys []Key
}

// MapDataStore keeps items on the heap. It can apply payloads but has no
// way to cut a consistent delta, so it never produces them.
type MapDataStore struct {
	storeBase
	items    *xsync.MapOf[string, *mapItem]
	children *xsync.MapOf[string, *childList]

	lifecycle sync.RWMutex
	destroyed bool
}

func NewMapDataStore(name string, ser *ItemSerialiser, settings DataStoreSettings, errs *ErrorConsumer, log utils.Logger) (*MapDataStore, error) {
	if settings.ProducePayloads {
		return nil, ErrPayloadsUnsupported
	}
	s := &MapDataStore{
		items:    xsync.NewMapOf[string, *mapItem](),
		children: xsync.NewMapOf[string, *childList](),
	}
	s.storeBase = storeBase{
		name:     name,
		backend:  "map",
		ser:      ser,
		settings: settings,
		errs:     errs,
		log:      log,

		storedTotal:   ItemsStored.WithLabelValues("map"),
		rejectedTotal: ItemsRejected.WithLabelValues("map"),
	}
	return s, nil
}

func (s *MapDataStore) Receive(key Key, gens []expr.Generator) bool {
	return s.receive(key, gens, EventRef{}, false)
}

func (s *MapDataStore) ReceiveWithRef(key Key, gens []expr.Generator, ref EventRef) bool {
	return s.receive(key, gens, ref, false)
}

func (s *MapDataStore) merge(item *mapItem, gens []expr.Generator, ref EventRef) {
	item.lock.Lock()
	item.gens = s.ser.MergeGenerators(item.gens, gens)
	if s.settings.StoreLatestEventReference {
		item.ref = LaterRef(item.ref, ref)
	}
	item.lock.Unlock()
}

func (s *MapDataStore) receive(key Key, gens []expr.Generator, ref EventRef, requireParent bool) bool {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.destroyed {
		return false
	}
	if item, ok := s.items.Load(key.raw); ok {
		s.merge(item, gens, ref)
		return true
	}
	parent := key.Parent()
	if requireParent && !parent.IsRoot() {
		if _, ok := s.items.Load(parent.raw); !ok {
			return false
		}
	}
	list, _ := s.children.LoadOrCompute(parent.raw, func() *childList {
		return &childList{}
	})
	// siblings are inserted under the parent's list lock
	list.lock.Lock()
	if item, ok := s.items.Load(key.raw); ok {
		list.lock.Unlock()
		s.merge(item, gens, ref)
		return true
	}
	if len(list.keys) >= s.settings.MaxResults.Size(key.Depth()) {
		list.lock.Unlock()
		s.rejected()
		return false
	}
	item := &mapItem{key: key, gens: s.ser.MergeGenerators(nil, gens)}
	if s.settings.StoreLatestEventReference {
		item.ref = ref
	}
	s.items.Store(key.raw, item)
	list.keys = append(list.keys, key)
	list.lock.Unlock()
	s.stored()
	return true
}

func (s *MapDataStore) Children(parent Key, offset, length int) []Item {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.destroyed || offset < 0 || length <= 0 {
		return nil
	}
	list, ok := s.children.Load(parent.raw)
	if !ok {
		return nil
	}
	list.lock.Lock()
	if offset >= len(list.keys) {
		list.lock.Unlock()
		return nil
	}
	end := min(len(list.keys), offset+length)
	keys := make([]Key, end-offset)
	copy(keys, list.keys[offset:end])
	list.lock.Unlock()

	items := make([]Item, 0, len(keys))
	for _, key := range keys {
		item, ok := s.items.Load(key.raw)
		if !ok {
			continue
		}
		item.lock.Lock()
		items = append(items, Item{
			Key:        key,
			Generators: s.ser.CloneGenerators(item.gens),
			LatestRef:  item.ref,
		})
		item.lock.Unlock()
	}
	return items
}

func (s *MapDataStore) ChildCount(parent Key) int {
	list, ok := s.children.Load(parent.raw)
	if !ok {
		return 0
	}
	list.lock.Lock()
	defer list.lock.Unlock()
	return len(list.keys)
}

func (s *MapDataStore) CreatePayload() (*Payload, error) {
	return nil, ErrPayloadsUnsupported
}

func (s *MapDataStore) ApplyPayload(payload *Payload) error {
	return applyPayload(s, payload)
}

func (s *MapDataStore) Err() error {
	return nil
}

func (s *MapDataStore) Destroy() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.destroyed {
		return nil
	}
	s.destroyed = true
	s.items.Clear()
	s.children.Clear()
	s.size.Store(0)
	return nil
}
