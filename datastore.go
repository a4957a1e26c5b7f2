package tally

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/drpcorg/tally/expr"
	"github.com/drpcorg/tally/utils"
	"github.com/prometheus/client_golang/prometheus"
)

// DataStore holds the aggregated items of one table. Receive and reads
// may be called concurrently; Destroy may race with both.
type DataStore interface {
	// Receive merges the generators into the item at key or inserts it.
	// False means the item was rejected and its children need not be sent.
	Receive(key Key, generators []expr.Generator) bool
	ReceiveWithRef(key Key, generators []expr.Generator, ref EventRef) bool
	// Children pages through the children of parent in insertion order.
	Children(parent Key, offset, length int) []Item
	ChildCount(parent Key) int
	Size() int
	NextUniqueID() int64
	CreatePayload() (*Payload, error)
	ApplyPayload(payload *Payload) error
	Settings() DataStoreSettings
	Serialiser() *ItemSerialiser
	// Err is the resource failure that stopped the store, if any.
	Err() error
	Destroy() error
}

var ErrPayloadsDisabled = errors.New("the store was created without payload production")

type storeBase struct {
	name     string
	backend  string
	ser      *ItemSerialiser
	settings DataStoreSettings
	errs     *ErrorConsumer
	log      utils.Logger
	ids      atomic.Int64
	size     atomic.Int64

	storedTotal   prometheus.Counter
	rejectedTotal prometheus.Counter
}

func (b *storeBase) NextUniqueID() int64 {
	return b.ids.Add(1)
}

func (b *storeBase) Size() int {
	return int(b.size.Load())
}

func (b *storeBase) Settings() DataStoreSettings {
	return b.settings
}

func (b *storeBase) Serialiser() *ItemSerialiser {
	return b.ser
}

func (b *storeBase) Name() string {
	return b.name
}

func (b *storeBase) stored() {
	b.size.Add(1)
	b.storedTotal.Inc()
}

func (b *storeBase) rejected() {
	b.rejectedTotal.Inc()
}

type receiver interface {
	receive(key Key, gens []expr.Generator, ref EventRef, requireParent bool) bool
	NextUniqueID() int64
	Serialiser() *ItemSerialiser
}

// applyPayload merges remote items. Payload items come parents first;
// an item whose parent was not kept here is dropped with its subtree.
// Detail rows get fresh local ids so rows from different workers never
// collide.
func applyPayload(r receiver, payload *Payload) error {
	ser := r.Serialiser()
	return payload.Items(func(raw RawItem, ref EventRef) error {
		key, gens, err := ser.ReadRawItem(raw)
		if err != nil {
			return err
		}
		if key.IsRoot() {
			return errors.Join(ErrBadPayload, fmt.Errorf("root item in payload"))
		}
		if !key.Grouped() {
			key = key.Parent().Resolve(UngroupedKeyPart(r.NextUniqueID()))
		}
		r.receive(key, gens, ref, true)
		return nil
	})
}
