package tally

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/drpcorg/tally/expr"
	"github.com/drpcorg/tally/utils"
	"github.com/drpcorg/tally/val"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = utils.NewDefaultLogger(slog.LevelWarn)

// host, count, sum of bytes
func hostFields(t *testing.T, fi *expr.FieldIndex) []CompiledField {
	fields, err := CompileFields([]Field{
		GroupField("host", "${Host}", 0),
		ValueField("count", "count()"),
		ValueField("bytes", "sum(${Bytes})"),
	}, fi)
	require.NoError(t, err)
	return fields
}

type storeMaker func(t *testing.T, settings DataStoreSettings, fields []CompiledField) DataStore

func makeMapStore(t *testing.T, settings DataStoreSettings, fields []CompiledField) DataStore {
	ser, err := NewItemSerialiser(Expressions(fields))
	require.NoError(t, err)
	store, err := NewMapDataStore("map", ser, settings, NewErrorConsumer(), testLog)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Destroy() })
	return store
}

func makePebbleStore(t *testing.T, settings DataStoreSettings, fields []CompiledField) DataStore {
	ser, err := NewItemSerialiser(Expressions(fields))
	require.NoError(t, err)
	store, err := NewPebbleDataStore("pebble", PebbleStoreOptions{Dir: t.TempDir()},
		ser, settings, NewErrorConsumer(), testLog)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Destroy() })
	return store
}

var backends = map[string]storeMaker{
	"map":    makeMapStore,
	"pebble": makePebbleStore,
}

func hostKey(host string) Key {
	return RootKey().Resolve(NewGroupKeyPart(val.String(host)))
}

func hostRow(host string, bytes int64) []val.Val {
	return []val.Val{val.String(host), val.Long(bytes)}
}

func TestDataStore_Merge(t *testing.T) {
	for name, maker := range backends {
		t.Run(name, func(t *testing.T) {
			fi := expr.NewFieldIndex("Host", "Bytes")
			store := maker(t, BasicSearchSettings(), hostFields(t, fi))
			ser := store.Serialiser()
			assert.True(t, store.Receive(hostKey("alpha"), ser.NewGenerators(hostRow("alpha", 10))))
			assert.True(t, store.Receive(hostKey("beta"), ser.NewGenerators(hostRow("beta", 1))))
			assert.True(t, store.Receive(hostKey("alpha"), ser.NewGenerators(hostRow("alpha", 5))))
			assert.Equal(t, 2, store.Size())
			assert.Equal(t, 2, store.ChildCount(RootKey()))

			items := store.Children(RootKey(), 0, 10)
			require.Len(t, items, 2)
			assert.True(t, items[0].Key.Equal(hostKey("alpha")))
			assert.Equal(t, []val.Val{val.String("alpha"), val.Long(2), val.Long(15)}, items[0].Values())
			assert.Equal(t, []val.Val{val.String("beta"), val.Long(1), val.Long(1)}, items[1].Values())
			assert.NoError(t, store.Err())
		})
	}
}

func TestDataStore_SizeBound(t *testing.T) {
	for name, maker := range backends {
		t.Run(name, func(t *testing.T) {
			fi := expr.NewFieldIndex("Host", "Bytes")
			settings := DataStoreSettings{MaxResults: MustSizes(2, 1)}
			store := maker(t, settings, hostFields(t, fi))
			ser := store.Serialiser()
			gens := func() []expr.Generator { return ser.NewGenerators(hostRow("x", 1)) }

			assert.True(t, store.Receive(hostKey("a"), gens()))
			assert.True(t, store.Receive(hostKey("b"), gens()))
			assert.False(t, store.Receive(hostKey("c"), gens()))
			// existing items keep merging
			assert.True(t, store.Receive(hostKey("a"), gens()))

			a := hostKey("a")
			assert.True(t, store.Receive(a.Resolve(UngroupedKeyPart(1)), gens()))
			assert.False(t, store.Receive(a.Resolve(UngroupedKeyPart(2)), gens()))
			assert.True(t, store.Receive(hostKey("b").Resolve(UngroupedKeyPart(3)), gens()))

			assert.Equal(t, 2, store.ChildCount(RootKey()))
			assert.Equal(t, 1, store.ChildCount(a))
			assert.Equal(t, 4, store.Size())
			items := store.Children(RootKey(), 0, 10)
			require.Len(t, items, 2)
			assert.Equal(t, val.Val(val.Long(2)), items[0].Value(1))
		})
	}
}

func TestDataStore_CountsOutcomes(t *testing.T) {
	for name, maker := range backends {
		t.Run(name, func(t *testing.T) {
			fi := expr.NewFieldIndex("Host", "Bytes")
			store := maker(t, DataStoreSettings{MaxResults: MustSizes(1)}, hostFields(t, fi))
			ser := store.Serialiser()
			stored := testutil.ToFloat64(ItemsStored.WithLabelValues(name))
			rejected := testutil.ToFloat64(ItemsRejected.WithLabelValues(name))

			assert.True(t, store.Receive(hostKey("a"), ser.NewGenerators(hostRow("a", 1))))
			assert.True(t, store.Receive(hostKey("a"), ser.NewGenerators(hostRow("a", 1))))
			assert.False(t, store.Receive(hostKey("b"), ser.NewGenerators(hostRow("b", 1))))

			assert.Equal(t, stored+1, testutil.ToFloat64(ItemsStored.WithLabelValues(name)))
			assert.Equal(t, rejected+1, testutil.ToFloat64(ItemsRejected.WithLabelValues(name)))
		})
	}
}

func TestDataStore_Pagination(t *testing.T) {
	for name, maker := range backends {
		t.Run(name, func(t *testing.T) {
			fi := expr.NewFieldIndex("Host", "Bytes")
			store := maker(t, BasicSearchSettings(), hostFields(t, fi))
			ser := store.Serialiser()
			for i := 0; i < 10; i++ {
				host := fmt.Sprintf("h%02d", 9-i)
				require.True(t, store.Receive(hostKey(host), ser.NewGenerators(hostRow(host, int64(i)))))
			}
			page := store.Children(RootKey(), 3, 4)
			require.Len(t, page, 4)
			for i, item := range page {
				assert.Equal(t, val.Val(val.String(fmt.Sprintf("h%02d", 6-i))), item.Value(0))
			}
			assert.Len(t, store.Children(RootKey(), 8, 5), 2)
			assert.Empty(t, store.Children(RootKey(), 10, 5))
			assert.Empty(t, store.Children(RootKey(), 0, 0))
			assert.Empty(t, store.Children(hostKey("nope"), 0, 5))
		})
	}
}

func TestDataStore_Concurrent(t *testing.T) {
	for name, maker := range backends {
		t.Run(name, func(t *testing.T) {
			fi := expr.NewFieldIndex("Host", "Bytes")
			store := maker(t, BasicSearchSettings(), hostFields(t, fi))
			ser := store.Serialiser()
			wg := sync.WaitGroup{}
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						host := fmt.Sprintf("h%d", i%10)
						store.Receive(hostKey(host), ser.NewGenerators(hostRow(host, 1)))
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 10, store.Size())
			total := int64(0)
			for _, item := range store.Children(RootKey(), 0, 100) {
				n, _ := val.ToLong(item.Value(1))
				total += n
			}
			assert.Equal(t, int64(800), total)
		})
	}
}

func TestDataStore_Destroy(t *testing.T) {
	for name, maker := range backends {
		t.Run(name, func(t *testing.T) {
			fi := expr.NewFieldIndex("Host", "Bytes")
			store := maker(t, BasicSearchSettings(), hostFields(t, fi))
			ser := store.Serialiser()
			assert.True(t, store.Receive(hostKey("a"), ser.NewGenerators(hostRow("a", 1))))
			assert.NoError(t, store.Destroy())
			assert.NoError(t, store.Destroy())
			assert.False(t, store.Receive(hostKey("a"), ser.NewGenerators(hostRow("a", 1))))
			assert.Empty(t, store.Children(RootKey(), 0, 10))
			assert.Equal(t, 0, store.Size())
		})
	}
}

func TestDataStore_DestroyWhileReceiving(t *testing.T) {
	for name, maker := range backends {
		t.Run(name, func(t *testing.T) {
			fi := expr.NewFieldIndex("Host", "Bytes")
			store := maker(t, BasicSearchSettings(), hostFields(t, fi))
			ser := store.Serialiser()
			wg := sync.WaitGroup{}
			for g := 0; g < 4; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 200; i++ {
						store.Receive(hostKey("a"), ser.NewGenerators(hostRow("a", 1)))
					}
				}()
			}
			assert.NoError(t, store.Destroy())
			wg.Wait()
			assert.False(t, store.Receive(hostKey("a"), ser.NewGenerators(hostRow("a", 1))))
		})
	}
}

func TestDataStore_LatestRef(t *testing.T) {
	for name, maker := range backends {
		t.Run(name, func(t *testing.T) {
			fi := expr.NewFieldIndex("Host", "Bytes")
			store := maker(t, AnalyticSettings(), hostFields(t, fi))
			ser := store.Serialiser()
			key := hostKey("a")
			store.ReceiveWithRef(key, ser.NewGenerators(hostRow("a", 1)), EventRef{StreamID: 2, EventID: 5})
			store.ReceiveWithRef(key, ser.NewGenerators(hostRow("a", 1)), EventRef{StreamID: 3, EventID: 1})
			store.ReceiveWithRef(key, ser.NewGenerators(hostRow("a", 1)), EventRef{StreamID: 2, EventID: 9})
			items := store.Children(RootKey(), 0, 1)
			require.Len(t, items, 1)
			assert.Equal(t, EventRef{StreamID: 3, EventID: 1}, items[0].LatestRef)
		})
	}
}

func TestMapDataStore_NoPayloads(t *testing.T) {
	fi := expr.NewFieldIndex("Host", "Bytes")
	ser, err := NewItemSerialiser(Expressions(hostFields(t, fi)))
	require.NoError(t, err)
	_, err = NewMapDataStore("map", ser, PayloadProducerSettings(), NewErrorConsumer(), testLog)
	assert.ErrorIs(t, err, ErrPayloadsUnsupported)

	store := makeMapStore(t, BasicSearchSettings(), hostFields(t, fi))
	_, err = store.CreatePayload()
	assert.ErrorIs(t, err, ErrPayloadsUnsupported)
}

func TestPebbleDataStore_PayloadsDisabled(t *testing.T) {
	fi := expr.NewFieldIndex("Host", "Bytes")
	store := makePebbleStore(t, BasicSearchSettings(), hostFields(t, fi))
	_, err := store.CreatePayload()
	assert.ErrorIs(t, err, ErrPayloadsDisabled)
}

func TestPebbleDataStore_Payloads(t *testing.T) {
	fi := expr.NewFieldIndex("Host", "Bytes")
	fields := hostFields(t, fi)
	source := makePebbleStore(t, PayloadProducerSettings(), fields)
	target := makeMapStore(t, BasicSearchSettings(), fields)
	ser := source.Serialiser()

	source.Receive(hostKey("alpha"), ser.NewGenerators(hostRow("alpha", 10)))
	source.Receive(hostKey("alpha"), ser.NewGenerators(hostRow("alpha", 20)))
	first, err := source.CreatePayload()
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count)
	require.NoError(t, target.ApplyPayload(first))

	source.Receive(hostKey("alpha"), ser.NewGenerators(hostRow("alpha", 5)))
	source.Receive(hostKey("beta"), ser.NewGenerators(hostRow("beta", 7)))
	second, err := source.CreatePayload()
	require.NoError(t, err)
	assert.Equal(t, 2, second.Count)
	require.NoError(t, target.ApplyPayload(second))

	empty, err := source.CreatePayload()
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Count)
	require.NoError(t, target.ApplyPayload(empty))

	items := target.Children(RootKey(), 0, 10)
	require.Len(t, items, 2)
	assert.Equal(t, []val.Val{val.String("alpha"), val.Long(3), val.Long(35)}, items[0].Values())
	assert.Equal(t, []val.Val{val.String("beta"), val.Long(1), val.Long(7)}, items[1].Values())
}

func TestPebbleDataStore_PayloadRekeysDetail(t *testing.T) {
	fi := expr.NewFieldIndex("Host", "Bytes")
	fields := hostFields(t, fi)
	settings := PayloadProducerSettings()
	a := makePebbleStore(t, settings, fields)
	b := makePebbleStore(t, settings, fields)
	target := makeMapStore(t, BasicSearchSettings(), fields)

	for _, store := range []DataStore{a, b} {
		ser := store.Serialiser()
		key := hostKey("alpha")
		store.Receive(key, ser.NewGenerators(hostRow("alpha", 1)))
		// both workers number their detail rows from 1
		store.Receive(key.Resolve(UngroupedKeyPart(store.NextUniqueID())), ser.NewGenerators(hostRow("alpha", 1)))
		payload, err := store.CreatePayload()
		require.NoError(t, err)
		require.NoError(t, target.ApplyPayload(payload))
	}
	assert.Equal(t, 2, target.ChildCount(hostKey("alpha")))
	assert.Equal(t, 3, target.Size())
}

func TestDataStore_ApplyDropsOrphans(t *testing.T) {
	fi := expr.NewFieldIndex("Host", "Bytes")
	fields := hostFields(t, fi)
	target := makeMapStore(t, BasicSearchSettings(), fields)
	ser := target.Serialiser()

	payload := &Payload{}
	orphan := hostKey("ghost").Resolve(NewGroupKeyPart(val.Long(1)))
	payload.appendItem(orphan.Bytes(), ser.GeneratorBytes(ser.NewGenerators(hostRow("ghost", 1))), EventRef{}, false)
	require.NoError(t, target.ApplyPayload(payload))
	assert.Equal(t, 0, target.Size())

	_ = target.ApplyPayload(&Payload{Data: []byte("garbage")})
	err := target.ApplyPayload(&Payload{Data: []byte{'I', 200}})
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestPebbleDataStore_InMemory(t *testing.T) {
	fi := expr.NewFieldIndex("Host", "Bytes")
	fields := hostFields(t, fi)
	ser, err := NewItemSerialiser(Expressions(fields))
	require.NoError(t, err)
	store, err := NewPebbleDataStore("mem", PebbleStoreOptions{Dir: "mem", InMemory: true},
		ser, BasicSearchSettings(), NewErrorConsumer(), testLog)
	require.NoError(t, err)
	assert.True(t, store.Receive(hostKey("a"), ser.NewGenerators(hostRow("a", 1))))
	assert.Equal(t, 1, store.ChildCount(RootKey()))
	assert.NoError(t, store.Destroy())
}

func TestPebbleDataStore_ChildCountsOffHeap(t *testing.T) {
	fi := expr.NewFieldIndex("Host", "Bytes")
	fields := hostFields(t, fi)
	ser, err := NewItemSerialiser(Expressions(fields))
	require.NoError(t, err)
	settings := BasicSearchSettings()
	settings.MaxResults = MustSizes(100, 2)
	store, err := NewPebbleDataStore("counts", PebbleStoreOptions{Dir: t.TempDir(), KeyCacheSize: 1},
		ser, settings, NewErrorConsumer(), testLog)
	require.NoError(t, err)
	defer store.Destroy()

	hosts := []string{"a", "b", "c"}
	for _, host := range hosts {
		require.True(t, store.Receive(hostKey(host), ser.NewGenerators(hostRow(host, 1))))
	}
	for i := int64(0); i < 3; i++ {
		for _, host := range hosts {
			key := hostKey(host).Resolve(UngroupedKeyPart(i))
			store.Receive(key, ser.NewGenerators(hostRow(host, i)))
		}
	}
	assert.LessOrEqual(t, store.counts.Len(), 1)
	for _, host := range hosts {
		assert.Equal(t, 2, store.ChildCount(hostKey(host)), host)
	}
	assert.Equal(t, 3, store.ChildCount(RootKey()))
	assert.Equal(t, 9, store.Size())

	// readers do not wait for the writer
	store.lock.Lock()
	counted := make(chan int, 1)
	go func() { counted <- store.ChildCount(hostKey("a")) }()
	select {
	case n := <-counted:
		assert.Equal(t, 2, n)
	case <-time.After(5 * time.Second):
		t.Error("ChildCount blocked on the writer lock")
	}
	store.lock.Unlock()
}
