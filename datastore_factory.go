package tally

import (
	"os"
	"path/filepath"

	"github.com/drpcorg/tally/utils"
	"github.com/pkg/errors"
)

// DataStoreFactory picks the store backend from the configuration and
// owns the store root directory.
type DataStoreFactory struct {
	cfg       ResultStoreConfig
	log       utils.Logger
	collector *StoreCollector
}

// NewDataStoreFactory cleans the store root once; leftovers of a previous
// process are of no use.
func NewDataStoreFactory(cfg ResultStoreConfig, log utils.Logger) (*DataStoreFactory, error) {
	cfg.SetDefaults()
	if cfg.OffHeapEnabled && !cfg.InMemory {
		if cfg.StoreRoot == "" {
			return nil, ErrNoStoreRoot
		}
		if err := os.RemoveAll(cfg.StoreRoot); err != nil {
			return nil, errors.Wrapf(err, "can not clean store root %s", cfg.StoreRoot)
		}
		if err := os.MkdirAll(cfg.StoreRoot, 0o755); err != nil {
			return nil, errors.Wrapf(err, "can not create store root %s", cfg.StoreRoot)
		}
		log.Info("store root ready", "dir", cfg.StoreRoot)
	}
	return &DataStoreFactory{
		cfg:       cfg,
		log:       log,
		collector: NewStoreCollector(),
	}, nil
}

func (f *DataStoreFactory) Config() ResultStoreConfig {
	return f.cfg
}

func (f *DataStoreFactory) Collector() *StoreCollector {
	return f.collector
}

func (f *DataStoreFactory) Create(queryKey, name string, fields []CompiledField, settings DataStoreSettings, errs *ErrorConsumer) (DataStore, error) {
	ser, err := NewItemSerialiser(Expressions(fields))
	if err != nil {
		return nil, err
	}
	storeName := queryKey + "-" + name
	if !f.cfg.OffHeapEnabled {
		return NewMapDataStore(storeName, ser, settings, errs, f.log)
	}
	store, err := NewPebbleDataStore(storeName, PebbleStoreOptions{
		Dir:          filepath.Join(f.cfg.StoreRoot, storeName),
		InMemory:     f.cfg.InMemory,
		KeyCacheSize: f.cfg.KeyCacheSize,
	}, ser, settings, errs, f.log)
	if err != nil {
		return nil, err
	}
	f.collector.Add(store)
	store.onDestroy = func() { f.collector.Remove(storeName) }
	f.log.Debug("store created", "store", storeName, "fields", len(fields), "sizes", settings.MaxResults.String())
	return store, nil
}
