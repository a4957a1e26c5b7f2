package tally

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Duration reads "1s"-style strings from TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type ResultStoreConfig struct {
	// OffHeapEnabled selects the pebble store over the heap map store.
	OffHeapEnabled bool `toml:"off_heap_enabled"`
	// InMemory keeps pebble stores on an in-memory filesystem.
	InMemory  bool   `toml:"in_memory"`
	StoreRoot string `toml:"store_root"`

	MaxResultsPerDepth        []int `toml:"max_results_per_depth"`
	ProducePayloads           bool  `toml:"produce_payloads"`
	StoreLatestEventReference bool  `toml:"store_latest_event_reference"`

	PayloadInterval   Duration `toml:"payload_interval"`
	PayloadQueueLimit int      `toml:"payload_queue_limit"`
	KeyCacheSize      int      `toml:"key_cache_size"`
}

func (c *ResultStoreConfig) SetDefaults() {
	if c.MaxResultsPerDepth == nil {
		c.MaxResultsPerDepth = DefaultMaxResults.Limits()
	}
	if c.StoreRoot == "" {
		c.StoreRoot = filepath.Join(os.TempDir(), "tally-stores")
	}
	if c.PayloadInterval == 0 {
		c.PayloadInterval = Duration(time.Second)
	}
	if c.PayloadQueueLimit == 0 {
		c.PayloadQueueLimit = 1 << 24
	}
	if c.KeyCacheSize == 0 {
		c.KeyCacheSize = 1 << 16
	}
}

func (c *ResultStoreConfig) MaxResults() (Sizes, error) {
	return NewSizes(c.MaxResultsPerDepth...)
}

// StoreSettings are the store options a query gets unless it asks otherwise.
func (c *ResultStoreConfig) StoreSettings() (DataStoreSettings, error) {
	sizes, err := c.MaxResults()
	return DataStoreSettings{
		ProducePayloads:           c.ProducePayloads,
		StoreLatestEventReference: c.StoreLatestEventReference,
		MaxResults:                sizes,
	}, err
}

func LoadConfig(path string) (cfg ResultStoreConfig, err error) {
	if _, err = toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "can not read config %s", path)
	}
	cfg.SetDefaults()
	_, err = cfg.MaxResults()
	return cfg, err
}
