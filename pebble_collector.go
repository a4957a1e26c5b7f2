package tally

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
)

// StoreCollector exports engine metrics of every live off-heap store,
// labelled by store name. Stores leave the collector when destroyed.
type StoreCollector struct {
	stores *xsync.MapOf[string, *PebbleDataStore]

	items *prometheus.Desc

	compactionCount         *prometheus.Desc
	compactionEstimatedDebt *prometheus.Desc
	compactionInProgress    *prometheus.Desc

	memtableSize  *prometheus.Desc
	memtableCount *prometheus.Desc

	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesIn      *prometheus.Desc
	walBytesWritten *prometheus.Desc

	diskUsage *prometheus.Desc
}

func storeDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc("tally_store_"+name, help, []string{"store"}, nil)
}

func NewStoreCollector() *StoreCollector {
	return &StoreCollector{
		stores: xsync.NewMapOf[string, *PebbleDataStore](),

		items: storeDesc("items", "Number of items held by the store"),

		compactionCount: storeDesc("pebble_compaction_count_total",
			"Total number of compactions performed"),
		compactionEstimatedDebt: storeDesc("pebble_compaction_estimated_debt_bytes",
			"Estimated number of bytes that need to be compacted to reach a stable state"),
		compactionInProgress: storeDesc("pebble_compaction_in_progress_bytes",
			"Number of bytes being compacted currently"),

		memtableSize: storeDesc("pebble_memtable_size_bytes",
			"Current size of the memtable in bytes"),
		memtableCount: storeDesc("pebble_memtable_count",
			"Current count of memtables"),

		walFiles: storeDesc("pebble_wal_files",
			"Number of live WAL files"),
		walSize: storeDesc("pebble_wal_size_bytes",
			"Size of live WAL data in bytes"),
		walBytesIn: storeDesc("pebble_wal_bytes_in_total",
			"Logical bytes written to the WAL"),
		walBytesWritten: storeDesc("pebble_wal_bytes_written_total",
			"Physical bytes written to the WAL"),

		diskUsage: storeDesc("pebble_disk_usage_bytes",
			"Total disk space used by the store"),
	}
}

func (sc *StoreCollector) Add(store *PebbleDataStore) {
	sc.stores.Store(store.name, store)
}

func (sc *StoreCollector) Remove(name string) {
	sc.stores.Delete(name)
}

func (sc *StoreCollector) Len() int {
	return sc.stores.Size()
}

func (sc *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sc.items
	ch <- sc.compactionCount
	ch <- sc.compactionEstimatedDebt
	ch <- sc.compactionInProgress
	ch <- sc.memtableSize
	ch <- sc.memtableCount
	ch <- sc.walFiles
	ch <- sc.walSize
	ch <- sc.walBytesIn
	ch <- sc.walBytesWritten
	ch <- sc.diskUsage
}

func (sc *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	sc.stores.Range(func(name string, store *PebbleDataStore) bool {
		store.lifecycle.RLock()
		defer store.lifecycle.RUnlock()
		if store.destroyed {
			return true
		}
		m := store.kv.Metrics()
		gauge := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, name)
		}
		counter := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, name)
		}
		gauge(sc.items, float64(store.Size()))
		counter(sc.compactionCount, float64(m.Compact.Count))
		gauge(sc.compactionEstimatedDebt, float64(m.Compact.EstimatedDebt))
		gauge(sc.compactionInProgress, float64(m.Compact.InProgressBytes))
		gauge(sc.memtableSize, float64(m.MemTable.Size))
		gauge(sc.memtableCount, float64(m.MemTable.Count))
		gauge(sc.walFiles, float64(m.WAL.Files))
		gauge(sc.walSize, float64(m.WAL.Size))
		counter(sc.walBytesIn, float64(m.WAL.BytesIn))
		counter(sc.walBytesWritten, float64(m.WAL.BytesWritten))
		gauge(sc.diskUsage, float64(m.DiskSpaceUsage()))
		return true
	})
}
