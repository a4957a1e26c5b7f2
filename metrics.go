package tally

import "github.com/prometheus/client_golang/prometheus"

var RowsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tally",
	Subsystem: "coprocessor",
	Name:      "rows_received",
}, []string{"kind"})

var ItemsStored = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tally",
	Subsystem: "datastore",
	Name:      "items_stored",
}, []string{"backend"})

var ItemsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tally",
	Subsystem: "datastore",
	Name:      "items_rejected",
}, []string{"backend"})

var ErrorsReported = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "tally",
	Subsystem: "query",
	Name:      "errors",
})

var QueryStates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tally",
	Subsystem: "query",
	Name:      "states",
}, []string{"state"})

var PayloadBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "tally",
	Subsystem: "payload",
	Name:      "bytes",
	Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
}, []string{"direction"})

// Metrics lists the package collectors for registration.
func Metrics() []prometheus.Collector {
	return []prometheus.Collector{
		RowsReceived,
		ItemsStored,
		ItemsRejected,
		ErrorsReported,
		QueryStates,
		PayloadBytes,
	}
}
