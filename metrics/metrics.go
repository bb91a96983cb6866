// Package metrics holds the Prometheus counters of the store and the output
// writer. Counters are updated unconditionally; they are exposed only when a
// command calls Register.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "beamrec"

// Store metrics.
var (
	BasketsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_baskets_written_total",
			Help:      "Total number of baskets written",
		},
		[]string{"codec"},
	)

	BytesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_bytes_written_total",
			Help:      "Total basket bytes written, before and after compression",
		},
		[]string{"stage"}, // "raw" / "stored"
	)

	BytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_bytes_read_total",
			Help:      "Total basket bytes read from disk",
		},
	)
)

// Writer metrics.
var (
	FilesOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_files_opened_total",
			Help:      "Total number of output files opened",
		},
	)

	EventsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_events_written_total",
			Help:      "Total number of event rows written",
		},
		[]string{"status"}, // "ok" / "aborted"
	)

	RunRowsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_run_rows_written_total",
			Help:      "Total number of run summary rows written",
		},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default registerer. It is safe
// to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(BasketsWritten, BytesWritten, BytesRead)
		prometheus.MustRegister(FilesOpened, EventsWritten, RunRowsWritten)
	})
}
