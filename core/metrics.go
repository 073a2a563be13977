package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters/histograms an Array's operations record,
// grounded on server_metrics.go's pattern of a small struct of
// pre-registered prometheus/client_golang collectors threaded through
// by value rather than accessed via package-level globals.
type Metrics struct {
	TilesRead       prometheus.Counter
	TilesWritten    prometheus.Counter
	BytesRead       prometheus.Counter
	BytesWritten    prometheus.Counter
	FragmentsOpened prometheus.Counter
	Consolidations  prometheus.Counter
	ReadDuration    prometheus.Histogram
	WriteDuration   prometheus.Histogram
}

// NewMetrics registers a fresh set of collectors against reg (pass
// prometheus.NewRegistry() in tests to avoid global-registry
// collisions across parallel test packages).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TilesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ndarrayfs_tiles_read_total", Help: "Tiles read from fragment files.",
		}),
		TilesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ndarrayfs_tiles_written_total", Help: "Tiles written to fragment files.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ndarrayfs_bytes_read_total", Help: "Bytes read from the VFS.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ndarrayfs_bytes_written_total", Help: "Bytes written to the VFS.",
		}),
		FragmentsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ndarrayfs_fragments_opened_total", Help: "Fragments opened for reading.",
		}),
		Consolidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ndarrayfs_consolidations_total", Help: "Consolidation passes completed.",
		}),
		ReadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ndarrayfs_read_duration_seconds", Help: "Query read latency.",
			Buckets: prometheus.DefBuckets,
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ndarrayfs_write_duration_seconds", Help: "Query write latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.TilesRead, m.TilesWritten, m.BytesRead, m.BytesWritten,
		m.FragmentsOpened, m.Consolidations, m.ReadDuration, m.WriteDuration)
	return m
}
