package webserver

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "filebrowser"

// registerCollectors exposes the filesystem metrics to Prometheus.
// The values are read at scrape time, so nothing is duplicated.
func (d *FSDashboard) registerCollectors() {
	m := d.fsys.Metrics

	d.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		gauge("open_archives", "Currently open archives.", &m.OpenArchives),
		counter("archives_opened_total", "Opened archives.", &m.TotalOpenedArchives),
		counter("archives_closed_total", "Closed archives.", &m.TotalClosedArchives),
		counter("index_hits_total", "Archive listings served from memory.", &m.TotalIndexHits),
		counter("index_misses_total", "Archive listings read from archives.", &m.TotalIndexMisses),
		counter("extracts_total", "Buffered or extracted archive entries.", &m.TotalExtractCount),
		counter("extract_bytes_total", "Bytes read from archive entries.", &m.TotalExtractBytes),
		counter("nested_extracts_total", "Archives extracted from archives.", &m.TotalNestedExtracts),
		counter("downloads_total", "Downloads from remote origins.", &m.TotalDownloads),
		counter("download_bytes_total", "Bytes downloaded from remote origins.", &m.TotalDownloadBytes),
		counter("sessions_total", "Sessions established with remote origins.", &m.TotalSessions),
		counter("cache_fallbacks_total", "Downloads kept in memory after a cache write failure.", &m.TotalCacheFallbacks),
		counter("errors_total", "Failed node operations.", &m.TotalErrors),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_blobs",
			Help:      "Committed blobs in the cache store.",
		}, func() float64 {
			return float64(d.fsys.Cache.Stats().Blobs)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bytes",
			Help:      "Size of the committed blobs in the cache store.",
		}, func() float64 {
			return float64(d.fsys.Cache.Stats().Bytes)
		}),
	)

	if d.mount != nil {
		d.reg.MustRegister(
			gauge("open_handles", "Currently open streaming file handles.", &d.mount.Metrics.OpenHandles),
			counter("read_bytes_total", "Bytes served to the kernel.", &d.mount.Metrics.TotalReadBytes),
			counter("reopens_total", "Content reopened for a rewind.", &d.mount.Metrics.TotalReopens),
		)
	}
}

func gauge(name, help string, v *atomic.Int64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 {
		return float64(v.Load())
	})
}

func counter(name, help string, v *atomic.Int64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 {
		return float64(v.Load())
	})
}
