// Package webserver implements the diagnostics server.
package webserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/desertwitch/filebrowser/internal/fusefs"
	"github.com/desertwitch/filebrowser/internal/logging"
	"github.com/desertwitch/filebrowser/internal/vfs"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxSize = 1 << 62

var (
	//go:embed templates/*.html
	templateFS    embed.FS
	indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

	// errInvalidArgument is for an invalid constructor argument.
	errInvalidArgument = errors.New("invalid argument")
)

// FSDashboard is the implementation of the filesystem dashboard.
type FSDashboard struct {
	version string
	started time.Time
	fsys    *vfs.FS
	mount   *fusefs.FS // nil when nothing is mounted.
	rbuf    *logging.RingBuffer
	reg     *prometheus.Registry
}

// NewFSDashboard returns a pointer to a new [FSDashboard].
// The mount is optional and only shown when it is not nil.
func NewFSDashboard(fsys *vfs.FS, mount *fusefs.FS, rbuf *logging.RingBuffer, version string) (*FSDashboard, error) {
	if fsys == nil {
		return nil, fmt.Errorf("%w: need filesystem", errInvalidArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need ring buffer", errInvalidArgument)
	}

	d := &FSDashboard{
		version: version,
		started: time.Now(),
		fsys:    fsys,
		mount:   mount,
		rbuf:    rbuf,
		reg:     prometheus.NewRegistry(),
	}
	d.registerCollectors()

	return d, nil
}

// Serve serves the diagnostics dashboard as part of a [http.Server].
func (d *FSDashboard) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: d.dashboardMux(), ReadHeaderTimeout: 10 * time.Second} //nolint:mnd

	go func() {
		defer func() {
			r := recover()
			if r != nil {
				fmt.Fprintf(os.Stderr, "(webserver) PANIC: %v\n", r)
				debug.PrintStack()
			}
		}()
		d.rbuf.Printf("serving dashboard on %s\n", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.rbuf.Printf("HTTP error: %v\n", err)
		}
	}()

	return srv
}

func (d *FSDashboard) dashboardMux() *mux.Router {
	mux := mux.NewRouter()

	mux.HandleFunc("/", d.dashboardHandler)
	mux.HandleFunc("/metrics.json", d.metricsHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(d.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/gc", d.gcHandler)
	mux.HandleFunc("/reset", d.resetMetricsHandler)

	mux.HandleFunc("/set/content-ceiling/{value}", d.sizeHandler("Content ceiling", &d.fsys.Options.ContentCeiling, 1))
	mux.HandleFunc("/set/verbose/{value}", d.booleanHandler("Verbose logging", &d.rbuf.Verbose))
	if d.mount != nil {
		mux.HandleFunc("/set/stream-threshold/{value}", d.sizeHandler("Streaming threshold", &d.mount.StreamingThreshold, 0))
	}

	mux.HandleFunc("/invalidate/{origin}", d.invalidateHandler)

	return mux
}

type fsDashboardData struct {
	AllocBytes          string   `json:"allocBytes"`
	AvgDownloadSize     string   `json:"avgDownloadSize"`
	CacheBlobs          int64    `json:"cacheBlobs"`
	CacheBytes          string   `json:"cacheBytes"`
	CacheExpired        int64    `json:"cacheExpired"`
	CacheHitRatio       string   `json:"cacheHitRatio"`
	CacheHits           int64    `json:"cacheHits"`
	CacheMisses         int64    `json:"cacheMisses"`
	CacheRoot           string   `json:"cacheRoot"`
	CacheTTL            string   `json:"cacheTtl"`
	ContentCeiling      string   `json:"contentCeiling"`
	IndexCacheSize      uint64   `json:"indexCacheSize"`
	IndexCacheTTL       string   `json:"indexCacheTtl"`
	IndexHitRatio       string   `json:"indexHitRatio"`
	Logs                []string `json:"logs"`
	Mounted             bool     `json:"mounted"`
	NumGC               uint32   `json:"numGc"`
	OpenArchives        int64    `json:"openArchives"`
	OpenHandles         int64    `json:"openHandles"`
	RingBufferSize      int      `json:"ringBufferSize"`
	StreamingThreshold  string   `json:"streamingThreshold"`
	SysBytes            string   `json:"sysBytes"`
	TotalAlloc          string   `json:"totalAlloc"`
	TotalCacheFallbacks int64    `json:"totalCacheFallbacks"`
	TotalClosedArchives int64    `json:"totalClosedArchives"`
	TotalDownloadBytes  string   `json:"totalDownloadBytes"`
	TotalDownloads      int64    `json:"totalDownloads"`
	TotalErrors         int64    `json:"totalErrors"`
	TotalExtractBytes   string   `json:"totalExtractBytes"`
	TotalExtracts       int64    `json:"totalExtracts"`
	TotalIndexHits      int64    `json:"totalIndexHits"`
	TotalIndexMisses    int64    `json:"totalIndexMisses"`
	TotalNestedExtracts int64    `json:"totalNestedExtracts"`
	TotalOpenedArchives int64    `json:"totalOpenedArchives"`
	TotalReadBytes      string   `json:"totalReadBytes"`
	TotalReopens        int64    `json:"totalReopens"`
	TotalSessions       int64    `json:"totalSessions"`
	Uptime              string   `json:"uptime"`
	Verbose             string   `json:"verbose"`
	Version             string   `json:"version"`
}

func (d *FSDashboard) collectMetrics() fsDashboardData {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	lines := d.rbuf.Lines()
	slices.Reverse(lines)

	stats := d.fsys.Cache.Stats()
	metrics := d.fsys.Metrics

	data := fsDashboardData{
		AllocBytes:          humanize.IBytes(m.Alloc),
		AvgDownloadSize:     d.avgDownloadSize(),
		CacheBlobs:          stats.Blobs,
		CacheBytes:          bytesString(stats.Bytes),
		CacheExpired:        stats.Expired,
		CacheHitRatio:       ratio(stats.Hits, stats.Misses),
		CacheHits:           stats.Hits,
		CacheMisses:         stats.Misses,
		CacheRoot:           d.fsys.Cache.Root(),
		CacheTTL:            d.fsys.Cache.TTL().String(),
		ContentCeiling:      bytesString(d.fsys.Options.ContentCeiling.Load()),
		IndexCacheSize:      d.fsys.Options.IndexCacheSize,
		IndexCacheTTL:       d.fsys.Options.IndexCacheTTL.String(),
		IndexHitRatio:       ratio(metrics.TotalIndexHits.Load(), metrics.TotalIndexMisses.Load()),
		Logs:                lines,
		NumGC:               m.NumGC,
		OpenArchives:        metrics.OpenArchives.Load(),
		RingBufferSize:      d.rbuf.Size(),
		SysBytes:            humanize.IBytes(m.Sys),
		TotalAlloc:          humanize.IBytes(m.TotalAlloc),
		TotalCacheFallbacks: metrics.TotalCacheFallbacks.Load(),
		TotalClosedArchives: metrics.TotalClosedArchives.Load(),
		TotalDownloadBytes:  bytesString(metrics.TotalDownloadBytes.Load()),
		TotalDownloads:      metrics.TotalDownloads.Load(),
		TotalErrors:         metrics.TotalErrors.Load(),
		TotalExtractBytes:   bytesString(metrics.TotalExtractBytes.Load()),
		TotalExtracts:       metrics.TotalExtractCount.Load(),
		TotalIndexHits:      metrics.TotalIndexHits.Load(),
		TotalIndexMisses:    metrics.TotalIndexMisses.Load(),
		TotalNestedExtracts: metrics.TotalNestedExtracts.Load(),
		TotalOpenedArchives: metrics.TotalOpenedArchives.Load(),
		TotalSessions:       metrics.TotalSessions.Load(),
		Uptime:              humanize.Time(d.started),
		Verbose:             enabledOrDisabled(d.rbuf.Verbose.Load()),
		Version:             d.version,
	}

	if d.mount != nil {
		data.Mounted = true
		data.OpenHandles = d.mount.Metrics.OpenHandles.Load()
		data.StreamingThreshold = bytesString(d.mount.StreamingThreshold.Load())
		data.TotalReadBytes = bytesString(d.mount.Metrics.TotalReadBytes.Load())
		data.TotalReopens = d.mount.Metrics.TotalReopens.Load()
	}

	return data
}

func (d *FSDashboard) dashboardHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	if err := indexTemplate.Execute(w, data); err != nil {
		d.rbuf.Printf("HTTP template execution error: %v\n", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) gcHandler(w http.ResponseWriter, _ *http.Request) {
	runtime.GC()
	debug.FreeOSMemory()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	d.rbuf.Printf("GC forced via API, current heap: %s.\n", humanize.IBytes(m.Alloc))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "GC forced, current heap: %s.\n", humanize.IBytes(m.Alloc))
}

func (d *FSDashboard) resetMetricsHandler(w http.ResponseWriter, _ *http.Request) {
	d.fsys.Metrics.TotalOpenedArchives.Store(0)
	d.fsys.Metrics.TotalClosedArchives.Store(0)
	d.fsys.Metrics.TotalIndexHits.Store(0)
	d.fsys.Metrics.TotalIndexMisses.Store(0)
	d.fsys.Metrics.TotalExtractCount.Store(0)
	d.fsys.Metrics.TotalExtractBytes.Store(0)
	d.fsys.Metrics.TotalNestedExtracts.Store(0)
	d.fsys.Metrics.TotalDownloads.Store(0)
	d.fsys.Metrics.TotalDownloadBytes.Store(0)
	d.fsys.Metrics.TotalSessions.Store(0)
	d.fsys.Metrics.TotalCacheFallbacks.Store(0)
	d.fsys.Metrics.TotalErrors.Store(0)
	d.fsys.Cache.ResetCounters()

	if d.mount != nil {
		d.mount.Metrics.TotalReadBytes.Store(0)
		d.mount.Metrics.TotalReopens.Store(0)
	}

	d.rbuf.Println("Metrics reset via API.")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Metrics reset.")
}

func (d *FSDashboard) invalidateHandler(w http.ResponseWriter, r *http.Request) {
	origin := mux.Vars(r)["origin"]

	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}

	if err := d.fsys.InvalidateCache(origin, path); err != nil {
		http.Error(w, fmt.Sprintf("Invalid cache location: %v", err), http.StatusBadRequest)

		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Cache invalidated: %s%s.\n", origin, path)
}

func (d *FSDashboard) sizeHandler(desc string, target *atomic.Int64, minimum uint64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		val, err := humanize.ParseBytes(vars["value"])
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid string value: %v", err), http.StatusBadRequest)

			return
		}
		if val < minimum {
			http.Error(w, fmt.Sprintf("Invalid string value: under %s", humanize.IBytes(minimum)), http.StatusBadRequest)

			return
		}
		if val > maxSize {
			http.Error(w, fmt.Sprintf("Invalid string value: over %s", humanize.IBytes(maxSize)), http.StatusBadRequest)

			return
		}
		target.Store(int64(val)) //nolint:gosec

		d.rbuf.Printf("%s set via API: %s.\n", desc, humanize.IBytes(val))

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s set: %s.\n", desc, humanize.IBytes(val))
	}
}

func (d *FSDashboard) booleanHandler(desc string, target *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		val, err := strconv.ParseBool(vars["value"])
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid boolean value: %v", err), http.StatusBadRequest)

			return
		}
		target.Store(val)

		d.rbuf.Printf("%s set via API: %t.\n", desc, val)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s set: %t.\n", desc, val)
	}
}
