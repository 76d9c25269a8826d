package webserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertwitch/filebrowser/internal/fusefs"
	"github.com/desertwitch/filebrowser/internal/logging"
	"github.com/desertwitch/filebrowser/internal/vfs"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func testDashboard(t *testing.T, out io.Writer) *FSDashboard {
	t.Helper()

	opts := vfs.DefaultOptions()
	opts.TempDir = t.TempDir()

	rbf := logging.NewRingBuffer(10, out)

	fsys, err := vfs.NewFS(opts, rbf)
	require.NoError(t, err)
	t.Cleanup(fsys.Cleanup)

	root, err := fsys.Local(t.TempDir())
	require.NoError(t, err)

	mount, err := fusefs.New(fsys, root, rbf)
	require.NoError(t, err)

	dash, err := NewFSDashboard(fsys, mount, rbf, "gotests")
	require.NoError(t, err)

	return dash
}

func serve(t *testing.T, dash *FSDashboard, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()

	dash.dashboardMux().ServeHTTP(w, req)

	return w
}

// Expectation: NewFSDashboard should refuse to work without its arguments.
func Test_NewFSDashboard_Error(t *testing.T) {
	t.Parallel()

	_, err := NewFSDashboard(nil, nil, logging.NewRingBuffer(1, io.Discard), "")
	require.ErrorIs(t, err, errInvalidArgument)
}

// Expectation: Serve should return a valid HTTP server pointer.
func Test_Serve_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	srv := dash.Serve("127.0.0.1:0")
	require.NotNil(t, srv)
	require.NotEmpty(t, srv.Addr)

	defer srv.Close()
}

// Expectation: dashboardMux should register all expected routes.
func Test_dashboardMux_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	for _, path := range []string{
		"/",
		"/metrics.json",
		"/metrics",
		"/gc",
		"/reset",
		"/set/content-ceiling/10MB",
		"/set/verbose/true",
		"/set/stream-threshold/1MB",
		"/invalidate/example.org:21",
	} {
		w := serve(t, dash, path)
		require.NotEqual(t, http.StatusNotFound, w.Code, "Route %s should exist", path)
	}
}

// Expectation: The streaming threshold should not be settable without a mount.
func Test_dashboardMux_NoMount_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)
	dash.mount = nil

	w := serve(t, dash, "/set/stream-threshold/1MB")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, dash, "/")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "Open file handles")
}

// Expectation: dashboardHandler should render the dashboard with correct data.
func Test_dashboardHandler_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	dash.version = "test-version"
	dash.rbuf.Println("test log entry")

	dash.fsys.Metrics.OpenArchives.Store(5)
	dash.fsys.Metrics.TotalOpenedArchives.Store(100)
	dash.fsys.Options.ContentCeiling.Store(200 * 1024 * 1024)

	w := serve(t, dash, "/")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	require.Contains(t, body, "test-version")
	require.Contains(t, body, "test log entry")
	require.Contains(t, body, "200 MiB")
	require.Contains(t, body, "Open file handles")
}

// Expectation: metricsHandler should return JSON with current metrics.
func Test_metricsHandler_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	dash.version = "test-metrics-version"
	dash.rbuf.Println("metrics test log entry")

	dash.fsys.Metrics.TotalDownloads.Store(2)
	dash.fsys.Metrics.TotalDownloadBytes.Store(4096)

	w := serve(t, dash, "/metrics.json")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := w.Body.String()
	require.Contains(t, body, "test-metrics-version")
	require.Contains(t, body, "metrics test log entry")
	require.Contains(t, body, `"avgDownloadSize":"2.0 KiB"`)
	require.Contains(t, body, `"mounted":true`)
}

// Expectation: The Prometheus endpoint should expose the filesystem metrics.
func Test_prometheusHandler_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	dash.fsys.Metrics.TotalSessions.Store(7)
	dash.mount.Metrics.TotalReopens.Store(3)

	w := serve(t, dash, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	require.Contains(t, body, "filebrowser_sessions_total 7")
	require.Contains(t, body, "filebrowser_reopens_total 3")
	require.Contains(t, body, "filebrowser_cache_blobs 0")
	require.Contains(t, body, "go_goroutines")
}

// Expectation: gcHandler should force GC and return success message.
func Test_gcHandler_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	w := serve(t, dash, "/gc")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))

	body := w.Body.String()
	require.Contains(t, body, "GC forced")
	require.Contains(t, body, "current heap")

	require.Contains(t, strings.Join(dash.rbuf.Lines(), " "), "GC forced")
}

// Expectation: resetMetricsHandler should reset all counters to zero.
func Test_resetMetricsHandler_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	dash.fsys.Metrics.OpenArchives.Store(1)
	dash.fsys.Metrics.TotalExtractCount.Store(20)
	dash.fsys.Metrics.TotalExtractBytes.Store(3000)
	dash.fsys.Metrics.TotalOpenedArchives.Store(30)
	dash.fsys.Metrics.TotalErrors.Store(4)
	dash.mount.Metrics.TotalReadBytes.Store(50)

	_, ok := dash.fsys.Cache.Get("example.org:21", "/missing")
	require.False(t, ok)
	require.Equal(t, int64(1), dash.fsys.Cache.Stats().Misses)

	w := serve(t, dash, "/reset")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Metrics reset")

	require.Equal(t, int64(1), dash.fsys.Metrics.OpenArchives.Load())
	require.Zero(t, dash.fsys.Metrics.TotalExtractCount.Load())
	require.Zero(t, dash.fsys.Metrics.TotalExtractBytes.Load())
	require.Zero(t, dash.fsys.Metrics.TotalOpenedArchives.Load())
	require.Zero(t, dash.fsys.Metrics.TotalErrors.Load())
	require.Zero(t, dash.mount.Metrics.TotalReadBytes.Load())
	require.Zero(t, dash.fsys.Cache.Stats().Misses)

	require.Contains(t, strings.Join(dash.rbuf.Lines(), " "), "Metrics reset")
}

// Expectation: sizeHandler should update the content ceiling with valid input.
func Test_sizeHandler_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	w := serve(t, dash, "/set/content-ceiling/500MB")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Content ceiling set")
	require.Equal(t, int64(500_000_000), dash.fsys.Options.ContentCeiling.Load())

	w = serve(t, dash, "/set/stream-threshold/1KiB")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(1024), dash.mount.StreamingThreshold.Load())

	w = serve(t, dash, "/set/stream-threshold/0")
	require.Equal(t, http.StatusOK, w.Code)
	require.Zero(t, dash.mount.StreamingThreshold.Load())
}

// Expectation: sizeHandler should refuse a content ceiling of zero.
func Test_sizeHandler_ZeroCeiling_Error(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	before := dash.fsys.Options.ContentCeiling.Load()

	w := serve(t, dash, "/set/content-ceiling/0")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "under 1 B")
	require.Equal(t, before, dash.fsys.Options.ContentCeiling.Load())
}

// Expectation: sizeHandler should reject invalid input.
func Test_sizeHandler_Error(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	before := dash.fsys.Options.ContentCeiling.Load()

	w := serve(t, dash, "/set/content-ceiling/invalid")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "Invalid string value")
	require.Equal(t, before, dash.fsys.Options.ContentCeiling.Load())
}

// Expectation: booleanHandler should toggle verbose logging.
func Test_booleanHandler_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	w := serve(t, dash, "/set/verbose/true")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, dash.rbuf.Verbose.Load())

	w = serve(t, dash, "/set/verbose/nope")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.True(t, dash.rbuf.Verbose.Load())
}

// Expectation: invalidateHandler should drop cached copies below the path.
func Test_invalidateHandler_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	blob, err := dash.fsys.Cache.Create("example.org:21", "/pub/a.zip")
	require.NoError(t, err)
	_, err = blob.Write([]byte("data"))
	require.NoError(t, err)
	p, err := blob.Commit()
	require.NoError(t, err)

	w := serve(t, dash, "/invalidate/example.org:21?path=/pub")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Cache invalidated: example.org:21/pub")

	_, err = os.Stat(p)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, ok := dash.fsys.Cache.Get("example.org:21", "/pub/a.zip")
	require.False(t, ok)
}

// Expectation: invalidateHandler should reject an unusable origin.
func Test_invalidateHandler_Error(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	req := httptest.NewRequest(http.MethodGet, "/invalidate/x", nil)
	req = mux.SetURLVars(req, map[string]string{"origin": ".."})
	w := httptest.NewRecorder()

	dash.invalidateHandler(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "Invalid cache location")
}

// Expectation: Dot-dot segments should not climb above the origin.
func Test_invalidateHandler_Traversal_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	outside := filepath.Join(dash.fsys.Cache.Root(), "etc")
	require.NoError(t, os.MkdirAll(outside, 0o755))

	w := serve(t, dash, "/invalidate/example.org:21?path=../../etc")
	require.Equal(t, http.StatusOK, w.Code)

	_, err := os.Stat(outside)
	require.NoError(t, err)
}
