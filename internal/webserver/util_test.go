package webserver

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: avgDownloadSize should calculate correctly.
func Test_avgDownloadSize_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	dash.fsys.Metrics.TotalDownloads.Store(4)
	dash.fsys.Metrics.TotalDownloadBytes.Store(4 * 1024 * 1024)

	require.Equal(t, "1.0 MiB", dash.avgDownloadSize())
}

// Expectation: avgDownloadSize should handle zero downloads.
func Test_avgDownloadSize_ZeroCount_Success(t *testing.T) {
	t.Parallel()
	dash := testDashboard(t, io.Discard)

	dash.fsys.Metrics.TotalDownloadBytes.Store(1000)

	require.Equal(t, "0 B", dash.avgDownloadSize())
}

// Expectation: bytesString should present negative amounts as zero.
func Test_bytesString_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0 B", bytesString(-5))
	require.Equal(t, "2.0 KiB", bytesString(2048))
}

// Expectation: ratio should calculate the hit percentage.
func Test_ratio_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0.00%", ratio(0, 0))
	require.Equal(t, "75.00%", ratio(3, 1))
	require.Equal(t, "100.00%", ratio(5, 0))
}

// Expectation: enabledOrDisabled should return the correct strings.
func Test_enabledOrDisabled_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Enabled", enabledOrDisabled(true))
	require.Equal(t, "Disabled", enabledOrDisabled(false))
}
