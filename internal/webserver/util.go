package webserver

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// avgDownloadSize returns a string of the average download size.
func (d *FSDashboard) avgDownloadSize() string {
	count := d.fsys.Metrics.TotalDownloads.Load()
	bytes := d.fsys.Metrics.TotalDownloadBytes.Load()

	if count == 0 {
		return "0 B"
	}

	return bytesString(bytes / count)
}

// bytesString returns a string of a byte amount, negative amounts as zero.
func bytesString(bytes int64) string {
	if bytes < 0 {
		return humanize.IBytes(0)
	}

	return humanize.IBytes(uint64(bytes))
}

// ratio returns a string of the hit/miss ratio.
func ratio(hits, misses int64) string {
	total := hits + misses

	if total == 0 {
		return "0.00%"
	}

	perc := (float64(hits) / float64(total)) * 100 //nolint:mnd

	return fmt.Sprintf("%.2f%%", perc)
}

// enabledOrDisabled returns string "Enabled" or "Disabled" based on a boolean.
func enabledOrDisabled(v bool) string {
	if v {
		return "Enabled"
	}

	return "Disabled"
}
