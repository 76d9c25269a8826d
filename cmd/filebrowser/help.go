package main

const (
	helpTextUse = "filebrowser <command>"

	helpTextShort = "browse local directories, FTP servers and ZIP archives as one tree"

	helpTextLong = `filebrowser browses local directories, FTP servers and ZIP archives as one
uniform tree. Archives, and archives inside of archives, are entered like
directories. Remote content is downloaded on demand into a local cache store,
which is removed again when the program exits.

Locations are local paths or "ftp://[user[:pass]@]host[:port]/path" URLs.
Any path segment past an archive walks into that archive, for example:
  filebrowser cat /tmp/outer.zip/inner.zip/leaf.txt
  filebrowser ls ftp://example.org/pub/release.zip`

	helpTextMountLong = `mount presents a location read-only as a FUSE filesystem, with directories
and archives both appearing as directories.

When mounted, the following OS signals are observed at runtime:
- SIGTERM/SIGINT for gracefully unmounting the FS
- SIGUSR1 for forcing a garbage collection run within Go
- SIGUSR2 for printing a stack trace to standard error (stderr)

When enabled, the diagnostics dashboard exposes the following routes:
- "/" for filesystem dashboard and event ring-buffer
- "/metrics.json" and "/metrics" for JSON and Prometheus metrics
- "/gc" for forcing of a garbage collection (within Go)
- "/reset" for resetting the filesystem metrics at runtime
- "/set/content-ceiling/<string>" for adapting the in-memory content ceiling
- "/set/stream-threshold/<string>" for adapting of the streaming threshold
- "/set/verbose/<bool>" for toggling debug messages
- "/invalidate/<host:port>?path=<path>" for dropping cached remote content`
)
