// Package vfs implements a uniform virtual file abstraction over local disk,
// remote FTP servers and (nested) ZIP archives.
//
// Every location is a [Node], regardless of the backend it lives on. A
// recognized archive is a file to its container but a directory to its own
// contents, so callers can descend through archives (and archives inside of
// them) without knowing which backend answers a request. Remote and nested
// content is materialized on local disk on demand, through the [cache.Store]
// and the [Extractor] owned by the [FS].
package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/desertwitch/filebrowser/internal/cache"
	"github.com/desertwitch/filebrowser/internal/logging"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

const (
	scratchPrefix = "filebrowser-"
	scratchPerm   = 0o700

	defaultContentCeiling = 30 * 1024 * 1024 // 30MiB
	defaultIndexCacheSize = 128
	defaultIndexCacheTTL  = 60 * time.Second
)

var (
	// ErrNotApplicable occurs when an operation is not defined for a node,
	// such as the children of a plain file or the content of a directory.
	ErrNotApplicable = errors.New("not applicable")

	// ErrNotFound occurs when a location does not exist (anymore).
	ErrNotFound = errors.New("not found")

	// ErrPermission occurs when a location exists, but cannot be accessed.
	ErrPermission = errors.New("permission denied")

	// ErrRemoteProtocol occurs on any session-level failure with a remote
	// origin. A session which has produced it is never used again.
	ErrRemoteProtocol = errors.New("remote protocol failure")

	// ErrArchiveFormat occurs when an archive or one of its entries is
	// corrupt or uses an unsupported format.
	ErrArchiveFormat = errors.New("archive format error")

	// ErrContentTooLarge occurs when archive content is over the content
	// ceiling and cannot be buffered. It means that no content is available.
	ErrContentTooLarge = errors.New("content too large")

	// ErrCacheWrite occurs when content cannot be materialized on local disk.
	ErrCacheWrite = errors.New("cache write failure")

	errMissingArgument = errors.New("missing argument")
)

// Kind is the backend a [Node] lives on.
type Kind int

const (
	KindLocal Kind = iota + 1
	KindRemote
	KindArchived
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	case KindArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// Node is a file or directory on any of the backends.
//
// Nodes are immutable, except for a lazily resolved parent. Any child that
// is returned by a node carries that node as its parent, so that walking
// down never requires additional round-trips.
type Node interface {
	// Kind returns the backend of the node.
	Kind() Kind

	// Name returns the last segment of the path.
	Name() string

	// FullPath returns the canonical identifier of the node within its origin.
	FullPath() string

	// IsDir reports if the node is a directory. Archives are not.
	IsDir() bool

	// HasParent reports if the node has a parent, false only for backend roots.
	HasParent() bool

	// Size returns the size of the content in bytes, or -1 when unknown.
	Size() int64

	// ModTime returns the modification time, or the zero time when unknown.
	ModTime() time.Time

	// Parent returns the parent of the node, or nil at a backend root.
	Parent(ctx context.Context) (Node, error)

	// Children returns the immediate children of a directory or a recognized
	// archive. For any other node, [ErrNotApplicable] is returned.
	Children(ctx context.Context) ([]Node, error)

	// Content returns a stream over the content of a file.
	// For directories, [ErrNotApplicable] is returned.
	Content(ctx context.Context) (io.ReadCloser, error)
}

// Options contains all settings for the operation of the [FS].
// All non-atomic fields can no longer be modified once the [FS] is created.
type Options struct {
	// CacheTTL is the time for which a local copy of remote content is fresh.
	CacheTTL time.Duration

	// IndexCacheSize is the amount of archive listings that are memoized.
	IndexCacheSize uint64

	// IndexCacheTTL is the time-to-live for each memoized archive listing.
	IndexCacheTTL time.Duration

	// TempDir is where the cache store and extracted archives are created.
	// The OS temporary directory is used when empty.
	TempDir string

	// ArchivePredicate decides which files are to be treated as archives.
	// [ExtensionPredicate] is used when nil.
	ArchivePredicate ArchivePredicate

	// ContentCeiling is the size over which archive content is not buffered.
	ContentCeiling atomic.Int64
}

// DefaultOptions returns a pointer to [Options] with the default values.
func DefaultOptions() *Options {
	opts := &Options{
		CacheTTL:         cache.DefaultTTL,
		IndexCacheSize:   defaultIndexCacheSize,
		IndexCacheTTL:    defaultIndexCacheTTL,
		ArchivePredicate: ExtensionPredicate,
	}
	opts.ContentCeiling.Store(defaultContentCeiling)

	return opts
}

// Metrics contains all metrics which are collected within the [FS].
type Metrics struct {
	// OpenArchives is the amount of currently open archives.
	OpenArchives atomic.Int64

	// TotalOpenedArchives is the amount of opened archives.
	TotalOpenedArchives atomic.Int64

	// TotalClosedArchives is the amount of closed archives.
	TotalClosedArchives atomic.Int64

	// TotalIndexHits is the amount of archive listings served from memory.
	TotalIndexHits atomic.Int64

	// TotalIndexMisses is the amount of archive listings read from archives.
	TotalIndexMisses atomic.Int64

	// TotalExtractCount is the amount of buffered archive entries.
	TotalExtractCount atomic.Int64

	// TotalExtractBytes is the amount of bytes buffered from archive entries.
	TotalExtractBytes atomic.Int64

	// TotalNestedExtracts is the amount of archives extracted from archives.
	TotalNestedExtracts atomic.Int64

	// TotalDownloads is the amount of completed remote downloads.
	TotalDownloads atomic.Int64

	// TotalDownloadBytes is the amount of bytes downloaded from remotes.
	TotalDownloadBytes atomic.Int64

	// TotalSessions is the amount of opened remote sessions.
	TotalSessions atomic.Int64

	// TotalCacheFallbacks is the amount of uncached (in-memory) reads.
	TotalCacheFallbacks atomic.Int64

	// TotalErrors is the amount of failed operations.
	TotalErrors atomic.Int64
}

// FS is the context all nodes are created from and operate within.
// It owns the scratch storage, which is removed on Cleanup().
type FS struct {
	Options *Options
	Metrics *Metrics
	Cache   *cache.Store

	scratch   string
	extractor *Extractor
	index     *ttlcache.Cache[string, []archiveEntry]

	// canRead reports if the current user may read at a local path.
	canRead func(p string) bool

	rbuf *logging.RingBuffer
}

// NewFS returns a pointer to a new [FS].
// You must call Cleanup() once all work is complete.
func NewFS(opts *Options, rbuf *logging.RingBuffer) (*FS, error) {
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.ArchivePredicate == nil {
		opts.ArchivePredicate = ExtensionPredicate
	}
	if opts.ContentCeiling.Load() <= 0 {
		opts.ContentCeiling.Store(defaultContentCeiling)
	}

	base := opts.TempDir
	if base == "" {
		base = os.TempDir()
	}

	store, err := cache.New(base, opts.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache store: %w", err)
	}

	scratch := filepath.Join(base, scratchPrefix+uuid.NewString())
	if err := os.MkdirAll(scratch, scratchPerm); err != nil {
		_ = store.Close()

		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	fsys := &FS{
		Options: opts,
		Metrics: &Metrics{},
		Cache:   store,
		scratch: scratch,
		canRead: readable,
		rbuf:    rbuf,
	}
	fsys.extractor = newExtractor(fsys, filepath.Join(scratch, "nested"))
	fsys.index = ttlcache.New(
		ttlcache.WithTTL[string, []archiveEntry](opts.IndexCacheTTL),
		ttlcache.WithCapacity[string, []archiveEntry](max(1, opts.IndexCacheSize)),
	)
	go fsys.index.Start()

	return fsys, nil
}

// Cleanup removes all scratch storage and blocks until done.
func (fsys *FS) Cleanup() {
	fsys.index.Stop()
	fsys.index.DeleteAll()

	if err := os.RemoveAll(fsys.scratch); err != nil {
		fsys.rbuf.Printf("Error: failed to remove scratch dir: %v\n", err)
	}
	if err := fsys.Cache.Close(); err != nil {
		fsys.rbuf.Printf("Error: %v\n", err)
	}
}

// Extractor returns the [Extractor] materializing nested archives.
func (fsys *FS) Extractor() *Extractor {
	return fsys.extractor
}

// IsArchive reports if a node is to be treated as an archive.
func (fsys *FS) IsArchive(n Node) bool {
	if n == nil || n.IsDir() {
		return false
	}

	return fsys.Options.ArchivePredicate(n)
}

// InvalidateCache drops all local copies of remote content at or below
// the given path of an origin, so they are fetched again on next access.
func (fsys *FS) InvalidateCache(origin, path string) error {
	if err := fsys.Cache.Invalidate(origin, path); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	fsys.rbuf.Printf("Invalidated cache for %q at %q\n", origin, path)

	return nil
}

// observe counts and logs a failed operation on a node.
// Absence that is modeled by [ErrNotApplicable] or [ErrContentTooLarge]
// is not a failure.
func (fsys *FS) observe(n Node, op string, err error) {
	if err == nil || errors.Is(err, ErrNotApplicable) {
		return
	}
	if errors.Is(err, ErrContentTooLarge) {
		fsys.rbuf.Debugf("%q->%s: %v\n", n.FullPath(), op, err)

		return
	}
	fsys.Metrics.TotalErrors.Add(1)
	fsys.rbuf.Printf("Error: %q->%s: %v\n", n.FullPath(), op, err)
}

// classify maps an operating system error onto the package errors.
func classify(err error) error {
	switch {
	case err == nil:
		return nil

	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)

	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", ErrPermission, err)

	default:
		return err
	}
}
