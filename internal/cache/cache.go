// Package cache implements the on-disk store for local copies of remote content.
//
// Blobs are partitioned by origin (e.g. "host:port") and addressed by their
// logical (slash-separated) path at that origin. A blob is considered fresh
// for the configured TTL after it was committed; expired blobs are removed
// on access. Writers commit by rename, so a reader never observes a blob
// that is only partially written.
package cache

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/google/uuid"
)

const (
	// DefaultTTL is the time after which a cached blob is considered stale.
	DefaultTTL = 3 * time.Minute

	dirPerm     = 0o700
	partPrefix  = ".part-"
	rootPrefix  = "filebrowser-cache-"
	writeBuffer = 64 * 1024
)

var (
	// ErrInvalidKey occurs when an origin or logical path cannot address a blob.
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrWrite occurs when writing a blob to local storage has failed.
	ErrWrite = errors.New("cache write failure")
)

// Stats is a point-in-time summary of a [Store].
type Stats struct {
	Blobs   int64 // Committed blobs on disk.
	Bytes   int64 // Size of all committed blobs.
	Hits    int64 // Lookups answered by a fresh blob.
	Misses  int64 // Lookups without a fresh blob.
	Expired int64 // Blobs removed for being older than the TTL.
}

// Store is the on-disk blob cache.
// It is safe for concurrent use.
type Store struct {
	root string
	ttl  time.Duration

	// mu orders expiry removals against commits, so that a removal
	// never hits a blob committed after it was found expired.
	mu sync.Mutex

	hits    atomic.Int64
	misses  atomic.Int64
	expired atomic.Int64
}

// New returns a pointer to a new [Store] below baseDir (or the OS temporary
// directory when empty). The storage root carries a unique suffix, so that
// concurrently running instances never share or remove each other's blobs.
// You must call Close() once the store is no longer needed.
func New(baseDir string, ttl time.Duration) (*Store, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	root := filepath.Join(baseDir, rootPrefix+uuid.NewString())
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	return &Store{root: root, ttl: ttl}, nil
}

// Root returns the storage root of the [Store].
func (s *Store) Root() string {
	return s.root
}

// TTL returns the time for which a committed blob is considered fresh.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the local path of the blob for the given key, if one exists
// and is still fresh. An expired blob is removed and reported as absent.
func (s *Store) Get(origin, logicalPath string) (string, bool) {
	p, err := s.blobPath(origin, logicalPath)
	if err != nil {
		s.misses.Add(1)

		return "", false
	}

	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		s.misses.Add(1)

		return "", false
	}

	if time.Since(info.ModTime()) > s.ttl && s.removeExpired(p) {
		s.expired.Add(1)
		s.misses.Add(1)

		return "", false
	}

	s.hits.Add(1)

	return p, true
}

// removeExpired removes the blob at p unless it has been replaced by a
// fresh one in the meantime, and reports if the blob is gone.
func (s *Store) removeExpired(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(p)
	if err != nil {
		return true
	}
	if time.Since(info.ModTime()) <= s.ttl {
		return false
	}
	_ = os.Remove(p)

	return true
}

// Create opens a new [Blob] for writing the content of the given key.
// The caller must end the write with either Commit() or Abort().
func (s *Store) Create(origin, logicalPath string) (*Blob, error) {
	p, err := s.blobPath(origin, logicalPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}

	f, err := os.CreateTemp(filepath.Dir(p), partPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}

	return &Blob{
		store: s,
		f:     f,
		w:     bufio.NewWriterSize(f, writeBuffer),
		final: p,
	}, nil
}

// Invalidate removes the blob subtree rooted at the given logical path.
// Invalidating "/" removes every blob of the origin.
func (s *Store) Invalidate(origin, logicalPath string) error {
	dir, err := s.originDir(origin)
	if err != nil {
		return err
	}

	target := dir
	if rel := cleanLogical(logicalPath); rel != "" {
		target = filepath.Join(dir, filepath.FromSlash(rel))
	}

	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to invalidate %q: %w", logicalPath, err)
	}

	return nil
}

// Stats returns a summary of the blobs currently stored and the counters
// collected since creation (or the last ResetCounters()).
func (s *Store) Stats() Stats {
	var blobs, bytes atomic.Int64

	conf := fastwalk.Config{Follow: false}
	_ = fastwalk.Walk(&conf, s.root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), partPrefix) {
			return nil //nolint:nilerr
		}

		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr
		}

		blobs.Add(1)
		bytes.Add(info.Size())

		return nil
	})

	return Stats{
		Blobs:   blobs.Load(),
		Bytes:   bytes.Load(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Expired: s.expired.Load(),
	}
}

// ResetCounters sets the hit, miss and expiry counters back to zero.
func (s *Store) ResetCounters() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.expired.Store(0)
}

// Close removes the storage root with all blobs.
func (s *Store) Close() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("failed to remove cache root: %w", err)
	}

	return nil
}

func (s *Store) originDir(origin string) (string, error) {
	if origin == "" || origin == "." || origin == ".." {
		return "", fmt.Errorf("%w: empty origin", ErrInvalidKey)
	}

	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(origin)

	return filepath.Join(s.root, safe), nil
}

func (s *Store) blobPath(origin, logicalPath string) (string, error) {
	dir, err := s.originDir(origin)
	if err != nil {
		return "", err
	}

	rel := cleanLogical(logicalPath)
	if rel == "" {
		return "", fmt.Errorf("%w: %q addresses no blob", ErrInvalidKey, logicalPath)
	}

	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}

// cleanLogical returns the logical path relative to its origin root.
// Dot-dot segments cannot climb above the root.
func cleanLogical(logicalPath string) string {
	p := path.Clean("/" + strings.ReplaceAll(logicalPath, "\\", "/"))

	return strings.TrimPrefix(p, "/")
}

// Blob is a buffered writer for one cache entry.
// It is not safe for concurrent use.
type Blob struct {
	store  *Store
	f      *os.File
	w      *bufio.Writer
	final  string
	failed bool
	done   bool
}

// Write writes to the temporary file of the [Blob].
// Any failure marks the [Blob] as failed, see Failed().
func (b *Blob) Write(p []byte) (int, error) {
	n, err := b.w.Write(p)
	if err != nil {
		b.failed = true

		return n, fmt.Errorf("%w: %w", ErrWrite, err)
	}

	return n, nil
}

// Failed reports if a local write to the [Blob] has failed.
func (b *Blob) Failed() bool {
	return b.failed
}

// Commit flushes the [Blob] and atomically moves it to its final path,
// which is returned. On failure the temporary file is removed.
func (b *Blob) Commit() (string, error) {
	if b.done {
		return "", fmt.Errorf("%w: blob already finished", ErrWrite)
	}
	b.done = true

	if err := b.w.Flush(); err != nil {
		b.failed = true
		b.discard()

		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}

	if err := b.f.Close(); err != nil {
		b.failed = true
		_ = os.Remove(b.f.Name())

		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}

	b.store.mu.Lock()
	err := os.Rename(b.f.Name(), b.final)
	b.store.mu.Unlock()
	if err != nil {
		b.failed = true
		_ = os.Remove(b.f.Name())

		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}

	return b.final, nil
}

// Abort discards the [Blob], leaving any previously committed blob intact.
func (b *Blob) Abort() {
	if b.done {
		return
	}
	b.done = true
	b.discard()
}

func (b *Blob) discard() {
	_ = b.f.Close()
	_ = os.Remove(b.f.Name())
}
