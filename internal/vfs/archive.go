package vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/klauspost/compress/zip"
	"github.com/tidwall/btree"
)

// archiveFile is a materialized archive: either a file on local disk,
// or (when it could not be stored) the archive bytes held in memory.
type archiveFile struct {
	path string
	data []byte
}

// archiveLocator returns the materialized form of an archive.
// It is called on every access, so it may re-materialize expired content.
type archiveLocator func(ctx context.Context) (archiveFile, error)

// localArchive returns an [archiveLocator] for an archive on local disk.
func localArchive(path string) archiveLocator {
	return func(_ context.Context) (archiveFile, error) {
		return archiveFile{path: path}, nil
	}
}

// archiveEntry is one normalized entry of an archive listing.
// Implicit parent directories are synthesized with an empty raw name.
type archiveEntry struct {
	raw      string    // Entry name as stored in the archive.
	path     string    // Normalized in-archive path.
	dir      bool      // Entry is a directory.
	size     int64     // Reported uncompressed size.
	modified time.Time // Modified time of the entry.
}

// zipReader is a metrics-aware [zip.Reader] that is never kept open
// past the call which has opened it.
type zipReader struct {
	*zip.Reader

	fsys   *FS
	closer io.Closer
}

func (fsys *FS) openArchive(af archiveFile) (*zipReader, error) {
	zr := &zipReader{fsys: fsys}

	if af.path == "" {
		r, err := zip.NewReader(bytes.NewReader(af.data), int64(len(af.data)))
		if err != nil {
			return nil, archiveErr(err)
		}
		zr.Reader = r
	} else {
		rc, err := zip.OpenReader(af.path)
		if err != nil {
			return nil, archiveErr(err)
		}
		zr.Reader = &rc.Reader
		zr.closer = rc
	}

	fsys.Metrics.OpenArchives.Add(1)
	fsys.Metrics.TotalOpenedArchives.Add(1)

	return zr, nil
}

func (zr *zipReader) Close() error {
	zr.fsys.Metrics.OpenArchives.Add(-1)
	zr.fsys.Metrics.TotalClosedArchives.Add(1)

	if zr.closer != nil {
		return zr.closer.Close() //nolint:wrapcheck
	}

	return nil
}

// find returns the entry stored under the exact raw name.
func (zr *zipReader) find(raw string) (*zip.File, error) {
	for _, f := range zr.File {
		if f.Name == raw {
			return f, nil
		}
	}

	return nil, fmt.Errorf("%w: no entry %q in archive", ErrNotFound, raw)
}

// archiveErr maps errors of the archive reader onto the package errors.
func archiveErr(err error) error {
	if errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrAlgorithm) ||
		errors.Is(err, zip.ErrChecksum) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrArchiveFormat, err)
	}

	return classify(err)
}

// archiveEntries returns the normalized listing of an archive, including
// the synthesized implicit directories. Listings of archives on disk are
// memoized by the identity (path, size, modified time) of the archive file.
func (fsys *FS) archiveEntries(af archiveFile) ([]archiveEntry, error) {
	var key string

	if af.path != "" {
		info, err := os.Stat(af.path)
		if err != nil {
			return nil, classify(err)
		}
		key = af.path + "|" + strconv.FormatInt(info.Size(), 10) + "|" + strconv.FormatInt(info.ModTime().UnixNano(), 10)

		if item := fsys.index.Get(key); item != nil {
			fsys.Metrics.TotalIndexHits.Add(1)

			return item.Value(), nil
		}
	}
	fsys.Metrics.TotalIndexMisses.Add(1)

	zr, err := fsys.openArchive(af)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	entries := listEntries(zr.File)

	if key != "" {
		fsys.index.Set(key, entries, ttlcache.DefaultTTL)
	}

	return entries, nil
}

// listEntries normalizes the raw entries of an archive and synthesizes
// directories for all path prefixes that have no explicit entry.
func listEntries(files []*zip.File) []archiveEntry {
	byPath := make(map[string]int, len(files))
	entries := make([]archiveEntry, 0, len(files))

	add := func(e archiveEntry) {
		if i, ok := byPath[e.path]; ok {
			if entries[i].raw == "" && e.raw != "" {
				entries[i] = e // explicit entry wins over a synthesized one
			}

			return
		}
		byPath[e.path] = len(entries)
		entries = append(entries, e)
	}

	for _, f := range files {
		p := NormalizeArchivePath(f.Name)
		if p == "" {
			continue
		}

		dir := strings.HasSuffix(f.Name, "/") || strings.HasSuffix(f.Name, "\\") || f.FileInfo().IsDir()

		size := int64(-1)
		if !dir && f.UncompressedSize64 <= uint64(1<<63-1) {
			size = int64(f.UncompressedSize64) //nolint:gosec
		}

		add(archiveEntry{raw: f.Name, path: p, dir: dir, size: size, modified: f.Modified})
	}

	for i := 0; i < len(entries); i++ {
		for parent := archiveParentPath(entries[i].path); parent != ""; parent = archiveParentPath(parent) {
			if j, ok := byPath[parent]; ok {
				entries[j].dir = true

				break
			}
			add(archiveEntry{path: parent, dir: true, modified: entries[i].modified})
		}
	}

	return entries
}

// archiveTree is the directory structure of one archive, as seen from
// its owning node. Nodes are keyed by their normalized in-archive path.
type archiveTree struct {
	owner Node
	nodes btree.Map[string, *ArchivedNode]
}

// newArchiveTree promotes the entries level by level (0, 1, 2, ...) into
// the tree, so that the parent of every node is synthesized before it.
func newArchiveTree(fsys *FS, owner Node, locate archiveLocator, entries []archiveEntry) *archiveTree {
	t := &archiveTree{owner: owner}

	remaining := slices.Clone(entries)
	for level := 0; len(remaining) > 0; level++ {
		remaining = slices.DeleteFunc(remaining, func(e archiveEntry) bool {
			if NestingLevel(e.path) != level {
				return false
			}

			var parent Node = owner
			if p, ok := t.nodes.Get(archiveParentPath(e.path)); ok {
				parent = p
			}

			t.nodes.Set(e.path, &ArchivedNode{
				fsys:     fsys,
				owner:    owner,
				locate:   locate,
				raw:      e.raw,
				path:     e.path,
				dir:      e.dir,
				size:     e.size,
				modified: e.modified,
				parent:   parent,
			})

			return true
		})
	}

	return t
}

// topLevel returns all nodes at nesting level zero.
func (t *archiveTree) topLevel() []Node {
	var out []Node

	t.nodes.Scan(func(p string, n *ArchivedNode) bool {
		if NestingLevel(p) == 0 {
			out = append(out, n)
		}

		return true
	})

	return out
}

// childrenOf returns all nodes exactly one level below the directory,
// rebound to the requesting node as their parent.
func (t *archiveTree) childrenOf(dir *ArchivedNode) []Node {
	var out []Node

	prefix := dir.path + "/"
	level := NestingLevel(dir.path) + 1

	t.nodes.Ascend(prefix, func(p string, n *ArchivedNode) bool {
		if !strings.HasPrefix(p, prefix) {
			return false
		}
		if NestingLevel(p) == level {
			out = append(out, n.withParent(dir))
		}

		return true
	})

	return out
}

// archiveTree returns the tree of the archive behind the locator.
func (fsys *FS) archiveTree(ctx context.Context, owner Node, locate archiveLocator) (*archiveTree, error) {
	af, err := locate(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := fsys.archiveEntries(af)
	if err != nil {
		return nil, err
	}

	return newArchiveTree(fsys, owner, locate, entries), nil
}

// archiveChildren returns the top-level children of an archive node.
func (fsys *FS) archiveChildren(ctx context.Context, owner Node, locate archiveLocator) ([]Node, error) {
	t, err := fsys.archiveTree(ctx, owner, locate)
	if err != nil {
		return nil, err
	}

	return t.topLevel(), nil
}
