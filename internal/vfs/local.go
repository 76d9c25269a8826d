package vfs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var _ Node = (*LocalNode)(nil)

// LocalNode is a file or directory on local disk.
// Its ancestors are built along with it, so it never resolves a parent lazily.
type LocalNode struct {
	fsys *FS

	path     string    // Absolute path on local disk.
	dir      bool      // Node is a directory (following symlinks).
	size     int64     // Size of the file, -1 when unknown.
	modified time.Time // Modified time of the file.

	parent *LocalNode // Nil at the filesystem root.
}

// Local returns the node at the given path on local disk, with its full
// ancestor chain built top-down from the filesystem root.
func (fsys *FS) Local(path string) (*LocalNode, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", abs, classify(err))
	}

	vol := filepath.VolumeName(abs)
	sep := string(filepath.Separator)

	cur := fsys.localAt(nil, vol+sep)
	for seg := range strings.SplitSeq(strings.Trim(abs[len(vol):], sep), sep) {
		if seg == "" {
			continue
		}
		cur = fsys.localAt(cur, filepath.Join(cur.path, seg))
	}

	cur.dir = info.IsDir()
	cur.size = info.Size()
	cur.modified = info.ModTime()

	return cur, nil
}

// localAt returns an ancestor node, which is a directory by construction.
func (fsys *FS) localAt(parent *LocalNode, path string) *LocalNode {
	n := &LocalNode{
		fsys:   fsys,
		path:   path,
		dir:    true,
		size:   -1,
		parent: parent,
	}
	if info, err := os.Stat(path); err == nil {
		n.size = info.Size()
		n.modified = info.ModTime()
	}

	return n
}

func (n *LocalNode) Kind() Kind {
	return KindLocal
}

func (n *LocalNode) Name() string {
	if n.parent == nil {
		return n.path
	}

	return filepath.Base(n.path)
}

func (n *LocalNode) FullPath() string {
	return n.path
}

func (n *LocalNode) IsDir() bool {
	return n.dir
}

func (n *LocalNode) HasParent() bool {
	return n.parent != nil
}

func (n *LocalNode) Size() int64 {
	return n.size
}

func (n *LocalNode) ModTime() time.Time {
	return n.modified
}

func (n *LocalNode) Parent(_ context.Context) (Node, error) {
	if n.parent == nil {
		return nil, nil
	}

	return n.parent, nil
}

func (n *LocalNode) Children(ctx context.Context) (_ []Node, err error) {
	defer func() { n.fsys.observe(n, "Children", err) }()

	if !n.dir {
		if n.fsys.IsArchive(n) {
			return n.fsys.archiveChildren(ctx, n, localArchive(n.path))
		}

		return nil, fmt.Errorf("%w: %q is not a directory or archive", ErrNotApplicable, n.path)
	}

	entries, err := os.ReadDir(n.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dir %q: %w", n.path, classify(err))
	}

	realDir, err := filepath.EvalSymlinks(n.path)
	if err != nil {
		realDir = n.path
	}

	children := make([]Node, 0, len(entries))
	for _, e := range entries {
		p := filepath.Join(n.path, e.Name())

		if isJunction(n.fsys.canRead, p, filepath.Join(realDir, e.Name())) {
			n.fsys.rbuf.Debugf("Skipping junction %q\n", p)

			continue
		}

		child := &LocalNode{
			fsys:   n.fsys,
			path:   p,
			size:   -1,
			parent: n,
		}

		if info, err := os.Stat(p); err == nil {
			child.dir = info.IsDir()
			child.size = info.Size()
			child.modified = info.ModTime()
		} else if info, err := e.Info(); err == nil {
			child.size = info.Size()
			child.modified = info.ModTime()
		}

		children = append(children, child)
	}

	return children, nil
}

func (n *LocalNode) Content(_ context.Context) (_ io.ReadCloser, err error) {
	defer func() { n.fsys.observe(n, "Content", err) }()

	if n.dir {
		return nil, fmt.Errorf("%w: %q is a directory", ErrNotApplicable, n.path)
	}

	f, err := os.Open(n.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", n.path, classify(err))
	}

	return &bufferedFile{Reader: bufio.NewReader(f), f: f}, nil
}

// isJunction reports if an entry redirects elsewhere and cannot be read,
// which is what loops through junctions (or reparse points) look like.
// The expected path is the entry below the canonical form of its directory.
func isJunction(canRead func(string) bool, p, expected string) bool {
	if canRead(p) {
		return false
	}

	canonical, err := filepath.EvalSymlinks(p)

	return err == nil && canonical != expected
}

type bufferedFile struct {
	*bufio.Reader

	f *os.File
}

func (b *bufferedFile) Close() error {
	return b.f.Close() //nolint:wrapcheck
}
