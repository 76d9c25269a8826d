package vfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

var _ Node = (*ArchivedNode)(nil)

// ArchivedNode is a file or directory inside of an archive.
// An archived file which is itself a recognized archive (archive in
// archive) is materialized through the [Extractor] to be read as such.
type ArchivedNode struct {
	fsys *FS

	owner  Node           // The archive containing this node.
	locate archiveLocator // Materializes the owning archive.

	raw      string    // Stored entry name, empty when synthesized.
	path     string    // Normalized in-archive path.
	dir      bool      // Node is a directory.
	size     int64     // Reported uncompressed size, -1 when unknown.
	modified time.Time // Modified time of the entry.

	parent Node
}

func (n *ArchivedNode) Kind() Kind {
	return KindArchived
}

func (n *ArchivedNode) Name() string {
	return BaseName(n.path)
}

func (n *ArchivedNode) FullPath() string {
	return n.owner.FullPath() + "/" + n.path
}

func (n *ArchivedNode) IsDir() bool {
	return n.dir
}

func (n *ArchivedNode) HasParent() bool {
	return true
}

func (n *ArchivedNode) Size() int64 {
	if n.dir {
		return 0
	}

	return n.size
}

func (n *ArchivedNode) ModTime() time.Time {
	return n.modified
}

// Owner returns the archive node containing this node.
func (n *ArchivedNode) Owner() Node {
	return n.owner
}

// Path returns the normalized path of the node inside of its archive.
func (n *ArchivedNode) Path() string {
	return n.path
}

func (n *ArchivedNode) Parent(_ context.Context) (Node, error) {
	return n.parent, nil
}

func (n *ArchivedNode) Children(ctx context.Context) (_ []Node, err error) {
	defer func() { n.fsys.observe(n, "Children", err) }()

	switch {
	case n.dir:
		t, err := n.fsys.archiveTree(ctx, n.owner, n.locate)
		if err != nil {
			return nil, err
		}

		return t.childrenOf(n), nil

	case n.fsys.IsArchive(n):
		return n.fsys.archiveChildren(ctx, n, n.fsys.extractor.locator(n))

	default:
		return nil, fmt.Errorf("%w: %q is not a directory or archive", ErrNotApplicable, n.FullPath())
	}
}

func (n *ArchivedNode) Content(ctx context.Context) (_ io.ReadCloser, err error) {
	defer func() { n.fsys.observe(n, "Content", err) }()

	if n.dir {
		return nil, fmt.Errorf("%w: %q is a directory", ErrNotApplicable, n.FullPath())
	}

	if n.fsys.IsArchive(n) {
		p, err := n.fsys.extractor.Extract(ctx, n)
		if err != nil {
			return nil, err
		}

		f, err := os.Open(p)
		if err != nil {
			return nil, classify(err)
		}

		return f, nil
	}

	data, err := n.readAll(ctx)
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// readAll buffers the decompressed entry into memory. Entries over the
// content ceiling are rejected by their reported size, and also while
// copying, in case the reported size cannot be trusted.
func (n *ArchivedNode) readAll(ctx context.Context) ([]byte, error) {
	ceiling := n.fsys.Options.ContentCeiling.Load()

	if n.size > ceiling {
		return nil, fmt.Errorf("%w: %q reports %d bytes (ceiling %d)", ErrContentTooLarge, n.FullPath(), n.size, ceiling)
	}

	af, err := n.locate(ctx)
	if err != nil {
		return nil, err
	}

	zr, err := n.fsys.openArchive(af)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	f, err := zr.find(n.raw)
	if err != nil {
		return nil, err
	}

	rc, err := f.Open()
	if err != nil {
		return nil, archiveErr(err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if n.size > 0 {
		buf.Grow(int(n.size))
	}

	cnt, err := io.Copy(&buf, io.LimitReader(rc, ceiling+1))
	if err != nil {
		return nil, archiveErr(err)
	}
	if cnt > ceiling {
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrContentTooLarge, n.FullPath(), ceiling)
	}

	n.fsys.Metrics.TotalExtractCount.Add(1)
	n.fsys.Metrics.TotalExtractBytes.Add(cnt)

	return buf.Bytes(), nil
}

// withParent returns a copy of the node with the given parent.
func (n *ArchivedNode) withParent(parent Node) *ArchivedNode {
	c := *n
	c.parent = parent

	return &c
}
