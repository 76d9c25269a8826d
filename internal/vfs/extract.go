package vfs

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"
)

const extractHashDigits = 16

// Extractor materializes archives nested inside of other archives to files
// on local disk, so they can be opened with random access. An extracted
// archive is reused for the lifetime of the [FS], which removes it on
// Cleanup(). It is safe for concurrent use.
type Extractor struct {
	fsys  *FS
	root  string
	group singleflight.Group
}

func newExtractor(fsys *FS, root string) *Extractor {
	return &Extractor{fsys: fsys, root: root}
}

// Path returns the deterministic location of the materialized node.
func (e *Extractor) Path(n *ArchivedNode) string {
	sum := sha1.Sum([]byte(n.FullPath())) //nolint:gosec
	hash := hex.EncodeToString(sum[:])

	return filepath.Join(e.root, hash[:extractHashDigits], n.Name())
}

// Extract returns the path of the materialized node, extracting it from its
// owning archive unless that has happened before. A failed extraction never
// leaves a partial file behind.
func (e *Extractor) Extract(ctx context.Context, n *ArchivedNode) (string, error) {
	if n.dir {
		return "", fmt.Errorf("%w: %q is a directory", ErrNotApplicable, n.FullPath())
	}

	dst := e.Path(n)
	if exists(dst) {
		return dst, nil
	}

	_, err, _ := e.group.Do(dst, func() (any, error) {
		if exists(dst) {
			return nil, nil
		}

		return nil, e.extract(ctx, n, dst)
	})
	if err != nil {
		return "", err
	}

	return dst, nil
}

func (e *Extractor) extract(ctx context.Context, n *ArchivedNode, dst string) error {
	af, err := n.locate(ctx)
	if err != nil {
		return err
	}

	zr, err := e.fsys.openArchive(af)
	if err != nil {
		return err
	}
	defer zr.Close()

	f, err := zr.find(n.raw)
	if err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return archiveErr(err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), scratchPerm); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".part-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}

	cnt, err := copyCounting(tmp, rc)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %w", ErrCacheWrite, cerr)
	}
	if err == nil {
		if rerr := os.Rename(tmp.Name(), dst); rerr != nil {
			err = fmt.Errorf("%w: %w", ErrCacheWrite, rerr)
		}
	}
	if err != nil {
		_ = os.Remove(tmp.Name())

		return err
	}

	e.fsys.Metrics.TotalNestedExtracts.Add(1)
	e.fsys.Metrics.TotalExtractBytes.Add(cnt)
	e.fsys.rbuf.Debugf("Extracted %q (%d bytes)\n", n.FullPath(), cnt)

	return nil
}

// locator returns an [archiveLocator] for a nested archive.
func (e *Extractor) locator(n *ArchivedNode) archiveLocator {
	return func(ctx context.Context) (archiveFile, error) {
		p, err := e.Extract(ctx, n)
		if err != nil {
			return archiveFile{}, err
		}

		return archiveFile{path: p}, nil
	}
}

// copyCounting copies from an archive entry into a local file,
// telling apart read (archive) from write (local disk) failures.
func copyCounting(dst io.Writer, src io.Reader) (int64, error) {
	w := &errWriter{w: dst}

	cnt, err := io.Copy(w, src)
	switch {
	case w.err != nil:
		return cnt, fmt.Errorf("%w: %w", ErrCacheWrite, w.err)
	case err != nil:
		return cnt, archiveErr(err)
	}

	return cnt, nil
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	n, err := ew.w.Write(p)
	if err != nil {
		ew.err = err
	}

	return n, err //nolint:wrapcheck
}

func exists(p string) bool {
	info, err := os.Stat(p)

	return err == nil && info.Mode().IsRegular()
}
