// Package fusefs implements a read-only FUSE filesystem over any [vfs.Node].
//
// Directories and recognized archives are both presented as directories,
// so that archives (and archives inside of them) can be browsed with any
// regular program. All other nodes are presented as regular files.
package fusefs

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/filebrowser/internal/logging"
	"github.com/desertwitch/filebrowser/internal/vfs"
)

const (
	fileBasePerm = 0o444 // RO
	dirBasePerm  = 0o555 // RO

	defaultStreamingThreshold = 10 * 1024 * 1024 // 10MiB
)

var (
	_ fs.FS = (*FS)(nil)

	errMissingArgument = errors.New("missing argument")
)

// Metrics contains all metrics which are collected within the [FS].
type Metrics struct {
	// OpenHandles is the amount of currently open file handles.
	OpenHandles atomic.Int64

	// TotalReadBytes is the amount of bytes served to the kernel.
	TotalReadBytes atomic.Int64

	// TotalReopens is the amount of content reopened for a rewind.
	TotalReopens atomic.Int64
}

// FS is the FUSE filesystem presenting the tree below a root [vfs.Node].
type FS struct {
	fsys *vfs.FS
	root vfs.Node

	// StreamingThreshold is the size over which file content is no longer
	// fully loaded into memory, but rather streamed as requested by the kernel.
	// Content of unknown size is always streamed.
	StreamingThreshold atomic.Int64

	Metrics *Metrics

	rbuf *logging.RingBuffer
}

// New returns a pointer to a new [FS] presenting the tree below root.
func New(fsys *vfs.FS, root vfs.Node, rbuf *logging.RingBuffer) (*FS, error) {
	if fsys == nil {
		return nil, fmt.Errorf("%w: need a vfs", errMissingArgument)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: need a root node", errMissingArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}

	f := &FS{
		fsys:    fsys,
		root:    root,
		Metrics: &Metrics{},
		rbuf:    rbuf,
	}
	f.StreamingThreshold.Store(defaultStreamingThreshold)

	return f, nil
}

// Root returns the entry-point [fs.Node] of the filesystem.
func (f *FS) Root() (fs.Node, error) {
	return &node{fs: f, vn: f.root, inode: 1}, nil
}

// toFuseErr maps the errors of the nodes onto FUSE error numbers.
func toFuseErr(err error) error {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return fuse.ToErrno(syscall.ENOENT)

	case errors.Is(err, vfs.ErrPermission):
		return fuse.ToErrno(syscall.EACCES)

	case errors.Is(err, vfs.ErrNotApplicable):
		return fuse.ToErrno(syscall.ENOTDIR)

	case errors.Is(err, vfs.ErrArchiveFormat):
		return fuse.ToErrno(syscall.EINVAL)

	case errors.Is(err, vfs.ErrContentTooLarge):
		return fuse.ToErrno(syscall.EFBIG)

	case errors.Is(err, os.ErrNotExist):
		return fuse.ToErrno(syscall.ENOENT)

	default:
		return fuse.ToErrno(syscall.EIO)
	}
}
