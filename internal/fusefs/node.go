package fusefs

import (
	"context"
	"os"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/filebrowser/internal/vfs"
)

var (
	_ fs.Node               = (*node)(nil)
	_ fs.HandleReadDirAller = (*node)(nil)
	_ fs.NodeStringLookuper = (*node)(nil)
	_ fs.NodeOpener         = (*node)(nil)
)

// node presents one [vfs.Node] to the kernel.
type node struct {
	fs    *FS      // Pointer to our filesystem.
	vn    vfs.Node // The presented node.
	inode uint64   // Inode within our filesystem.
}

// browsable reports if the node is presented as a directory.
func (n *node) browsable() bool {
	return n.vn.IsDir() || n.fs.fsys.IsArchive(n.vn)
}

func (n *node) Attr(_ context.Context, a *fuse.Attr) error {
	a.Inode = n.inode

	if n.browsable() {
		a.Mode = os.ModeDir | dirBasePerm
	} else {
		a.Mode = fileBasePerm
		if size := n.vn.Size(); size > 0 {
			a.Size = uint64(size) //nolint:gosec
		}
	}

	mtime := n.vn.ModTime()
	a.Atime = mtime
	a.Ctime = mtime
	a.Mtime = mtime

	return nil
}

func (n *node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	children, err := n.children(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(children))
	resp := make([]fuse.Dirent, 0, len(children))

	for _, c := range children {
		name := c.Name()
		if seen[name] {
			continue
		}
		seen[name] = true

		typ := fuse.DT_File
		if c.IsDir() || n.fs.fsys.IsArchive(c) {
			typ = fuse.DT_Dir
		}

		resp = append(resp, fuse.Dirent{
			Name:  name,
			Type:  typ,
			Inode: fs.GenerateDynamicInode(n.inode, name),
		})
	}

	return resp, nil
}

func (n *node) Lookup(ctx context.Context, name string) (fs.Node, error) {
	children, err := n.children(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range children {
		if c.Name() == name {
			return &node{
				fs:    n.fs,
				vn:    c,
				inode: fs.GenerateDynamicInode(n.inode, name),
			}, nil
		}
	}

	return nil, fuse.ToErrno(syscall.ENOENT)
}

func (n *node) Open(ctx context.Context, _ *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if n.browsable() {
		return n, nil
	}

	size := n.vn.Size()
	if size >= 0 && size <= n.fs.StreamingThreshold.Load() {
		return &memHandle{node: n}, nil
	}

	rc, err := n.vn.Content(ctx)
	if err != nil {
		n.fs.rbuf.Printf("Error: %q->Open: %v\n", n.vn.FullPath(), err)

		return nil, toFuseErr(err)
	}

	if size < 0 {
		resp.Flags |= fuse.OpenDirectIO
	}
	n.fs.Metrics.OpenHandles.Add(1)

	return &streamHandle{node: n, rc: rc}, nil
}

func (n *node) children(ctx context.Context) ([]vfs.Node, error) {
	if !n.browsable() {
		return nil, fuse.ToErrno(syscall.ENOTDIR)
	}

	children, err := n.vn.Children(ctx)
	if err != nil {
		n.fs.rbuf.Printf("Error: %q->ReadDirAll: %v\n", n.vn.FullPath(), err)

		return nil, toFuseErr(err)
	}
	vfs.SortNodes(children)

	return children, nil
}
