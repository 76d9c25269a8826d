package fusefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

var (
	_ fs.HandleReadAller = (*memHandle)(nil)

	_ fs.HandleReader   = (*streamHandle)(nil)
	_ fs.HandleReleaser = (*streamHandle)(nil)
)

// memHandle serves the entire content from memory.
type memHandle struct {
	node *node
}

func (h *memHandle) ReadAll(ctx context.Context) ([]byte, error) {
	rc, err := h.node.vn.Content(ctx)
	if err != nil {
		h.node.fs.rbuf.Printf("Error: %q->ReadAll: %v\n", h.node.vn.FullPath(), err)

		return nil, toFuseErr(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		h.node.fs.rbuf.Printf("Error: %q->ReadAll: IO Error: %v\n", h.node.vn.FullPath(), err)

		return nil, toFuseErr(err)
	}
	h.node.fs.Metrics.TotalReadBytes.Add(int64(len(data)))

	return data, nil
}

// streamHandle serves the content in chunks as requested by the kernel.
// Reads are forward-only; a rewind reopens the content from its start.
type streamHandle struct {
	sync.Mutex

	node *node
	rc   io.ReadCloser
	pos  int64
}

func (h *streamHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.Lock()
	defer h.Unlock()

	if err := h.forwardTo(ctx, req.Offset); err != nil {
		h.node.fs.rbuf.Printf("Error: %q->Forward: %v\n", h.node.vn.FullPath(), err)

		return toFuseErr(err)
	}

	buf := make([]byte, req.Size)

	n, err := io.ReadFull(h.rc, buf)
	h.pos += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		h.node.fs.rbuf.Printf("Error: %q->Read: IO Error: %v\n", h.node.vn.FullPath(), err)

		return toFuseErr(err)
	}

	resp.Data = buf[:n]
	h.node.fs.Metrics.TotalReadBytes.Add(int64(n))

	return nil
}

// forwardTo advances the reader position to the specified offset.
func (h *streamHandle) forwardTo(ctx context.Context, offset int64) error {
	if offset == h.pos {
		return nil
	}

	if seeker, ok := h.rc.(io.Seeker); ok {
		n, err := seeker.Seek(offset, io.SeekStart)
		h.pos = n
		if err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}

		return nil
	}

	if offset < h.pos {
		rc, err := h.node.vn.Content(ctx)
		if err != nil {
			return fmt.Errorf("failed to reopen: %w", err)
		}
		_ = h.rc.Close()
		h.rc = rc
		h.pos = 0
		h.node.fs.Metrics.TotalReopens.Add(1)
	}

	n, err := io.CopyN(io.Discard, h.rc, offset-h.pos)
	h.pos += n
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to discard: %w", err)
	}

	return nil
}

func (h *streamHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	h.Lock()
	defer h.Unlock()

	h.node.fs.Metrics.OpenHandles.Add(-1)

	return h.rc.Close() //nolint:wrapcheck
}
