package vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var _ Node = (*RemoteNode)(nil)

// RemoteEntry is one entry of a remote directory listing.
type RemoteEntry struct {
	Name    string
	IsDir   bool
	Size    int64     // -1 when unknown
	ModTime time.Time // zero when unknown
}

// Dialer establishes sessions with one remote origin.
type Dialer interface {
	// Origin returns the "host:port" key identifying the remote.
	Origin() string

	// Dial returns a new, logged-in [Session].
	Dial(ctx context.Context) (Session, error)
}

// Session is one stateful connection to a remote origin.
// It is used for exactly one operation and closed afterwards.
type Session interface {
	// List returns the entries of the remote directory.
	List(ctx context.Context, path string) ([]RemoteEntry, error)

	// CurrentDir returns the current working directory.
	CurrentDir(ctx context.Context) (string, error)

	// ChangeDir changes the working directory, false means it was refused.
	// A refusal for lack of permission is an error wrapping [ErrPermission].
	ChangeDir(ctx context.Context, path string) (bool, error)

	// ChangeDirToParent changes to the parent, false means it was refused.
	ChangeDirToParent(ctx context.Context) (bool, error)

	// Retrieve copies the content of the remote file into the writer.
	// A refusal for lack of permission is an error wrapping [ErrPermission].
	Retrieve(ctx context.Context, path string, w io.Writer) error

	// NoOp tests the session without side effects.
	NoOp(ctx context.Context) error

	// Close ends the session.
	Close() error
}

// Origin is one remote source of content, with the local copies of that
// content kept in a partition of the [FS] cache store.
type Origin struct {
	fsys   *FS
	dialer Dialer
	key    string
	group  singleflight.Group
}

// Remote returns the [Origin] for the remote that is reached through the dialer.
func (fsys *FS) Remote(dialer Dialer) *Origin {
	return &Origin{
		fsys:   fsys,
		dialer: dialer,
		key:    dialer.Origin(),
	}
}

// Key returns the "host:port" key of the [Origin].
func (o *Origin) Key() string {
	return o.key
}

// Root returns the node of the root directory of the [Origin].
func (o *Origin) Root() *RemoteNode {
	return o.Node("/", true)
}

// Node returns the node at the given remote path. Its parent is resolved
// lazily, since the remote layout is not known in advance.
func (o *Origin) Node(p string, dir bool) *RemoteNode {
	return &RemoteNode{
		origin: o,
		path:   cleanRemote(p),
		dir:    dir,
		size:   -1,
	}
}

// TestConnection establishes a session and tests it.
func (o *Origin) TestConnection(ctx context.Context) error {
	s, err := o.session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.NoOp(ctx); err != nil {
		return fmt.Errorf("%w: noop: %w", ErrRemoteProtocol, err)
	}

	return nil
}

// InitialDirectory returns the node of the directory a new session starts
// in, which is the root directory when the remote does not report one.
func (o *Origin) InitialDirectory(ctx context.Context) (*RemoteNode, error) {
	s, err := o.session(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	cwd, err := s.CurrentDir(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: pwd: %w", ErrRemoteProtocol, err)
	}
	if cwd == "" {
		cwd = "/"
	}

	return o.Node(cwd, true), nil
}

func (o *Origin) session(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	s, err := o.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %q: %w", ErrRemoteProtocol, o.key, err)
	}
	o.fsys.Metrics.TotalSessions.Add(1)

	return s, nil
}

// probeParent resolves the parent of a remote directory by changing into it
// and then to its parent. The session is always changed back, as failing
// to do so leaves it in an unknown state.
func (o *Origin) probeParent(ctx context.Context, p string) (Node, error) {
	s, err := o.session(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	ok, err := s.ChangeDir(ctx, p)
	if err != nil {
		return nil, remoteErr("cwd", p, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, p)
	}

	ok, err = s.ChangeDirToParent(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: cdup from %q: %w", ErrRemoteProtocol, p, err)
	}
	if !ok {
		return nil, nil
	}

	cwd, err := s.CurrentDir(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: pwd: %w", ErrRemoteProtocol, err)
	}

	back, err := s.ChangeDir(ctx, p)
	if err != nil || !back {
		return nil, errors.Join(
			fmt.Errorf("%w: could not change back to %q", ErrRemoteProtocol, p), err)
	}

	if cwd == "" {
		cwd = "/"
	}
	if cleanRemote(cwd) == p {
		return nil, nil
	}

	return o.Node(cwd, true), nil
}

// localCopy returns the materialized content of a remote file. Content is
// served from the cache store while fresh and downloaded otherwise, with
// concurrent downloads of the same file collapsed into one.
func (o *Origin) localCopy(ctx context.Context, p string) (archiveFile, error) {
	if blob, ok := o.fsys.Cache.Get(o.key, p); ok {
		return archiveFile{path: blob}, nil
	}

	v, err, _ := o.group.Do(p, func() (any, error) {
		if blob, ok := o.fsys.Cache.Get(o.key, p); ok {
			return archiveFile{path: blob}, nil
		}

		return o.download(ctx, p)
	})
	if err != nil {
		return archiveFile{}, err //nolint:wrapcheck
	}

	return v.(archiveFile), nil //nolint:forcetypeassert
}

// download stores a remote file in the cache store. When that is not
// possible, it falls back to retrieving the file into memory.
func (o *Origin) download(ctx context.Context, p string) (archiveFile, error) {
	af, err := o.downloadToCache(ctx, p)
	if err == nil || !errors.Is(err, ErrCacheWrite) {
		return af, err
	}

	o.fsys.rbuf.Printf("Error: %q->cache: %v (falling back to memory)\n", o.key+p, err)
	o.fsys.Metrics.TotalCacheFallbacks.Add(1)

	af, ferr := o.downloadToMemory(ctx, p)
	if ferr != nil {
		return archiveFile{}, fmt.Errorf("%w (after %w)", ferr, err)
	}

	return af, nil
}

// downloadToCache stores a remote file in the cache store, failures of the
// local disk are returned as [ErrCacheWrite]. No partial blob is ever kept.
func (o *Origin) downloadToCache(ctx context.Context, p string) (archiveFile, error) {
	blob, err := o.fsys.Cache.Create(o.key, p)
	if err != nil {
		return archiveFile{}, fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}

	s, err := o.session(ctx)
	if err != nil {
		blob.Abort()

		return archiveFile{}, err
	}
	defer s.Close()

	cnt := &countingWriter{w: blob}
	if err := s.Retrieve(ctx, p, cnt); err != nil {
		blob.Abort()

		if blob.Failed() {
			return archiveFile{}, fmt.Errorf("%w: %w", ErrCacheWrite, err)
		}

		return archiveFile{}, remoteErr("retrieve", p, err)
	}

	stored, err := blob.Commit()
	if err != nil {
		return archiveFile{}, fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}

	o.fsys.Metrics.TotalDownloads.Add(1)
	o.fsys.Metrics.TotalDownloadBytes.Add(cnt.n)
	o.fsys.rbuf.Debugf("Downloaded %q (%d bytes)\n", o.key+p, cnt.n)

	return archiveFile{path: stored}, nil
}

// downloadToMemory retrieves a remote file, bounded by the content ceiling.
func (o *Origin) downloadToMemory(ctx context.Context, p string) (archiveFile, error) {
	s, err := o.session(ctx)
	if err != nil {
		return archiveFile{}, err
	}
	defer s.Close()

	buf := &boundedBuffer{limit: o.fsys.Options.ContentCeiling.Load()}
	if err := s.Retrieve(ctx, p, buf); err != nil {
		if errors.Is(err, ErrContentTooLarge) {
			return archiveFile{}, fmt.Errorf("%w: %q exceeds %d bytes", ErrContentTooLarge, p, buf.limit)
		}

		return archiveFile{}, remoteErr("retrieve", p, err)
	}

	o.fsys.Metrics.TotalDownloads.Add(1)
	o.fsys.Metrics.TotalDownloadBytes.Add(int64(buf.buf.Len()))

	return archiveFile{data: buf.buf.Bytes()}, nil
}

// remoteErr wraps a failed session command. A denial by the server stays
// an [ErrPermission], everything else is an [ErrRemoteProtocol].
func remoteErr(op, p string, err error) error {
	if errors.Is(err, ErrPermission) {
		return fmt.Errorf("%s %q: %w", op, p, err)
	}

	return fmt.Errorf("%w: %s %q: %w", ErrRemoteProtocol, op, p, err)
}

// RemoteNode is a file or directory on a remote origin.
type RemoteNode struct {
	origin *Origin

	path     string    // Cleaned absolute remote path.
	dir      bool      // Node is a directory.
	size     int64     // Size of the file, -1 when unknown.
	modified time.Time // Modified time of the file.

	mu       sync.Mutex
	parent   Node // Nil at the remote root.
	resolved bool // Parent is known (a failed resolution is retried).
}

func (n *RemoteNode) Kind() Kind {
	return KindRemote
}

func (n *RemoteNode) Name() string {
	if n.path == "/" {
		return "/"
	}

	return path.Base(n.path)
}

func (n *RemoteNode) FullPath() string {
	return n.origin.key + n.path
}

// Path returns the remote path of the node.
func (n *RemoteNode) Path() string {
	return n.path
}

// Origin returns the [Origin] the node lives on.
func (n *RemoteNode) Origin() *Origin {
	return n.origin
}

func (n *RemoteNode) IsDir() bool {
	return n.dir
}

func (n *RemoteNode) HasParent() bool {
	return n.path != "/"
}

func (n *RemoteNode) Size() int64 {
	return n.size
}

func (n *RemoteNode) ModTime() time.Time {
	return n.modified
}

// Parent returns the parent of the node, which is probed on the remote
// for directories that were not reached through their parent. Files use
// their lexical parent instead.
func (n *RemoteNode) Parent(ctx context.Context) (_ Node, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.resolved {
		return n.parent, nil
	}

	var parent Node

	switch {
	case !n.HasParent():

	case !n.dir:
		parent = n.origin.Node(path.Dir(n.path), true)

	default:
		parent, err = n.origin.probeParent(ctx, n.path)
		if err != nil {
			n.origin.fsys.observe(n, "Parent", err)

			return nil, err
		}
	}

	n.parent = parent
	n.resolved = true

	return parent, nil
}

func (n *RemoteNode) Children(ctx context.Context) (_ []Node, err error) {
	defer func() { n.origin.fsys.observe(n, "Children", err) }()

	if !n.dir {
		if n.origin.fsys.IsArchive(n) {
			return n.origin.fsys.archiveChildren(ctx, n, n.locator())
		}

		return nil, fmt.Errorf("%w: %q is not a directory or archive", ErrNotApplicable, n.FullPath())
	}

	s, err := n.origin.session(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	ok, err := s.ChangeDir(ctx, n.path)
	if err != nil {
		return nil, remoteErr("cwd", n.path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, n.FullPath())
	}

	entries, err := s.List(ctx, n.path)
	if err != nil {
		return nil, remoteErr("list", n.path, err)
	}

	children := make([]Node, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" || e.Name == "." || e.Name == ".." {
			continue
		}

		children = append(children, &RemoteNode{
			origin:   n.origin,
			path:     JoinRemote(n.path, e.Name),
			dir:      e.IsDir,
			size:     e.Size,
			modified: e.ModTime,
			parent:   n,
			resolved: true,
		})
	}

	return children, nil
}

func (n *RemoteNode) Content(ctx context.Context) (_ io.ReadCloser, err error) {
	defer func() { n.origin.fsys.observe(n, "Content", err) }()

	if n.dir {
		return nil, fmt.Errorf("%w: %q is a directory", ErrNotApplicable, n.FullPath())
	}

	af, err := n.origin.localCopy(ctx, n.path)
	if err != nil {
		return nil, err
	}

	if af.path == "" {
		return io.NopCloser(bytes.NewReader(af.data)), nil
	}

	f, err := os.Open(af.path)
	if err != nil {
		return nil, classify(err)
	}

	return f, nil
}

// locator returns an [archiveLocator] which keeps a fresh local copy.
func (n *RemoteNode) locator() archiveLocator {
	return func(ctx context.Context) (archiveFile, error) {
		return n.origin.localCopy(ctx, n.path)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err //nolint:wrapcheck
}

// boundedBuffer is an in-memory sink refusing to grow over its limit.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int64
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len()+len(p)) > b.limit {
		return 0, ErrContentTooLarge
	}

	return b.buf.Write(p) //nolint:wrapcheck
}
