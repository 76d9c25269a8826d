package vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertwitch/filebrowser/internal/logging"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

type testEntry struct {
	Path    string
	Content []byte // optional, only for files (can be nil)
}

// newTestFS returns a [FS] with all scratch storage below a test directory.
func newTestFS(t *testing.T) *FS {
	t.Helper()

	opts := DefaultOptions()
	opts.TempDir = t.TempDir()

	fsys, err := NewFS(opts, logging.NewRingBuffer(100, io.Discard))
	require.NoError(t, err)
	t.Cleanup(fsys.Cleanup)

	return fsys
}

// zipBytes returns a zip archive with the given entries.
// Each path can be a file (no trailing slash) or directory (with trailing slash).
func zipBytes(t *testing.T, entries []testEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, entry := range entries {
		header := &zip.FileHeader{
			Name:     entry.Path,
			Method:   zip.Deflate,
			Modified: time.Now(),
		}

		if strings.HasSuffix(entry.Path, "/") {
			header.SetMode(os.ModeDir | 0o755)
		} else {
			header.SetMode(0o644)
		}

		w, err := zw.CreateHeader(header)
		require.NoError(t, err)

		if len(entry.Content) > 0 && !strings.HasSuffix(entry.Path, "/") {
			_, err = w.Write(entry.Content)
			require.NoError(t, err)
		}
	}

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// createTestZip creates a zip file for testing with the given entries.
// Returns the path to the created zip file.
func createTestZip(t *testing.T, tmpDir string, tmpName string, entries []testEntry) string {
	t.Helper()

	p := filepath.Join(tmpDir, tmpName)
	require.NoError(t, os.WriteFile(p, zipBytes(t, entries), 0o644))

	return p
}

// countFiles returns the number of regular files below root.
func countFiles(t *testing.T, root string) int {
	t.Helper()

	cnt := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			cnt++
		}

		return nil
	})
	require.NoError(t, err)

	return cnt
}

// names returns the sorted names of the nodes.
func names(nodes []Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name())
	}
	sort.Strings(out)

	return out
}

// fakeRemote is an in-memory remote tree for the [fakeDialer].
type fakeRemote struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string][]byte

	initialDir     string
	failChangeBack bool
	failDial       bool
	abortRetrieve  bool // Transfers break off after half of the content.
	denied         map[string]bool

	dials      atomic.Int64
	closes     atomic.Int64
	retrievals atomic.Int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		dirs:       map[string]bool{"/": true},
		files:      map[string][]byte{},
		initialDir: "/",
	}
}

func (r *fakeRemote) addFile(p string, content []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.files[p] = content
	for d := path.Dir(p); d != "/"; d = path.Dir(d) {
		r.dirs[d] = true
	}
}

func (r *fakeRemote) addDir(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for d := p; d != "/"; d = path.Dir(d) {
		r.dirs[d] = true
	}
}

type fakeDialer struct {
	remote *fakeRemote
	origin string
}

func (d *fakeDialer) Origin() string {
	return d.origin
}

func (d *fakeDialer) Dial(_ context.Context) (Session, error) {
	if d.remote.failDial {
		return nil, errors.New("connection refused")
	}
	d.remote.dials.Add(1)

	return &fakeSession{remote: d.remote, cwd: d.remote.initialDir}, nil
}

type fakeSession struct {
	remote *fakeRemote
	cwd    string
	wentUp bool
}

func (s *fakeSession) List(_ context.Context, p string) ([]RemoteEntry, error) {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()

	if !s.remote.dirs[p] {
		return nil, errors.New("550 no such directory")
	}

	out := []RemoteEntry{{Name: ".", IsDir: true}, {Name: "..", IsDir: true}}
	for d := range s.remote.dirs {
		if d != "/" && path.Dir(d) == p {
			out = append(out, RemoteEntry{Name: path.Base(d), IsDir: true, Size: -1})
		}
	}
	for f, content := range s.remote.files {
		if path.Dir(f) == p {
			out = append(out, RemoteEntry{Name: path.Base(f), Size: int64(len(content))})
		}
	}

	return out, nil
}

func (s *fakeSession) CurrentDir(_ context.Context) (string, error) {
	return s.cwd, nil
}

func (s *fakeSession) ChangeDir(_ context.Context, p string) (bool, error) {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()

	if s.wentUp && s.remote.failChangeBack {
		return false, nil
	}
	if s.remote.denied[p] {
		return false, fmt.Errorf("%w: 550 %s: Permission denied", ErrPermission, p)
	}
	if !s.remote.dirs[p] {
		return false, nil
	}
	s.cwd = p

	return true, nil
}

func (s *fakeSession) ChangeDirToParent(_ context.Context) (bool, error) {
	if s.cwd == "/" {
		return false, nil
	}
	s.cwd = path.Dir(s.cwd)
	s.wentUp = true

	return true, nil
}

func (s *fakeSession) Retrieve(_ context.Context, p string, w io.Writer) error {
	s.remote.mu.Lock()
	content, ok := s.remote.files[p]
	s.remote.mu.Unlock()

	if !ok {
		return errors.New("550 no such file")
	}
	s.remote.retrievals.Add(1)

	if s.remote.abortRetrieve {
		if _, err := w.Write(content[:len(content)/2]); err != nil {
			return err
		}

		return errors.New("426 connection closed; transfer aborted")
	}

	_, err := w.Write(content)

	return err
}

func (s *fakeSession) NoOp(_ context.Context) error {
	return nil
}

func (s *fakeSession) Close() error {
	s.remote.closes.Add(1)

	return nil
}
