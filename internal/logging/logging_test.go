package logging

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: NewRingBuffer should create a buffer with the requested size.
func Test_NewRingBuffer_Success(t *testing.T) {
	t.Parallel()

	buf := NewRingBuffer(10, io.Discard)

	require.NotNil(t, buf)
	require.Equal(t, 10, buf.Size())
	require.Zero(t, buf.index)
	require.False(t, buf.full)
}

// Expectation: NewRingBuffer should never produce a zero-sized buffer or nil output.
func Test_NewRingBuffer_Degenerate_Success(t *testing.T) {
	t.Parallel()

	buf := NewRingBuffer(0, nil)
	require.Equal(t, 1, buf.Size())

	buf.Printf("survives %d", 1)
	require.Len(t, buf.Lines(), 1)
}

// Expectation: add should wrap around and keep the newest lines in order.
func Test_RingBuffer_add_WrapAround_Success(t *testing.T) {
	t.Parallel()

	buf := NewRingBuffer(3, io.Discard)

	for _, s := range []string{"first", "second", "third", "fourth", "fifth"} {
		buf.add(s)
	}

	require.Equal(t, []string{"third", "fourth", "fifth"}, buf.Lines())
}

// Expectation: Lines should return a copy that does not alias the buffer.
func Test_RingBuffer_Lines_ReturnsCopy_Success(t *testing.T) {
	t.Parallel()

	buf := NewRingBuffer(3, io.Discard)
	buf.add("a")
	buf.add("b")

	lines := buf.Lines()
	lines[0] = "MUTATED"

	require.Equal(t, []string{"a", "b"}, buf.Lines())
}

// Expectation: Reset should return the buffer to its empty state.
func Test_RingBuffer_Reset_Success(t *testing.T) {
	t.Parallel()

	buf := NewRingBuffer(5, io.Discard)
	buf.add("one")
	buf.add("two")
	buf.Reset()

	require.Empty(t, buf.Lines())
	require.Zero(t, buf.index)
	require.False(t, buf.full)
}

// Expectation: Printf should record a timestamped line and copy it to the output.
func Test_RingBuffer_Printf_Success(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	buf := NewRingBuffer(10, &out)

	buf.Printf("opened %q (%d entries)\n", "a.zip", 3)

	lines := buf.Lines()
	require.Len(t, lines, 1)
	require.True(t, strings.HasSuffix(lines[0], `opened "a.zip" (3 entries)`))
	require.Equal(t, lines[0]+"\n", out.String())
}

// Expectation: Println should join its arguments with spaces.
func Test_RingBuffer_Println_Success(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	buf := NewRingBuffer(10, &out)

	buf.Println("cache", "invalidated")

	require.Contains(t, buf.Lines()[0], "cache invalidated")
	require.Contains(t, out.String(), "cache invalidated\n")
}

// Expectation: Debugf should only record while Verbose is enabled.
func Test_RingBuffer_Debugf_Success(t *testing.T) {
	t.Parallel()

	buf := NewRingBuffer(10, io.Discard)

	buf.Debugf("hidden")
	require.Empty(t, buf.Lines())

	buf.Verbose.Store(true)
	buf.Debugf("shown %d", 1)

	lines := buf.Lines()
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "DEBUG: shown 1")
}

// Expectation: Concurrent writers should not lose or corrupt lines.
func Test_RingBuffer_Concurrency_Success(t *testing.T) {
	t.Parallel()

	buf := NewRingBuffer(100, io.Discard)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			for range 10 {
				buf.Printf("%s", strings.Repeat("x", i+1))
			}
		})
	}
	wg.Wait()

	require.Len(t, buf.Lines(), 100)
}

// Expectation: NewOutput should write to a rotating file when one is configured.
func Test_NewOutput_File_Success(t *testing.T) {
	t.Parallel()

	logFile := filepath.Join(t.TempDir(), "filebrowser.log")

	out, closer := NewOutput(RotationOptions{File: logFile, MaxSizeMB: 1})
	require.NotNil(t, out)

	buf := NewRingBuffer(5, out)
	buf.Println("to file")
	require.NoError(t, closer.Close())

	require.FileExists(t, logFile)
}

// Expectation: NewOutput without a file should return a harmless closer.
func Test_NewOutput_NoFile_Success(t *testing.T) {
	t.Parallel()

	out, closer := NewOutput(RotationOptions{})
	require.NotNil(t, out)
	require.NoError(t, closer.Close())
}
