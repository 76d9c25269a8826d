// Package logging implements the handling of logs.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02 15:04:05"

// RingBuffer keeps the most recent log lines in memory (for the dashboard)
// while also copying every line to an output stream.
type RingBuffer struct {
	mu    sync.Mutex
	out   io.Writer
	buf   []string
	index int
	full  bool
	size  int

	// Verbose enables the output of [RingBuffer.Debugf] messages.
	Verbose atomic.Bool
}

// NewRingBuffer returns a pointer to a new [RingBuffer].
// A size below one is raised to one.
func NewRingBuffer(size int, out io.Writer) *RingBuffer {
	size = max(1, size)
	if out == nil {
		out = io.Discard
	}

	return &RingBuffer{
		out:  out,
		buf:  make([]string, size),
		size: size,
	}
}

// RotationOptions configure the optional rotating log file.
type RotationOptions struct {
	File       string // Path of the log file, no file is written when empty.
	MaxSizeMB  int    // Size in megabytes at which the file is rotated.
	MaxBackups int    // Amount of rotated files to keep.
	MaxAgeDays int    // Days after which rotated files are removed.
}

// NewOutput returns the stream a [RingBuffer] should copy its lines to:
// standard error, plus a rotating log file when one was configured.
// The returned closer must be called once logging is no longer needed.
func NewOutput(opts RotationOptions) (io.Writer, io.Closer) {
	if opts.File == "" {
		return os.Stderr, noopCloser{}
	}

	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    max(1, opts.MaxSizeMB),
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}

	return io.MultiWriter(os.Stderr, lj), lj
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// Size returns the size of the ring-buffer.
func (b *RingBuffer) Size() int {
	return b.size
}

// Lines returns a copy of the ring-buffer contents, oldest first.
func (b *RingBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]string, b.index)
		copy(out, b.buf[:b.index])

		return out
	}

	out := make([]string, b.size)
	copy(out, b.buf[b.index:])
	copy(out[b.size-b.index:], b.buf[:b.index])

	return out
}

// Reset returns the ring-buffer to zero state.
func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = make([]string, b.size)
	b.index = 0
	b.full = false
}

// Printf records a formatted message.
func (b *RingBuffer) Printf(format string, args ...any) {
	b.record(fmt.Sprintf(format, args...))
}

// Println records a message built like [fmt.Sprintln].
func (b *RingBuffer) Println(args ...any) {
	b.record(fmt.Sprintln(args...))
}

// Debugf records a formatted message only while Verbose is enabled.
func (b *RingBuffer) Debugf(format string, args ...any) {
	if !b.Verbose.Load() {
		return
	}
	b.record("DEBUG: " + fmt.Sprintf(format, args...))
}

func (b *RingBuffer) record(msg string) {
	line := time.Now().Format(timestampFormat) + " " + strings.TrimRight(msg, "\n")

	b.add(line)

	b.mu.Lock()
	fmt.Fprintln(b.out, line)
	b.mu.Unlock()
}

// add appends a line, overwriting the oldest one once the buffer is full.
func (b *RingBuffer) add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf[b.index] = strings.TrimSuffix(line, "\n")
	b.index = (b.index + 1) % b.size
	if b.index == 0 {
		b.full = true
	}
}
