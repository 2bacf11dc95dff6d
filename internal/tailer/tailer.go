// Package tailer follows a growing log file, yielding complete
// newline-terminated records. Partial final lines are held back until the
// writer finishes them, so a record is never split or dropped.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// DefaultPoll is how long Next waits before re-reading when the file has
// not grown.
const DefaultPoll = 300 * time.Millisecond

// Tailer reads complete lines from a file that may still be written to.
// It is owned by a single loop and not safe for concurrent use.
type Tailer struct {
	f       *os.File
	poll    time.Duration
	partial []byte
	pending []string
	buf     []byte
}

// Open opens path for tailing from the beginning of the file.
func Open(path string) (*Tailer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return &Tailer{f: f, poll: DefaultPoll, buf: make([]byte, 64*1024)}, nil
}

// SetPoll overrides the poll interval (used by tests).
func (t *Tailer) SetPoll(d time.Duration) { t.poll = d }

// Next blocks until a complete line (without its terminator) is available
// or ctx is cancelled. The sequence is infinite: at end of file Next waits
// for the file to grow.
func (t *Tailer) Next(ctx context.Context) (string, error) {
	for {
		if len(t.pending) > 0 {
			line := t.pending[0]
			t.pending = t.pending[1:]
			return line, nil
		}

		n, err := t.f.Read(t.buf)
		if n > 0 {
			t.split(t.buf[:n])
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read log: %w", err)
		}

		// Nothing new yet — wait for the writer.
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.poll):
		}
	}
}

// split appends chunk to the partial buffer and moves complete lines to the
// pending queue. Bytes after the last newline stay in partial.
func (t *Tailer) split(chunk []byte) {
	t.partial = append(t.partial, chunk...)
	start := 0
	for i, b := range t.partial {
		if b == '\n' {
			line := t.partial[start:i]
			// Tolerate CRLF writers.
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			t.pending = append(t.pending, string(line))
			start = i + 1
		}
	}
	t.partial = append(t.partial[:0], t.partial[start:]...)
}

// Name returns the path the tailer was opened with.
func (t *Tailer) Name() string { return t.f.Name() }

// Close closes the underlying file. The sequence is restartable only by
// reopening the file.
func (t *Tailer) Close() error { return t.f.Close() }
