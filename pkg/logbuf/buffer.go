// Package logbuf stores the records of one watched command run: every
// captured stdout/stderr line plus the watcher's own messages. Records are
// appended in arrival order and kept for reporting; appending also renders
// the record to the live console.
package logbuf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity bounds the number of records a buffer holds.
const DefaultCapacity = 1_000_000

// ErrBufferFull is returned by Append once the capacity is exhausted.
// Overflow is treated as an unrecoverable misconfiguration: records are
// never silently dropped or overwritten.
var ErrBufferFull = errors.New("log buffer capacity exhausted")

// Options configures a Buffer. The zero value selects the defaults:
// DefaultCapacity records, the real stdout/stderr streams, automatic
// color detection.
type Options struct {
	Capacity int
	Stdout   io.Writer
	Stderr   io.Writer
	Color    ColorMode
	// Quiet suppresses the console side effect. Used when another buffer
	// prints the records instead, and under the TUI.
	Quiet bool
	// Mirror is invoked for every appended record, after it is stored.
	Mirror func(Record)
}

// Buffer is an append-only, bounded record store. Safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	records  []Record
	err      error
	capacity int
	stdout   io.Writer
	stderr   io.Writer
	colorOut bool
	colorErr bool
	quiet    bool
	mirror   func(Record)
}

// New creates a buffer.
func New(opts Options) *Buffer {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Buffer{
		capacity: opts.Capacity,
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
		colorOut: opts.Color.enabledFor(opts.Stdout),
		colorErr: opts.Color.enabledFor(opts.Stderr),
		quiet:    opts.Quiet,
		mirror:   opts.Mirror,
	}
}

// Append stores a record and renders it to the console. Records at or above
// LevelStderr go to the stderr stream, everything else to stdout. A zero
// Time is filled with the current time.
func (b *Buffer) Append(r Record) error {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) >= b.capacity {
		if b.err == nil {
			b.err = fmt.Errorf("%w (capacity %d)", ErrBufferFull, b.capacity)
		}
		return b.err
	}
	b.records = append(b.records, r)

	if !b.quiet {
		w, color := b.stdout, b.colorOut
		if r.Level >= LevelStderr {
			w, color = b.stderr, b.colorErr
		}
		fmt.Fprintln(w, RenderLine(r, color))
	}
	if b.mirror != nil {
		b.mirror(r)
	}
	return nil
}

// Log appends an internal record.
func (b *Buffer) Log(level Level, format string, args ...any) error {
	return b.Append(Record{
		Level:  level,
		Origin: OriginInternal,
		Text:   fmt.Sprintf(format, args...),
	})
}

// Err returns the first append failure, if any.
func (b *Buffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Len returns the number of stored records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Records returns a copy of all stored records in append order.
func (b *Buffer) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// Stdout returns the captured stdout lines joined with newlines, in order.
func (b *Buffer) Stdout() string {
	return b.joined(OriginStdout)
}

// Stderr returns the captured stderr lines joined with newlines, in order.
func (b *Buffer) Stderr() string {
	return b.joined(OriginStderr)
}

func (b *Buffer) joined(origin Origin) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lines []string
	for _, r := range b.records {
		if r.Origin == origin {
			lines = append(lines, r.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// All returns every record through the plain formatter, joined with
// newlines. This is the view reports embed as the log body.
func (b *Buffer) All() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := make([]string, 0, len(b.records))
	for _, r := range b.records {
		lines = append(lines, FormatRecord(r))
	}
	return strings.Join(lines, "\n")
}
