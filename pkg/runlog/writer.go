// Package runlog persists one watched run as a zstd-compressed NDJSON
// archive: a meta line, one line per captured record and a closing
// result line.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/ostwerk/cwatch/pkg/logbuf"
)

// Extension is the archive file suffix.
const Extension = ".cwlog"

// Meta identifies a run. It is written as the first line of every
// archive.
type Meta struct {
	ID       string    `json:"id"`
	Service  string    `json:"service"`
	Args     []string  `json:"args"`
	Hostname string    `json:"hostname"`
	Started  time.Time `json:"started"`
}

// Result closes an archive with the outcome of the run.
type Result struct {
	ExitCode int       `json:"exit_code"`
	Finished time.Time `json:"finished"`
}

type metaLine struct {
	Kind string `json:"kind"`
	Meta
}

type recordLine struct {
	Kind   string    `json:"kind"`
	Time   time.Time `json:"time"`
	Level  int       `json:"level"`
	Origin string    `json:"origin"`
	Text   string    `json:"text"`
}

type resultLine struct {
	Kind string `json:"kind"`
	Result
}

// Writer streams one run into an archive file. Append and Mirror are
// safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	zw     *zstd.Encoder
	enc    *json.Encoder
	path   string
	err    error
	closed bool
}

// Create opens a new archive in dir and writes the meta line. Missing
// meta fields are filled: a fresh id and the current time.
func Create(dir string, meta Meta) (*Writer, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Started.IsZero() {
		meta.Started = time.Now()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(dir, Filename(meta.Service, meta.Started, meta.ID))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	zw, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("zstd writer: %w", err)
	}

	w := &Writer{
		file: file,
		zw:   zw,
		enc:  json.NewEncoder(zw),
		path: path,
	}
	if err := w.enc.Encode(metaLine{Kind: "meta", Meta: meta}); err != nil {
		zw.Close()
		file.Close()
		return nil, fmt.Errorf("write meta: %w", err)
	}
	return w, nil
}

// Filename builds the archive name for a run:
// <service>_<YYYYMMDDHHMMSS>_<id8>.cwlog. The timestamp prefix keeps a
// lexical directory listing chronological.
func Filename(service string, started time.Time, id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s%s",
		sanitize(service), started.Format("20060102150405"), id, Extension)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "run"
	}
	return b.String()
}

// Append writes one record line. After the first failure every call
// returns the same error.
func (w *Writer) Append(r logbuf.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return fmt.Errorf("archive %s already closed", filepath.Base(w.path))
	}
	line := recordLine{
		Kind:   "record",
		Time:   r.Time,
		Level:  int(r.Level),
		Origin: string(r.Origin),
		Text:   r.Text,
	}
	if err := w.enc.Encode(line); err != nil {
		w.err = fmt.Errorf("write record: %w", err)
	}
	return w.err
}

// Mirror adapts the writer to the logbuf mirror hook. Write failures
// are sticky and surface through Err.
func (w *Writer) Mirror() func(logbuf.Record) {
	return func(r logbuf.Record) {
		w.Append(r)
	}
}

// Err returns the first write failure, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Path returns the archive file path.
func (w *Writer) Path() string { return w.path }

// Close writes the result line and flushes the archive. Close is
// idempotent.
func (w *Writer) Close(exitCode int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.err
	}
	w.closed = true

	line := resultLine{
		Kind:   "result",
		Result: Result{ExitCode: exitCode, Finished: time.Now()},
	}
	if err := w.enc.Encode(line); err != nil && w.err == nil {
		w.err = fmt.Errorf("write result: %w", err)
	}
	if err := w.zw.Close(); err != nil && w.err == nil {
		w.err = fmt.Errorf("flush archive: %w", err)
	}
	if err := w.file.Close(); err != nil && w.err == nil {
		w.err = fmt.Errorf("close archive: %w", err)
	}
	return w.err
}
