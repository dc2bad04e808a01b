package dockerrun

import (
	"bytes"

	"github.com/ostwerk/cwatch/pkg/logbuf"
)

// lineWriter splits a demultiplexed container log stream into lines
// and appends them to the buffer. Partial writes are held back until
// their newline arrives; Flush emits a trailing unterminated line.
type lineWriter struct {
	pending bytes.Buffer
	origin  logbuf.Origin
	sink    *logbuf.Buffer
	err     error
}

func newLineWriter(sink *logbuf.Buffer, origin logbuf.Origin) *lineWriter {
	return &lineWriter{sink: sink, origin: origin}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.pending.Write(p)
	for {
		i := bytes.IndexByte(w.pending.Bytes(), '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.pending.Next(i + 1)))
	}
	return len(p), nil
}

// Flush emits whatever is left after the stream ended without a final
// newline.
func (w *lineWriter) Flush() {
	if w.pending.Len() > 0 {
		w.emit(w.pending.String())
		w.pending.Reset()
	}
}

func (w *lineWriter) emit(raw string) {
	text, ok := logbuf.CleanLine(raw)
	if !ok {
		return
	}
	rec := logbuf.Record{
		Level:  logbuf.LevelForOrigin(w.origin),
		Origin: w.origin,
		Text:   text,
	}
	if err := w.sink.Append(rec); err != nil && w.err == nil {
		w.err = err
	}
}

// Err returns the first buffer append failure.
func (w *lineWriter) Err() error { return w.err }
