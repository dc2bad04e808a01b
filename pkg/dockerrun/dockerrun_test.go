package dockerrun

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/ostwerk/cwatch/pkg/logbuf"
)

func TestLineWriter_DemuxedStreams(t *testing.T) {
	buf := logbuf.New(logbuf.Options{Quiet: true})
	outw := newLineWriter(buf, logbuf.OriginStdout)
	errw := newLineWriter(buf, logbuf.OriginStderr)

	// Build a multiplexed stream the way the daemon does.
	var stream bytes.Buffer
	muxOut := stdcopy.NewStdWriter(&stream, stdcopy.Stdout)
	muxErr := stdcopy.NewStdWriter(&stream, stdcopy.Stderr)
	io.WriteString(muxOut, "out line\npartial")
	io.WriteString(muxErr, "err line\n")
	io.WriteString(muxOut, " tail\n")

	if _, err := stdcopy.StdCopy(outw, errw, &stream); err != nil {
		t.Fatalf("stdcopy: %v", err)
	}
	outw.Flush()
	errw.Flush()

	if got, want := buf.Stdout(), "out line\npartial tail"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
	if got, want := buf.Stderr(), "err line"; got != want {
		t.Errorf("stderr = %q, want %q", got, want)
	}
}

func TestLineWriter_ChunkedWrites(t *testing.T) {
	buf := logbuf.New(logbuf.Options{Quiet: true})
	w := newLineWriter(buf, logbuf.OriginStdout)

	for _, chunk := range []string{"he", "llo\nwo", "rld\n"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got, want := buf.Stdout(), "hello\nworld"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

func TestLineWriter_FlushTrailingLine(t *testing.T) {
	buf := logbuf.New(logbuf.Options{Quiet: true})
	w := newLineWriter(buf, logbuf.OriginStdout)

	w.Write([]byte("no newline at end"))
	if got := buf.Len(); got != 0 {
		t.Fatalf("premature emit, buffer length = %d", got)
	}
	w.Flush()
	if got, want := buf.Stdout(), "no newline at end"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

func TestLineWriter_SkipsBlankLines(t *testing.T) {
	buf := logbuf.New(logbuf.Options{Quiet: true})
	w := newLineWriter(buf, logbuf.OriginStderr)

	w.Write([]byte("a\n\n   \nb\n"))
	if got, want := buf.Stderr(), "a\nb"; got != want {
		t.Errorf("stderr = %q, want %q", got, want)
	}
}

func TestLineWriter_StickyBufferError(t *testing.T) {
	buf := logbuf.New(logbuf.Options{Quiet: true, Capacity: 1})
	w := newLineWriter(buf, logbuf.OriginStdout)

	w.Write([]byte("one\ntwo\nthree\n"))
	if w.Err() == nil {
		t.Fatal("expected overflow error")
	}
	if got := buf.Len(); got != 1 {
		t.Errorf("buffer length = %d, want 1", got)
	}
}

func TestRun_RequiresImage(t *testing.T) {
	r, err := NewRunner(nil)
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	defer r.Close()

	buf := logbuf.New(logbuf.Options{Quiet: true})
	if _, err := r.Run(context.Background(), Spec{}, buf); err == nil {
		t.Fatal("expected error for empty image")
	}
}
