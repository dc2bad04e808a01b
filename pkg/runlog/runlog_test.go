package runlog

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ostwerk/cwatch/pkg/logbuf"
)

var archiveTime = time.Date(2026, 8, 24, 15, 4, 5, 123456789, time.UTC)

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, Meta{
		ID:       "0123456789abcdef",
		Service:  "backup",
		Args:     []string{"sh", "-c", "true"},
		Hostname: "host1",
		Started:  archiveTime,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	records := []logbuf.Record{
		{Time: archiveTime, Level: logbuf.LevelInfo, Origin: logbuf.OriginInternal, Text: "Run command: sh -c true"},
		{Time: archiveTime.Add(time.Second), Level: logbuf.LevelStdout, Origin: logbuf.OriginStdout, Text: "hello"},
		{Time: archiveTime.Add(2 * time.Second), Level: logbuf.LevelStderr, Origin: logbuf.OriginStderr, Text: "oops"},
	}
	for _, r := range records {
		if err := w.Append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(3); err != nil {
		t.Fatalf("close: %v", err)
	}

	arch, err := Read(w.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if arch.Meta.Service != "backup" || arch.Meta.Hostname != "host1" {
		t.Errorf("meta = %+v", arch.Meta)
	}
	if len(arch.Meta.Args) != 3 || arch.Meta.Args[2] != "true" {
		t.Errorf("meta args = %v", arch.Meta.Args)
	}
	if !arch.Meta.Started.Equal(archiveTime) {
		t.Errorf("started = %v, want %v", arch.Meta.Started, archiveTime)
	}

	if len(arch.Records) != len(records) {
		t.Fatalf("records = %d, want %d", len(arch.Records), len(records))
	}
	for i, got := range arch.Records {
		want := records[i]
		if !got.Time.Equal(want.Time) {
			t.Errorf("record %d time = %v, want %v", i, got.Time, want.Time)
		}
		if got.Level != want.Level || got.Origin != want.Origin || got.Text != want.Text {
			t.Errorf("record %d = %+v, want %+v", i, got, want)
		}
	}

	if arch.Result == nil {
		t.Fatal("missing result line")
	}
	if arch.Result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", arch.Result.ExitCode)
	}
	if arch.Result.Finished.IsZero() {
		t.Error("finished time is zero")
	}
}

func TestFilename(t *testing.T) {
	got := Filename("my service/x", archiveTime, "0123456789abcdef")
	want := "my-service-x_20260824150405_01234567.cwlog"
	if got != want {
		t.Errorf("Filename() = %q, want %q", got, want)
	}

	if got := Filename("", archiveTime, "ab"); !strings.HasPrefix(got, "run_") {
		t.Errorf("empty service filename = %q, want run_ prefix", got)
	}
}

func TestAppendAfterClose(t *testing.T) {
	w, err := Create(t.TempDir(), Meta{Service: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(0); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(logbuf.Record{Text: "late"}); err == nil {
		t.Error("append after close must fail")
	}
	if err := w.Close(0); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestMirrorIntoArchive(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(dir, Meta{Service: "mirrored"})
	if err != nil {
		t.Fatal(err)
	}

	buf := logbuf.New(logbuf.Options{Quiet: true, Mirror: w.Mirror()})
	buf.Log(logbuf.LevelInfo, "captured %d", 1)
	if err := w.Err(); err != nil {
		t.Fatalf("mirror error: %v", err)
	}
	if err := w.Close(0); err != nil {
		t.Fatal(err)
	}

	arch, err := Read(w.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(arch.Records) != 1 || arch.Records[0].Text != "captured 1" {
		t.Errorf("records = %+v", arch.Records)
	}
}

func TestRead_ToleratesUnknownKindsAndMissingResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manual.cwlog")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	lines := []string{
		`{"kind":"meta","id":"x","service":"s","args":["true"],"hostname":"h","started":"2026-08-24T15:04:05Z"}`,
		`{"kind":"future","payload":1}`,
		`{"kind":"record","time":"2026-08-24T15:04:06Z","level":5,"origin":"stdout","text":"hi"}`,
	}
	for _, line := range lines {
		if _, err := io.WriteString(zw, line+"\n"); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	arch, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if arch.Result != nil {
		t.Errorf("result = %+v, want nil", arch.Result)
	}
	if len(arch.Records) != 1 || arch.Records[0].Text != "hi" {
		t.Errorf("records = %+v", arch.Records)
	}
	if arch.Meta.Service != "s" {
		t.Errorf("meta = %+v", arch.Meta)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()

	got, err := Latest(dir)
	if err != nil {
		t.Fatalf("latest on empty dir: %v", err)
	}
	if got != "" {
		t.Errorf("Latest() = %q, want empty", got)
	}

	older, err := Create(dir, Meta{Service: "job", Started: archiveTime})
	if err != nil {
		t.Fatal(err)
	}
	older.Close(0)
	newer, err := Create(dir, Meta{Service: "job", Started: archiveTime.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	newer.Close(0)

	got, err = Latest(dir)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got != newer.Path() {
		t.Errorf("Latest() = %q, want %q", got, newer.Path())
	}

	if _, err := Latest(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for a missing directory")
	}
}
