package watcher

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/ostwerk/cwatch/pkg/logbuf"
	"github.com/ostwerk/cwatch/pkg/report"
)

type captureChannel struct {
	msgs []report.Message
}

func (c *captureChannel) Report(msg report.Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func quietWatch(cfg WatchConfig) *Watch {
	cfg.Buffer.Quiet = true
	return NewWatch(cfg)
}

func TestWatch_ForwardsRecords(t *testing.T) {
	requireShell(t)
	w := quietWatch(WatchConfig{Service: "fwd"})

	p, err := w.Run(context.Background(), []string{"sh", "-c", "echo child"}, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Hostname plus the three run records.
	if got := w.Buffer().Len(); got != 4 {
		t.Errorf("watch buffer length = %d, want 4", got)
	}
	if got := p.Buffer().Len(); got != 3 {
		t.Errorf("process buffer length = %d, want 3", got)
	}
	if got := w.Stdout(); got != "child" {
		t.Errorf("watch Stdout() = %q", got)
	}
	if !strings.Contains(w.Buffer().All(), "Hostname: ") {
		t.Error("watch buffer missing hostname record")
	}
}

func TestWatch_NoLogKeepsSharedBufferClean(t *testing.T) {
	requireShell(t)
	w := quietWatch(WatchConfig{Service: "nolog"})

	p, err := w.Run(context.Background(), []string{"sh", "-c", "echo hidden"}, RunOptions{NoLog: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := w.Buffer().Len(); got != 1 {
		t.Errorf("watch buffer length = %d, want only the hostname record", got)
	}
	if got := p.Stdout(); got != "hidden" {
		t.Errorf("process Stdout() = %q", got)
	}
}

func TestWatch_NonzeroExitReportsCritical(t *testing.T) {
	requireShell(t)
	ch := &captureChannel{}
	w := quietWatch(WatchConfig{Service: "failing", Channels: []report.Channel{ch}})

	p, err := w.Run(context.Background(), []string{"sh", "-c", "exit 2"}, RunOptions{})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v, want *ExitError", err)
	}
	if exitErr.Code != 2 {
		t.Errorf("exit error code = %d, want 2", exitErr.Code)
	}
	if p.ExitCode() != 2 {
		t.Errorf("process exit code = %d, want 2", p.ExitCode())
	}

	if len(ch.msgs) != 1 {
		t.Fatalf("reports = %d, want 1", len(ch.msgs))
	}
	msg := ch.msgs[0]
	if msg.Status != report.StatusCritical {
		t.Errorf("report status = %v, want CRITICAL", msg.Status)
	}
	if !strings.Contains(msg.CustomMessage, "non-zero code 2") {
		t.Errorf("custom message = %q", msg.CustomMessage)
	}
	if msg.LogRecords == "" {
		t.Error("report carries no log records")
	}
	if len(msg.Processes) != 1 || !strings.Contains(msg.Processes[0], "exit 2") {
		t.Errorf("report processes = %v", msg.Processes)
	}
}

func TestWatch_IgnoredExitCode(t *testing.T) {
	requireShell(t)
	ch := &captureChannel{}
	w := quietWatch(WatchConfig{Service: "ignored", Channels: []report.Channel{ch}})

	_, err := w.Run(context.Background(), []string{"sh", "-c", "exit 2"},
		RunOptions{IgnoreExitCodes: []int{2}})
	if err != nil {
		t.Fatalf("ignored exit code must not error, got %v", err)
	}
	if len(ch.msgs) != 0 {
		t.Errorf("reports = %d, want none", len(ch.msgs))
	}
}

func TestWatch_ContinueOnError(t *testing.T) {
	requireShell(t)
	ch := &captureChannel{}
	w := quietWatch(WatchConfig{Service: "lenient", Channels: []report.Channel{ch}, ContinueOnError: true})

	p, err := w.Run(context.Background(), []string{"sh", "-c", "exit 7"}, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if p.ExitCode() != 7 {
		t.Errorf("exit code = %d, want 7", p.ExitCode())
	}
	if len(ch.msgs) != 0 {
		t.Errorf("reports = %d, want none", len(ch.msgs))
	}
	if !strings.Contains(w.Buffer().All(), "non-zero code 7") {
		t.Error("failure not logged to the shared buffer")
	}
}

func TestWatch_FinalReport(t *testing.T) {
	requireShell(t)
	ch := &captureChannel{}
	w := quietWatch(WatchConfig{Service: "myservice", Channels: []report.Channel{ch}})

	if _, err := w.Run(context.Background(), []string{"sh", "-c", "echo done"}, RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	msg, err := w.FinalReport(report.StatusOK, report.Params{})
	if err != nil {
		t.Fatalf("final report: %v", err)
	}

	if got, want := msg.Text(), "[cwatcher]: MYSERVICE OK"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	elapsed := msg.PerformanceData["execution_time"]
	if !regexp.MustCompile(`^\d+\.\d{3}s$`).MatchString(elapsed) {
		t.Errorf("execution_time = %q, want seconds with millisecond precision", elapsed)
	}
	if len(ch.msgs) != 1 {
		t.Fatalf("reports = %d, want 1", len(ch.msgs))
	}
	if !strings.Contains(w.Buffer().All(), "Overall execution time: ") {
		t.Error("overall execution time not logged")
	}
}

func TestWatch_RunString(t *testing.T) {
	requireShell(t)
	w := quietWatch(WatchConfig{Service: "strings"})

	p, err := w.RunString(context.Background(), `sh -c "echo one; echo two"`, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := p.Stdout(); got != "one\ntwo" {
		t.Errorf("Stdout() = %q, want %q", got, "one\ntwo")
	}
	if got := w.Processes(); len(got) != 1 || !strings.HasPrefix(got[0], "sh -c") {
		t.Errorf("Processes() = %v", got)
	}
}

func TestWatch_BufferOverflowSurfaces(t *testing.T) {
	requireShell(t)
	w := quietWatch(WatchConfig{
		Service: "tiny",
		Buffer:  logbuf.Options{Capacity: 2},
	})

	_, err := w.Run(context.Background(), []string{"sh", "-c", "echo overflow"}, RunOptions{})
	if !errors.Is(err, logbuf.ErrBufferFull) {
		t.Fatalf("error = %v, want buffer overflow", err)
	}
}

func TestWatch_DefaultService(t *testing.T) {
	w := quietWatch(WatchConfig{})
	if got := w.Service(); got != "command_watcher" {
		t.Errorf("Service() = %q, want %q", got, "command_watcher")
	}
}
