package watcher

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ostwerk/cwatch/pkg/logbuf"
	"github.com/ostwerk/cwatch/pkg/report"
)

// DefaultService is used when a Watch is created without a service
// name.
const DefaultService = "command_watcher"

// WatchConfig configures a Watch.
type WatchConfig struct {
	// Service identifies the watched job in reports and log archives.
	Service string

	// Channels receive status reports. An empty list disables
	// reporting without changing anything else.
	Channels []report.Channel

	// ContinueOnError keeps Run from returning an *ExitError on
	// non-zero exit codes. The failure is still logged to the buffer.
	ContinueOnError bool

	// Buffer configures the shared log buffer.
	Buffer logbuf.Options
}

// Watch captures the output of several command runs in one shared
// buffer and reports the combined outcome. Every run made through a
// Watch forwards its records into the shared buffer unless the run
// opts out.
type Watch struct {
	service         string
	hostname        string
	continueOnError bool
	bufOpts         logbuf.Options
	buf             *logbuf.Buffer
	reporter        *report.Reporter
	start           time.Time

	mu        sync.Mutex
	processes []string
}

// ExitError reports a watched command that exited with a non-zero
// code.
type ExitError struct {
	Args []string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with non-zero code %d",
		strings.Join(e.Args, " "), e.Code)
}

// NewWatch creates a Watch and logs the hostname as its first record.
func NewWatch(cfg WatchConfig) *Watch {
	service := cfg.Service
	if service == "" {
		service = DefaultService
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	w := &Watch{
		service:         service,
		hostname:        hostname,
		continueOnError: cfg.ContinueOnError,
		bufOpts:         cfg.Buffer,
		buf:             logbuf.New(cfg.Buffer),
		reporter:        report.NewReporter(cfg.Channels...),
		start:           time.Now(),
	}
	w.buf.Log(logbuf.LevelInfo, "Hostname: %s", hostname)
	return w
}

// RunOptions configures a single run made through a Watch.
type RunOptions struct {
	// Dir is the working directory for the child. Empty means inherit.
	Dir string

	// Env is the child environment. Nil means inherit.
	Env []string

	// NoLog keeps the run out of the shared buffer. The process still
	// captures into its own buffer and prints its own live output.
	NoLog bool

	// IgnoreExitCodes lists non-zero exit codes that are treated as
	// success.
	IgnoreExitCodes []int
}

// Run executes argv through a fresh Process and applies the exit-code
// policy. The returned Process is never nil and holds the captured
// output even when an error is returned.
func (w *Watch) Run(ctx context.Context, argv []string, opts RunOptions) (*Process, error) {
	popts := Options{
		Dir: opts.Dir,
		Env: opts.Env,
		Buffer: logbuf.Options{
			Capacity: w.bufOpts.Capacity,
			Stdout:   w.bufOpts.Stdout,
			Stderr:   w.bufOpts.Stderr,
			Color:    w.bufOpts.Color,
			Quiet:    w.bufOpts.Quiet,
		},
	}
	if !opts.NoLog {
		popts.Forward = w.buf
	}
	p := New(argv, popts)
	w.AddProcess(strings.Join(argv, " "))

	code, err := p.Run(ctx)
	if err == nil {
		err = w.buf.Err()
	}
	if err != nil {
		return p, err
	}
	return p, w.Observe(argv, code, opts.IgnoreExitCodes)
}

// RunString splits command with shell-style quoting and runs it.
func (w *Watch) RunString(ctx context.Context, command string, opts RunOptions) (*Process, error) {
	argv, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}
	return w.Run(ctx, argv, opts)
}

// Observe applies the exit-code policy to a command that finished with
// code. Ignored and zero codes pass. Otherwise a CRITICAL report goes
// out on all channels and an *ExitError is returned, unless the watch
// was configured to continue on errors, in which case the failure is
// only logged.
func (w *Watch) Observe(args []string, code int, ignore []int) error {
	if code == 0 || slices.Contains(ignore, code) {
		return nil
	}
	exitErr := &ExitError{Args: append([]string(nil), args...), Code: code}
	if w.continueOnError {
		w.buf.Log(logbuf.LevelError, "%s", exitErr.Error())
		return nil
	}
	if _, err := w.Report(report.StatusCritical, report.Params{
		CustomMessage: exitErr.Error(),
	}); err != nil {
		w.buf.Log(logbuf.LevelError, "report: %s", err)
	}
	return exitErr
}

// Report sends a status message over all channels. The message is
// filled with the service name, hostname, user, the joined process
// list and a snapshot of all buffered records.
func (w *Watch) Report(status report.Status, params report.Params) (report.Message, error) {
	msg := report.Message{
		Status:          status,
		ServiceName:     w.service,
		CustomMessage:   params.CustomMessage,
		Prefix:          params.Prefix,
		Body:            params.Body,
		PerformanceData: params.PerformanceData,
		LogRecords:      w.buf.All(),
		Processes:       w.Processes(),
		Hostname:        w.hostname,
		User:            currentUser(),
	}
	err := w.reporter.Report(msg)
	w.buf.Log(logbuf.LevelDebug, "%s", msg.Monitoring())
	return msg, err
}

// FinalReport sends a closing report. The overall execution time is
// logged and added to the performance data as execution_time.
func (w *Watch) FinalReport(status report.Status, params report.Params) (report.Message, error) {
	elapsed := fmt.Sprintf("%.3fs", time.Since(w.start).Seconds())
	w.buf.Log(logbuf.LevelInfo, "Overall execution time: %s", elapsed)

	perf := make(map[string]string, len(params.PerformanceData)+1)
	for k, v := range params.PerformanceData {
		perf[k] = v
	}
	perf["execution_time"] = elapsed
	params.PerformanceData = perf
	return w.Report(status, params)
}

// Log appends an internal record to the shared buffer.
func (w *Watch) Log(level logbuf.Level, format string, args ...any) {
	w.buf.Log(level, format, args...)
}

// Buffer returns the shared log buffer.
func (w *Watch) Buffer() *logbuf.Buffer { return w.buf }

// Stdout returns all captured stdout lines of the shared buffer.
func (w *Watch) Stdout() string { return w.buf.Stdout() }

// Stderr returns all captured stderr lines of the shared buffer.
func (w *Watch) Stderr() string { return w.buf.Stderr() }

// Service returns the service name.
func (w *Watch) Service() string { return w.service }

// Hostname returns the hostname logged at construction.
func (w *Watch) Hostname() string { return w.hostname }

// Processes returns the command lines run so far.
func (w *Watch) Processes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.processes...)
}

// AddProcess records a command line in the process list that reports
// carry. Run registers its own commands; external runners (such as the
// container runner) register theirs through this.
func (w *Watch) AddProcess(command string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processes = append(w.processes, command)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
