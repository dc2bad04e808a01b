// Package watcher runs child processes while capturing every line they
// write to stdout and stderr into a logbuf.Buffer. A Process is a
// single-shot runner; Watch coordinates several runs under one service
// name and reports the outcome to monitoring channels.
package watcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/ostwerk/cwatch/pkg/logbuf"
)

// ErrAlreadyRan is returned when Run is called a second time on the
// same Process.
var ErrAlreadyRan = errors.New("process already ran")

// streamLine travels from a pipe reader to the consumer loop. A line
// with eof set marks the end of one stream; it carries no text.
type streamLine struct {
	origin logbuf.Origin
	text   string
	eof    bool
}

// Options configures a Process.
type Options struct {
	// Dir is the working directory for the child. Empty means inherit.
	Dir string

	// Env is the child environment. Nil means inherit.
	Env []string

	// Forward mirrors every captured record into a second buffer,
	// typically the shared buffer of a Watch. When set, the process
	// buffer stays quiet and the forward buffer owns the live output.
	Forward *logbuf.Buffer

	// Buffer configures the process-local buffer.
	Buffer logbuf.Options
}

// Process runs one command and captures its output. Each instance runs
// at most once; construct a new Process for every invocation.
type Process struct {
	args []string
	dir  string
	env  []string
	id   uuid.UUID
	buf  *logbuf.Buffer

	mu       sync.Mutex
	started  bool
	exitCode int
	countOut int
	countErr int
}

// New creates a Process for argv. Nothing is spawned until Run.
func New(argv []string, opts Options) *Process {
	bufOpts := opts.Buffer
	if opts.Forward != nil {
		fwd := opts.Forward
		chained := bufOpts.Mirror
		bufOpts.Quiet = true
		bufOpts.Mirror = func(r logbuf.Record) {
			fwd.Append(r)
			if chained != nil {
				chained(r)
			}
		}
	}
	return &Process{
		args:     append([]string(nil), argv...),
		dir:      opts.Dir,
		env:      opts.Env,
		id:       uuid.New(),
		buf:      logbuf.New(bufOpts),
		exitCode: -1,
	}
}

// NewFromString splits command with shell-style quoting and creates a
// Process from the result.
func NewFromString(command string, opts Options) (*Process, error) {
	argv, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}
	return New(argv, opts), nil
}

// SplitCommand splits a command line into argv honoring shell quoting.
func SplitCommand(command string) ([]string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("split command %q: %w", command, err)
	}
	return argv, nil
}

// Run spawns the child, captures its output line by line and waits for
// it to exit. The exit code is data: a non-zero code returns a nil
// error. Errors are reserved for failures of the run itself, such as a
// command that cannot be spawned, a canceled context or an exhausted
// buffer. Run may be called once; later calls return ErrAlreadyRan.
func (p *Process) Run(ctx context.Context) (int, error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return -1, ErrAlreadyRan
	}
	p.started = true
	p.mu.Unlock()

	if len(p.args) == 0 {
		return -1, errors.New("empty command")
	}

	p.buf.Log(logbuf.LevelInfo, "Run command: %s", strings.Join(p.args, " "))
	start := time.Now()

	cmd := exec.CommandContext(ctx, p.args[0], p.args[1:]...)
	cmd.Dir = p.dir
	cmd.Env = p.env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %q: %w", p.args[0], err)
	}

	queue := make(chan streamLine, 64)
	readers := []struct {
		origin logbuf.Origin
		pipe   io.Reader
	}{
		{logbuf.OriginStdout, stdout},
		{logbuf.OriginStderr, stderr},
	}
	for _, r := range readers {
		go readStream(queue, r.origin, r.pipe)
	}

	var bufErr error
	countOut, countErr := 0, 0
	for pending := len(readers); pending > 0; {
		ln := <-queue
		if ln.eof {
			pending--
			continue
		}
		text, ok := logbuf.CleanLine(ln.text)
		if !ok {
			continue
		}
		switch ln.origin {
		case logbuf.OriginStdout:
			countOut++
		case logbuf.OriginStderr:
			countErr++
		}
		rec := logbuf.Record{
			Level:  logbuf.LevelForOrigin(ln.origin),
			Origin: ln.origin,
			Text:   text,
		}
		if err := p.buf.Append(rec); err != nil && bufErr == nil {
			bufErr = err
		}
	}

	waitErr := cmd.Wait()
	code := cmd.ProcessState.ExitCode()

	p.buf.Log(logbuf.LevelInfo, "Execution time: %.3fs", time.Since(start).Seconds())

	p.mu.Lock()
	p.exitCode = code
	p.countOut = countOut
	p.countErr = countErr
	p.mu.Unlock()

	if ctx.Err() != nil {
		return code, ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return code, fmt.Errorf("wait %q: %w", p.args[0], waitErr)
		}
	}
	if bufErr != nil {
		return code, bufErr
	}
	return code, nil
}

// readStream pushes every line from pipe into queue. The closing eof
// marker is sent unconditionally so the consumer never waits on a
// stream that died early.
func readStream(queue chan<- streamLine, origin logbuf.Origin, pipe io.Reader) {
	defer func() {
		queue <- streamLine{origin: origin, eof: true}
	}()
	br := bufio.NewReader(pipe)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			queue <- streamLine{origin: origin, text: line}
		}
		if err != nil {
			return
		}
	}
}

// Args returns a copy of the command line.
func (p *Process) Args() []string {
	return append([]string(nil), p.args...)
}

// ID returns the unique id assigned at construction.
func (p *Process) ID() uuid.UUID { return p.id }

// Buffer returns the process-local log buffer.
func (p *Process) Buffer() *logbuf.Buffer { return p.buf }

// Stdout returns all captured stdout lines joined with newlines.
func (p *Process) Stdout() string { return p.buf.Stdout() }

// Stderr returns all captured stderr lines joined with newlines.
func (p *Process) Stderr() string { return p.buf.Stderr() }

// ExitCode returns the child exit code, or -1 before the child has
// exited.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// LineCountStdout returns the number of captured stdout lines.
func (p *Process) LineCountStdout() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.countOut
}

// LineCountStderr returns the number of captured stderr lines.
func (p *Process) LineCountStderr() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.countErr
}
