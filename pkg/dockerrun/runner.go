// Package dockerrun executes the watched command inside a container
// and captures its output into a logbuf.Buffer, mirroring what
// pkg/watcher does for local child processes.
package dockerrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/ostwerk/cwatch/pkg/logbuf"
)

// Spec describes one containerized run.
type Spec struct {
	// Image to run. Required.
	Image string

	// Args is the command. Empty means the image default.
	Args []string

	// Env holds K=V pairs for the container environment.
	Env []string

	// Dir is the working directory inside the container.
	Dir string

	// Pull fetches the image before the run.
	Pull bool
}

// Runner runs commands in containers through the Docker API.
type Runner struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewRunner creates a Runner from the environment (DOCKER_HOST and
// friends). Nothing is dialed until the first run.
func NewRunner(logger *slog.Logger) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cli: cli, logger: logger}, nil
}

// Close releases the underlying client.
func (r *Runner) Close() error { return r.cli.Close() }

// Run executes spec and appends every log line to buf, stdout and
// stderr kept apart. Like the local watcher, a non-zero container exit
// is data, not an error. The container is force-removed afterwards
// even when the context was canceled mid-run.
func (r *Runner) Run(ctx context.Context, spec Spec, buf *logbuf.Buffer) (int, error) {
	if spec.Image == "" {
		return -1, errors.New("image is required")
	}

	if spec.Pull {
		buf.Log(logbuf.LevelInfo, "Pull image: %s", spec.Image)
		resp, err := r.cli.ImagePull(ctx, spec.Image, image.PullOptions{})
		if err != nil {
			return -1, fmt.Errorf("pull %s: %w", spec.Image, err)
		}
		io.Copy(io.Discard, resp)
		resp.Close()
	}

	command := strings.Join(spec.Args, " ")
	if command == "" {
		command = "(image default)"
	}
	buf.Log(logbuf.LevelInfo, "Run command: %s (image %s)", command, spec.Image)
	start := time.Now()

	created, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      spec.Image,
		Cmd:        strslice.StrSlice(spec.Args),
		Env:        spec.Env,
		WorkingDir: spec.Dir,
	}, &container.HostConfig{}, nil, nil, "")
	if err != nil {
		return -1, fmt.Errorf("create container: %w", err)
	}
	id := created.ID
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := r.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Warn("remove container", "id", id, "error", err)
		}
	}()

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("start container: %w", err)
	}

	logs, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return -1, fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	outw := newLineWriter(buf, logbuf.OriginStdout)
	errw := newLineWriter(buf, logbuf.OriginStderr)
	if _, err := stdcopy.StdCopy(outw, errw, logs); err != nil && ctx.Err() == nil {
		return -1, fmt.Errorf("read logs: %w", err)
	}
	outw.Flush()
	errw.Flush()

	var code int
	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		if err != nil {
			return -1, fmt.Errorf("wait container: %w", err)
		}
	case status := <-statusCh:
		if status.Error != nil {
			return -1, fmt.Errorf("wait container: %s", status.Error.Message)
		}
		code = int(status.StatusCode)
	}

	buf.Log(logbuf.LevelInfo, "Execution time: %.3fs", time.Since(start).Seconds())

	if ctx.Err() != nil {
		return code, ctx.Err()
	}
	for _, err := range []error{outw.Err(), errw.Err(), buf.Err()} {
		if err != nil {
			return code, err
		}
	}
	return code, nil
}
