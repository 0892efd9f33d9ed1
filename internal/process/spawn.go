package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Spec describes a child process to start.
type Spec struct {
	// Binary is the executable path.
	Binary string

	// Args are the command-line arguments, without the binary.
	Args []string

	// Dir is the working directory. Empty inherits ours.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to our environment.
	Env []string
}

// Logger defines the logging interface for process handles.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handle is a running (or exited) child process.
//
// The child leads its own process group. Its stdout and stderr share one
// pipe, read through Output, so interleaving matches what a terminal shows.
type Handle struct {
	cmd     *exec.Cmd
	pid     int
	out     *os.File
	started time.Time
	logger  Logger

	done    chan struct{}
	exitErr error
}

// Spawn starts the child described by spec.
//
// ctx only gates the start: a cancelled ctx prevents spawning, but the child
// outlives ctx and is stopped with TerminateTree.
func Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Binary, spec.Args...) //nolint:gosec // Binary comes from resolved configuration

	// Own process group so the whole tree can be signalled at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if spec.Env != nil {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("starting %s: %w", spec.Binary, err)
	}

	// The child holds its own copy of the write end; EOF arrives once every
	// process in the tree has closed it.
	w.Close()

	h := &Handle{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		out:     r,
		started: time.Now(),
		logger:  noopLogger{},
		done:    make(chan struct{}),
	}
	go h.wait()

	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.exitErr = err
	close(h.done)
}

// SetLogger sets the logger for the handle.
func (h *Handle) SetLogger(logger Logger) {
	h.logger = logger
}

// PID returns the child's process ID, which is also its process group ID.
func (h *Handle) PID() int {
	return h.pid
}

// StartedAt returns when the child was started.
func (h *Handle) StartedAt() time.Time {
	return h.started
}

// Output returns the merged stdout/stderr stream.
// It yields io.EOF after every writer in the tree has exited.
func (h *Handle) Output() io.Reader {
	return h.out
}

// Close releases the read end of the output pipe. Call it after the
// output has been drained.
func (h *Handle) Close() error {
	return h.out.Close()
}

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the child's exit error. It is nil while the child is
// running and after a clean exit.
func (h *Handle) ExitErr() error {
	select {
	case <-h.done:
		return h.exitErr
	default:
		return nil
	}
}

// Alive reports whether the child has not exited yet.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
