package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	gops "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// reapTimeout bounds the wait for the leader to be reaped after SIGKILL.
const reapTimeout = 5 * time.Second

// Descendants returns the PIDs of every process below the child, depth first.
func (h *Handle) Descendants() ([]int32, error) {
	return Descendants(context.Background(), int32(h.pid))
}

// Descendants returns the PIDs of every process below pid, depth first.
// A pid that no longer exists has no descendants.
func Descendants(ctx context.Context, pid int32) ([]int32, error) {
	root, err := gops.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, gops.ErrorProcessNotRunning) {
			return nil, nil
		}
		return nil, fmt.Errorf("inspecting pid %d: %w", pid, err)
	}

	var out []int32
	var walk func(p *gops.Process) error
	walk = func(p *gops.Process) error {
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			if errors.Is(err, gops.ErrorNoChildren) || errors.Is(err, gops.ErrorProcessNotRunning) {
				return nil
			}
			return fmt.Errorf("listing children of %d: %w", p.Pid, err)
		}
		for _, c := range children {
			out = append(out, c.Pid)
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return out, err
	}
	return out, nil
}

// TerminateTree stops the child and everything it started.
//
// Each descendant and then the child receive SIGTERM individually. After
// grace, whatever is left in the process group (and any descendant that left
// it) receives SIGKILL. Processes that are already gone are not errors.
// Signal failures are collected in a *TerminationError; the child is always
// given the full sequence once and never retried.
func (h *Handle) TerminateTree(grace time.Duration) error {
	terr := &TerminationError{}

	desc, err := h.Descendants()
	if err != nil {
		h.logger.Warn("enumerating process tree failed", "pid", h.pid, "error", err)
	}

	if h.Alive() || len(desc) > 0 {
		h.logger.Info("terminating process tree", "pid", h.pid, "descendants", len(desc))

		for _, pid := range desc {
			signal(terr, pid, unix.SIGTERM)
		}
		if h.Alive() {
			signal(terr, int32(h.pid), unix.SIGTERM)
		}

		select {
		case <-h.done:
		case <-time.After(grace):
			h.logger.Warn("graceful termination timed out, sending SIGKILL", "pid", h.pid, "grace", grace)
		}
	}

	// Survivors: the group first, then anything that escaped it.
	if err := unix.Kill(-h.pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		terr.add(int32(-h.pid), err)
	}
	for _, pid := range desc {
		if exists(pid) {
			signal(terr, pid, unix.SIGKILL)
		}
	}

	select {
	case <-h.done:
	case <-time.After(reapTimeout):
		terr.add(int32(h.pid), errors.New("not reaped after SIGKILL"))
	}

	if len(terr.Failed) > 0 {
		return terr
	}
	return nil
}

// KillGroup sends SIGKILL to the child's process group. It stops members
// that outlived the child; an empty group is not an error.
func (h *Handle) KillGroup() error {
	if err := unix.Kill(-h.pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("killing process group %d: %w", h.pid, err)
	}
	return nil
}

func signal(terr *TerminationError, pid int32, sig unix.Signal) {
	if err := unix.Kill(int(pid), sig); err != nil && !errors.Is(err, unix.ESRCH) {
		terr.add(pid, err)
	}
}

func exists(pid int32) bool {
	ok, err := gops.PidExists(pid)
	return err == nil && ok
}
