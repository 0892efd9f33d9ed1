package tuning

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Elevator relaunches the current program with elevated privileges.
//
// The controller itself never calls it. The composition root decides
// whether to elevate when Apply fails with ErrPrivilegeRequired.
type Elevator interface {
	RelaunchElevated() error
}

// SudoElevator re-executes the running binary through sudo, preserving the
// environment. On success the current process image is replaced and
// RelaunchElevated does not return.
type SudoElevator struct {
	// Sudo is the sudo binary. Default: looked up in PATH.
	Sudo string

	// Args overrides the arguments passed to the relaunched binary.
	// Default: os.Args[1:].
	Args []string
}

// RelaunchElevated replaces the current process with "sudo -E <self> <args>".
func (e SudoElevator) RelaunchElevated() error {
	sudo := e.Sudo
	if sudo == "" {
		p, err := exec.LookPath("sudo")
		if err != nil {
			return fmt.Errorf("locating sudo: %w", err)
		}
		sudo = p
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	args := e.Args
	if args == nil {
		args = os.Args[1:]
	}

	argv := append([]string{sudo, "-E", self}, args...)
	if err := unix.Exec(sudo, argv, os.Environ()); err != nil {
		return fmt.Errorf("relaunching elevated: %w", err)
	}
	return nil
}
