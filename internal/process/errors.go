package process

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPartialTermination is matched by a TerminationError: some processes in
// the tree could not be signalled.
var ErrPartialTermination = errors.New("process: partial termination")

// TerminationError lists the processes that could not be signalled during
// TerminateTree. It matches ErrPartialTermination with errors.Is.
type TerminationError struct {
	Failed []int32
	Errs   []error
}

func (e *TerminationError) add(pid int32, err error) {
	e.Failed = append(e.Failed, pid)
	e.Errs = append(e.Errs, fmt.Errorf("pid %d: %w", pid, err))
}

// Error implements the error interface.
func (e *TerminationError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%v: %s", ErrPartialTermination, strings.Join(msgs, "; "))
}

// Is reports whether target is ErrPartialTermination.
func (e *TerminationError) Is(target error) bool {
	return target == ErrPartialTermination
}

// Unwrap returns the individual signal errors.
func (e *TerminationError) Unwrap() []error {
	return e.Errs
}
