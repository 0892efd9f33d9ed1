package tuning

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mode selects how (and whether) GPU tuning profiles are applied.
type Mode string

const (
	// ModeNone disables tuning. Every Apply returns OutcomeNotAttempted.
	ModeNone Mode = "none"

	// ModeExternalTool drives an OverdriveNTool-compatible executable.
	ModeExternalTool Mode = "odnt"
)

// ParseMode converts a configuration string to a Mode.
// "external-tool" is accepted as an alias of "odnt". Empty means none.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeNone):
		return ModeNone, nil
	case string(ModeExternalTool), "external-tool":
		return ModeExternalTool, nil
	default:
		return ModeNone, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Config holds the resolved settings for a tuning controller.
type Config struct {
	Mode Mode

	// ToolPath is the absolute path to the tuning executable.
	ToolPath string

	// GPUIndex is the default device index used by callers that do not
	// choose one explicitly.
	GPUIndex int

	// Timeout bounds a single tool invocation. 0 means no bound beyond
	// the caller's context.
	Timeout time.Duration
}

// Outcome classifies the result of an Apply call.
type Outcome int

const (
	// OutcomeNotAttempted means tuning is disabled.
	OutcomeNotAttempted Outcome = iota

	// OutcomeSucceeded means the tool ran and exited zero.
	OutcomeSucceeded

	// OutcomeFailed means a precondition failed or the tool reported failure.
	OutcomeFailed
)

// String returns the lowercase outcome name used in logs, events and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeNotAttempted:
		return "not_attempted"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result reports what happened when a profile was applied.
type Result struct {
	Outcome  Outcome
	Profile  string
	GPUIndex int

	// Message is the human-readable detail, usually the tool's trimmed
	// combined output.
	Message string

	// Err is set when Outcome is OutcomeFailed. It wraps one of the
	// package sentinels.
	Err error
}

// OK reports whether the result is not a failure.
func (r Result) OK() bool {
	return r.Outcome != OutcomeFailed
}

// Controller applies named tuning profiles to a GPU.
//
// Apply never panics and never returns a bare error: failures are reported
// in the Result so callers can log and continue.
type Controller interface {
	Apply(ctx context.Context, profile string, gpuIndex int) Result
	Profiles() ([]string, error)
}

// Logger defines the logging interface for the tuning controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
