package tuning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"
)

// PrivilegeChecker reports whether the current process may drive the tool.
type PrivilegeChecker interface {
	IsPrivileged() bool
}

// PrivilegeFunc adapts a function to PrivilegeChecker.
type PrivilegeFunc func() bool

// IsPrivileged calls f.
func (f PrivilegeFunc) IsPrivileged() bool { return f() }

// rootChecker treats an effective UID of 0 as privileged.
type rootChecker struct{}

func (rootChecker) IsPrivileged() bool { return unix.Geteuid() == 0 }

// Privileged reports whether the running process has the privileges the
// default checker requires.
func Privileged() bool { return rootChecker{}.IsPrivileged() }

// Runner executes the tool and returns its combined stdout and stderr.
//
// A non-zero exit is reported through exitCode with a nil error. err is
// reserved for failures to run the tool at all (including timeouts).
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (combined []byte, exitCode int, err error)
}

// execRunner runs the tool with os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err == nil {
		return out, 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, exitErr.ExitCode(), ctxErr
		}
		return out, exitErr.ExitCode(), nil
	}
	return out, -1, err
}

// Option configures an ODNT controller.
type Option func(*ODNT)

// WithPrivilegeChecker replaces the default effective-UID check.
func WithPrivilegeChecker(pc PrivilegeChecker) Option {
	return func(o *ODNT) { o.priv = pc }
}

// WithRunner replaces the os/exec based runner.
func WithRunner(r Runner) Option {
	return func(o *ODNT) { o.runner = r }
}

// ODNT drives an OverdriveNTool-compatible executable.
//
// The profile list is read from the tool's ini file on first use and cached
// until InvalidateProfiles is called. Concurrent first reads share one load.
type ODNT struct {
	cfg    Config
	priv   PrivilegeChecker
	runner Runner
	logger Logger

	loads singleflight.Group

	mu       sync.Mutex
	profiles []string
	cached   bool
}

var _ Controller = (*ODNT)(nil)

// New creates a controller for cfg.
func New(cfg Config, opts ...Option) *ODNT {
	o := &ODNT{
		cfg:    cfg,
		priv:   rootChecker{},
		runner: execRunner{},
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetLogger sets the logger for the controller.
func (o *ODNT) SetLogger(logger Logger) {
	o.logger = logger
}

// Config returns the controller's configuration.
func (o *ODNT) Config() Config {
	return o.cfg
}

// Enabled reports whether Apply will attempt anything.
func (o *ODNT) Enabled() bool {
	return o.cfg.Mode == ModeExternalTool
}

// Apply runs "<tool> -r<gpu> -p<gpu><profile>" from the tool's directory.
//
// Checks run in this order: mode, privilege, tool presence, profile name.
// The first failing check decides the result and the tool is not run.
func (o *ODNT) Apply(ctx context.Context, profile string, gpuIndex int) Result {
	res := Result{Profile: profile, GPUIndex: gpuIndex}

	if !o.Enabled() {
		res.Outcome = OutcomeNotAttempted
		res.Message = "tuning disabled"
		return res
	}

	if !o.priv.IsPrivileged() {
		return failed(res, ErrPrivilegeRequired, "tuning requires elevated privileges")
	}

	if _, err := os.Stat(o.cfg.ToolPath); err != nil {
		return failed(res, fmt.Errorf("%w: %s", ErrToolNotFound, o.cfg.ToolPath), "tool not found: "+o.cfg.ToolPath)
	}

	profiles, err := o.Profiles()
	if err != nil {
		// An unreadable ini is treated like an empty one.
		o.logger.Warn("reading tuning profiles failed", "error", err)
	}
	if len(profiles) > 0 && !slices.Contains(profiles, profile) {
		return failed(res,
			fmt.Errorf("%w: %q", ErrUnknownProfile, profile),
			fmt.Sprintf("profile %q not found in %s", profile, filepath.Base(INIPath(o.cfg.ToolPath))))
	}

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	args := CommandArgs(profile, gpuIndex)
	o.logger.Debug("applying tuning profile", "tool", o.cfg.ToolPath, "args", args)

	out, code, err := o.runner.Run(ctx, filepath.Dir(o.cfg.ToolPath), o.cfg.ToolPath, args...)
	res.Message = strings.TrimSpace(string(out))
	switch {
	case err != nil:
		if res.Message == "" {
			res.Message = err.Error()
		}
		return failed(res, fmt.Errorf("%w: %w", ErrToolFailed, err), res.Message)
	case code != 0:
		return failed(res, fmt.Errorf("%w: exit code %d", ErrToolFailed, code), res.Message)
	}

	res.Outcome = OutcomeSucceeded
	o.logger.Info("tuning profile applied", "profile", profile, "gpu", gpuIndex)
	return res
}

// Profiles returns the profile names from the tool's ini file.
// A missing ini yields an empty list. The returned slice is a copy.
func (o *ODNT) Profiles() ([]string, error) {
	if o.cfg.ToolPath == "" {
		return nil, nil
	}

	o.mu.Lock()
	if o.cached {
		p := slices.Clone(o.profiles)
		o.mu.Unlock()
		return p, nil
	}
	o.mu.Unlock()

	v, err, _ := o.loads.Do("profiles", func() (any, error) {
		p, err := ReadProfiles(INIPath(o.cfg.ToolPath))
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		o.profiles = p
		o.cached = true
		o.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]string)), nil
}

// InvalidateProfiles drops the cached profile list so the next call rereads the ini.
func (o *ODNT) InvalidateProfiles() {
	o.mu.Lock()
	o.profiles = nil
	o.cached = false
	o.mu.Unlock()
}

// CommandArgs returns the tool arguments that reset and apply profile on gpuIndex.
func CommandArgs(profile string, gpuIndex int) []string {
	return []string{
		fmt.Sprintf("-r%d", gpuIndex),
		fmt.Sprintf("-p%d%s", gpuIndex, profile),
	}
}

func failed(res Result, err error, msg string) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	if res.Message == "" {
		res.Message = msg
	}
	return res
}
