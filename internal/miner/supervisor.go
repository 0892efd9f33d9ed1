package miner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/minerctl/internal/events"
	"github.com/nerrad567/minerctl/internal/gpu"
	"github.com/nerrad567/minerctl/internal/process"
	"github.com/nerrad567/minerctl/internal/rollinglog"
	"github.com/nerrad567/minerctl/internal/telemetry"
	"github.com/nerrad567/minerctl/internal/tuning"
)

// Logger defines the logging interface for the supervisor.
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

// Deps are the supervisor's collaborators. Every field is optional.
type Deps struct {
	// Tuner applies GPU profiles around start and stop.
	Tuner tuning.Controller

	// Sink receives events. A private bus is created when nil.
	Sink *events.Bus

	// Probe is consulted during pre-flight.
	Probe gpu.Prober

	// Log receives every output line.
	Log *rollinglog.Writer
}

// Supervisor owns at most one miner process at a time.
//
// Start and Stop are serialised. Telemetry state is guarded by an RWMutex
// and is only ever mutated by the reader of the current generation; a
// generation is one Start of the miner.
type Supervisor struct {
	cfg    Config
	deps   Deps
	sink   *events.Bus
	logger Logger

	// opMu serialises Start, Stop and the delayed re-apply.
	opMu sync.Mutex

	mu        sync.RWMutex
	state     State
	gen       uint64
	handle    *process.Handle
	snapshot  telemetry.Snapshot
	startedAt time.Time
	lastExit  string
	reapply   *time.Timer
	cancelRun context.CancelFunc

	blocks atomic.Uint64

	// wg tracks the per-generation goroutines.
	wg sync.WaitGroup
}

// New creates a supervisor. Zero timing fields take package defaults.
func New(cfg Config, deps Deps) (*Supervisor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LogPath == "" && deps.Log != nil {
		cfg.LogPath = deps.Log.Path()
	}

	sink := deps.Sink
	if sink == nil {
		sink = events.NewBus()
	}

	return &Supervisor{
		cfg:    cfg,
		deps:   deps,
		sink:   sink,
		logger: noopLogger{},
		state:  StateIdle,
	}, nil
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Sink returns the bus events are published on.
func (s *Supervisor) Sink() *events.Bus {
	return s.sink
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config {
	return s.cfg
}

// Start launches the miner.
//
// It fails with ErrAlreadyRunning, without touching any state, while a live
// miner exists. Pre-flight warnings and tuning failures are published on
// the sink and never prevent the start.
func (s *Supervisor) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	stale := s.handle
	s.mu.RUnlock()
	if stale != nil && stale.Alive() {
		return ErrAlreadyRunning
	}

	// The previous miner exited but its exit has not been handled yet.
	if stale != nil {
		if err := stale.TerminateTree(s.cfg.StopGrace); err != nil {
			s.logger.Warn("previous miner process tree not fully terminated", "error", err)
			s.warn(events.WarnPartialTermination, err.Error())
		}
	}

	s.preflight(ctx)

	s.mu.Lock()
	prev := s.state
	s.stopRunLocked()
	s.gen++
	gen := s.gen
	s.state = StateStarting
	s.snapshot = telemetry.Snapshot{}
	s.handle = nil
	s.lastExit = ""
	s.mu.Unlock()
	s.publishState(prev, StateStarting, gen, 0, "")

	s.applyProfile(ctx, events.PhaseActive, s.cfg.ProfileActive)

	if s.cfg.PreSpawnDelay > 0 {
		select {
		case <-ctx.Done():
			s.abortStart(gen, ctx.Err())
			return ctx.Err()
		case <-time.After(s.cfg.PreSpawnDelay):
		}
	}

	s.logger.Info("starting miner",
		"binary", s.cfg.Binary,
		"args", s.cfg.Args,
		"generation", gen,
	)

	h, err := process.Spawn(ctx, process.Spec{
		Binary: s.cfg.Binary,
		Args:   s.cfg.Args,
		Dir:    s.cfg.WorkDir,
		Env:    s.cfg.Env,
	})
	if err != nil {
		s.abortStart(gen, err)
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}
	h.SetLogger(s.logger)

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.handle = h
	s.startedAt = h.StartedAt()
	s.state = StateRunning
	s.cancelRun = cancel
	if s.cfg.ReapplyDelay > 0 {
		s.reapply = time.AfterFunc(s.cfg.ReapplyDelay, func() { s.reapplyActive(gen) })
	}
	s.mu.Unlock()

	s.logger.Info("miner started", "pid", h.PID(), "generation", gen)
	s.publishState(StateStarting, StateRunning, gen, h.PID(), "")

	s.wg.Add(3)
	go s.readLoop(gen, h)
	go s.watchExit(gen, h)
	go s.tickSnapshots(runCtx, gen)

	return nil
}

// abortStart returns a failed start to Idle.
func (s *Supervisor) abortStart(gen uint64, cause error) {
	s.mu.Lock()
	if s.gen == gen {
		s.state = StateIdle
	}
	s.mu.Unlock()

	s.logger.Error("miner start failed", "error", cause, "generation", gen)
	s.publishState(StateStarting, StateIdle, gen, 0, cause.Error())
}

// preflight publishes warnings about conditions that commonly break mining.
func (s *Supervisor) preflight(ctx context.Context) {
	if s.deps.Probe != nil {
		info, err := s.deps.Probe.Probe(ctx)
		if err != nil {
			s.logger.Warn("gpu probe failed", "error", err)
		}
		if info.Empty() {
			s.warn(events.WarnNoGPU, "no GPU detected")
		}
	}

	if s.cfg.LogPath != "" && s.cfg.FailureMarker != "" {
		found, err := rollinglog.ContainsFold(s.cfg.LogPath, s.cfg.TailBytes, s.cfg.FailureMarker)
		if err != nil {
			s.logger.Warn("reading miner log tail failed", "path", s.cfg.LogPath, "error", err)
		}
		if found {
			s.warn(events.WarnPriorFailure,
				fmt.Sprintf("previous run logged %q; check the GPU driver installation", s.cfg.FailureMarker))
		}
	}
}

// Stop terminates the miner's process tree and applies the idle profile.
// Stopping an idle supervisor is a no-op. A partial termination is published
// as a warning, not returned.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	h := s.handle
	if s.state == StateIdle && (h == nil || !h.Alive()) {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	gen := s.gen
	s.state = StateStopping
	s.stopRunLocked()
	s.mu.Unlock()

	s.publishState(prev, StateStopping, gen, 0, "")

	if h != nil {
		s.logger.Info("stopping miner", "pid", h.PID(), "generation", gen)
		if err := h.TerminateTree(s.cfg.StopGrace); err != nil {
			s.logger.Warn("miner process tree not fully terminated", "error", err)
			s.warn(events.WarnPartialTermination, err.Error())
		}
	}

	s.applyProfile(ctx, events.PhaseIdle, s.cfg.ProfileIdle)

	s.mu.Lock()
	if s.gen == gen {
		s.state = StateIdle
		s.handle = nil
	}
	s.mu.Unlock()

	s.logger.Info("miner stopped", "generation", gen)
	s.publishState(StateStopping, StateIdle, gen, 0, "")
	return nil
}

// stopRunLocked cancels the re-apply timer and snapshot ticker. s.mu must be held.
func (s *Supervisor) stopRunLocked() {
	if s.reapply != nil {
		s.reapply.Stop()
		s.reapply = nil
	}
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
}

// Wait blocks until the goroutines of every started generation have exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// reapplyActive applies the active profile a second time, if gen is still
// the running generation.
func (s *Supervisor) reapplyActive(gen uint64) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	current := s.gen == gen && s.state == StateRunning
	s.mu.RUnlock()
	if !current {
		return
	}

	s.applyProfile(context.Background(), events.PhaseReapply, s.cfg.ProfileActive)
}

// applyProfile runs the tuner and publishes the outcome. Failures are
// reported, never returned.
func (s *Supervisor) applyProfile(ctx context.Context, phase, profile string) {
	if s.deps.Tuner == nil {
		return
	}

	res := s.deps.Tuner.Apply(ctx, profile, s.cfg.GPUIndex)
	switch res.Outcome {
	case tuning.OutcomeFailed:
		s.logger.Warn("tuning failed",
			"phase", phase,
			"profile", profile,
			"error", res.Err,
			"message", res.Message,
		)
	case tuning.OutcomeSucceeded:
		s.logger.Info("tuning applied", "phase", phase, "profile", profile)
	default:
		s.logger.Debug("tuning not attempted", "phase", phase)
	}
	s.sink.Publish(events.NewTuningResult(phase, res))
}

// watchExit returns the supervisor to Idle when the miner of gen exits on
// its own. Processes the miner left behind in its group are killed, so they
// cannot hold the output pipe open. Exits during Stop are handled by Stop.
func (s *Supervisor) watchExit(gen uint64, h *process.Handle) {
	defer s.wg.Done()
	<-h.Done()

	if err := h.KillGroup(); err != nil {
		s.logger.Warn("killing leftover miner processes failed", "pid", h.PID(), "error", err)
	}

	exitErr := h.ExitErr()
	msg := ""
	if exitErr != nil {
		msg = exitErr.Error()
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.handle = nil
	s.lastExit = msg
	s.stopRunLocked()
	s.mu.Unlock()

	s.logger.Warn("miner exited", "pid", h.PID(), "generation", gen, "error", exitErr)
	s.publishState(StateRunning, StateIdle, gen, h.PID(), msg)
}

// tickSnapshots publishes the snapshot periodically until ctx is done.
func (s *Supervisor) tickSnapshots(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sink.Publish(events.SnapshotEvent{
				Timestamp:  now,
				Snapshot:   s.Snapshot(),
				Generation: gen,
			})
		}
	}
}

func (s *Supervisor) publishState(from, to State, gen uint64, pid int, errMsg string) {
	s.sink.Publish(events.StateChanged{
		Timestamp:  time.Now(),
		From:       from.String(),
		To:         to.String(),
		Generation: gen,
		PID:        pid,
		Err:        errMsg,
	})
}

func (s *Supervisor) warn(code, msg string) {
	s.logger.Warn("miner warning", "code", code, "message", msg)
	s.sink.Publish(events.NewWarning(code, msg))
}

// Snapshot returns a copy of the current telemetry.
func (s *Supervisor) Snapshot() telemetry.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// State returns the lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Generation returns the number of the most recent start.
func (s *Supervisor) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// PID returns the miner's process ID, or 0 when none is running.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return 0
	}
	return s.handle.PID()
}

// Stats returns a point-in-time view of the supervisor.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		State:       s.state,
		Generation:  s.gen,
		Snapshot:    s.snapshot,
		BlocksFound: s.blocks.Load(),
		LastExit:    s.lastExit,
	}
	if s.handle != nil {
		st.PID = s.handle.PID()
		st.Uptime = time.Since(s.startedAt).Truncate(time.Second)
	}
	return st
}
