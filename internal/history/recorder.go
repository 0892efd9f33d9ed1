package history

import (
	"context"
	"time"

	"github.com/nerrad567/minerctl/internal/events"
	"github.com/nerrad567/minerctl/internal/telemetry"
)

// recorderBuffer is the subscription depth. Block events are rare; state
// and snapshot events arrive every few seconds at most.
const recorderBuffer = 256

// writeTimeout bounds a single repository write.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface for the recorder.
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

// Recorder persists bus events into a Repository.
//
// A run is opened on every transition to running and closed, with the last
// snapshot seen for its generation, on the next transition to idle.
type Recorder struct {
	repo   Repository
	logger Logger

	// Owned by the Run goroutine.
	openRun  int64
	runGen   uint64
	lastSnap telemetry.Snapshot
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Run consumes events from bus until ctx is done or the bus is closed.
// An open run is closed before Run returns.
func (r *Recorder) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe(recorderBuffer,
		events.KindBlockFound,
		events.KindStateChanged,
		events.KindSnapshot,
		events.KindTuning,
	)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			r.closeRun(RunSummary{ExitError: "minerctl shut down"})
			return
		case e, ok := <-sub.C():
			if !ok {
				r.closeRun(RunSummary{ExitError: "minerctl shut down"})
				return
			}
			r.Handle(e)
		}
	}
}

// Handle persists a single event. Write failures are logged.
func (r *Recorder) Handle(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch ev := e.(type) {
	case events.BlockFound:
		err := r.repo.RecordBlock(ctx, Block{
			ID:         ev.ID,
			FoundAt:    ev.Timestamp,
			Generation: ev.Generation,
			RawLine:    ev.RawLine,
		})
		if err != nil {
			r.logger.Error("recording block failed", "id", ev.ID, "error", err)
		}

	case events.SnapshotEvent:
		if ev.Generation == r.runGen {
			r.lastSnap = ev.Snapshot
		}

	case events.StateChanged:
		r.handleState(ctx, ev)

	case events.TuningResult:
		err := r.repo.RecordTuning(ctx, TuningRecord{
			AppliedAt: ev.Timestamp,
			Phase:     ev.Phase,
			Outcome:   ev.Outcome,
			Profile:   ev.Profile,
			GPUIndex:  ev.GPUIndex,
			Message:   ev.Message,
			Error:     ev.Err,
		})
		if err != nil {
			r.logger.Warn("recording tuning result failed", "error", err)
		}
	}
}

func (r *Recorder) handleState(ctx context.Context, ev events.StateChanged) {
	switch ev.To {
	case "running":
		r.closeRun(RunSummary{StoppedAt: ev.Timestamp})

		id, err := r.repo.StartRun(ctx, ev.Generation, ev.PID, ev.Timestamp)
		if err != nil {
			r.logger.Warn("recording run start failed", "generation", ev.Generation, "error", err)
			return
		}
		r.openRun = id
		r.runGen = ev.Generation
		r.lastSnap = telemetry.Snapshot{}

	case "idle":
		if ev.Generation != r.runGen {
			return
		}
		r.closeRun(RunSummary{StoppedAt: ev.Timestamp, ExitError: ev.Err})
	}
}

func (r *Recorder) closeRun(s RunSummary) {
	if r.openRun == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	s.Accepted = r.lastSnap.Accepted
	s.Rejected = r.lastSnap.Rejected
	s.Invalid = r.lastSnap.Invalid
	s.Hashrate = r.lastSnap.Hashrate

	if err := r.repo.FinishRun(ctx, r.openRun, s); err != nil {
		r.logger.Warn("recording run end failed", "run", r.openRun, "error", err)
	}
	r.openRun = 0
}
