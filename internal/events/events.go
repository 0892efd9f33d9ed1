package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/minerctl/internal/telemetry"
)

// Kind identifies an event type.
type Kind string

const (
	KindBlockFound   Kind = "block_found"
	KindSnapshot     Kind = "snapshot"
	KindStateChanged Kind = "state_changed"
	KindWarning      Kind = "warning"
	KindTuning       Kind = "tuning"
	KindLogLine      Kind = "log_line"
)

// Event is anything published on the bus.
type Event interface {
	Kind() Kind
	Time() time.Time
}

// BlockFound is published once per miner output line announcing a solo block.
// Identical lines produce separate events.
type BlockFound struct {
	ID         uuid.UUID `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	RawLine    string    `json:"raw_line"`
	Generation uint64    `json:"generation"`
}

// NewBlockFound stamps a block-found event with a fresh ID and the current time.
func NewBlockFound(line string, gen uint64) BlockFound {
	return BlockFound{
		ID:         uuid.New(),
		Timestamp:  time.Now(),
		RawLine:    line,
		Generation: gen,
	}
}

func (e BlockFound) Kind() Kind      { return KindBlockFound }
func (e BlockFound) Time() time.Time { return e.Timestamp }

// SnapshotEvent carries a periodic copy of the telemetry snapshot.
type SnapshotEvent struct {
	Timestamp  time.Time          `json:"timestamp"`
	Snapshot   telemetry.Snapshot `json:"snapshot"`
	Generation uint64             `json:"generation"`
}

func (e SnapshotEvent) Kind() Kind      { return KindSnapshot }
func (e SnapshotEvent) Time() time.Time { return e.Timestamp }

// StateChanged reports a supervisor state transition.
// Err is set when the transition was caused by the miner exiting on its own
// with an error.
type StateChanged struct {
	Timestamp  time.Time `json:"timestamp"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Generation uint64    `json:"generation"`
	PID        int       `json:"pid,omitempty"`
	Err        string    `json:"error,omitempty"`
}

func (e StateChanged) Kind() Kind      { return KindStateChanged }
func (e StateChanged) Time() time.Time { return e.Timestamp }

// Warning codes.
const (
	WarnNoGPU              = "no_gpu"
	WarnPriorFailure       = "prior_failure"
	WarnPartialTermination = "partial_termination"
	WarnLogWrite           = "log_write"
)

// Warning is a non-fatal condition surfaced to the operator.
type Warning struct {
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

func (e Warning) Kind() Kind      { return KindWarning }
func (e Warning) Time() time.Time { return e.Timestamp }

// Tuning phases.
const (
	PhaseActive  = "active"
	PhaseReapply = "reapply"
	PhaseIdle    = "idle"

	// PhaseManual is an operator-initiated apply outside the supervisor
	// lifecycle.
	PhaseManual = "manual"
)

// TuningResult reports one tuning application.
type TuningResult struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
	Outcome   string    `json:"outcome"`
	Profile   string    `json:"profile"`
	GPUIndex  int       `json:"gpu_index"`
	Message   string    `json:"message,omitempty"`
	Err       string    `json:"error,omitempty"`
}

func (e TuningResult) Kind() Kind      { return KindTuning }
func (e TuningResult) Time() time.Time { return e.Timestamp }

// LogLine carries one raw line of miner output.
type LogLine struct {
	Timestamp  time.Time `json:"timestamp"`
	Line       string    `json:"line"`
	Generation uint64    `json:"generation"`
}

func (e LogLine) Kind() Kind      { return KindLogLine }
func (e LogLine) Time() time.Time { return e.Timestamp }
