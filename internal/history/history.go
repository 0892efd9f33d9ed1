package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Block is a persisted solo block win.
type Block struct {
	ID         uuid.UUID `json:"id"`
	FoundAt    time.Time `json:"found_at"`
	Generation uint64    `json:"generation"`
	RawLine    string    `json:"raw_line"`
}

// Run is one supervised start of the miner.
// StoppedAt is nil while the run is open.
type Run struct {
	ID         int64      `json:"id"`
	Generation uint64     `json:"generation"`
	PID        int        `json:"pid"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	ExitError  string     `json:"exit_error,omitempty"`
	Accepted   uint64     `json:"accepted"`
	Rejected   uint64     `json:"rejected"`
	Invalid    uint64     `json:"invalid"`
	Hashrate   float64    `json:"hashrate_mhs"`
}

// RunSummary is the closing state of a run.
type RunSummary struct {
	StoppedAt time.Time
	ExitError string
	Accepted  uint64
	Rejected  uint64
	Invalid   uint64
	Hashrate  float64
}

// TuningRecord is one persisted tuning application.
type TuningRecord struct {
	ID        int64     `json:"id"`
	AppliedAt time.Time `json:"applied_at"`
	Phase     string    `json:"phase"`
	Outcome   string    `json:"outcome"`
	Profile   string    `json:"profile"`
	GPUIndex  int       `json:"gpu_index"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Repository stores miner history.
type Repository interface {
	RecordBlock(ctx context.Context, b Block) error
	ListBlocks(ctx context.Context, limit int) ([]Block, error)

	StartRun(ctx context.Context, generation uint64, pid int, startedAt time.Time) (int64, error)
	FinishRun(ctx context.Context, id int64, summary RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	RecordTuning(ctx context.Context, rec TuningRecord) error
	ListTuning(ctx context.Context, limit int) ([]TuningRecord, error)

	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
