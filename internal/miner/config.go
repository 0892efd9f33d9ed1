package miner

import (
	"fmt"
	"time"
)

// Defaults applied by New for zero values.
const (
	DefaultReadBackoff      = 50 * time.Millisecond
	DefaultStopGrace        = 500 * time.Millisecond
	DefaultSnapshotInterval = 2 * time.Second
	DefaultFailureMarker    = "cuda not found"
	DefaultTailBytes        = 64 * 1024
)

// Config holds the resolved settings for a Supervisor.
type Config struct {
	// Binary is the absolute path to the miner executable.
	Binary string

	// Args are the miner's command-line arguments.
	Args []string

	// WorkDir is the miner's working directory.
	WorkDir string

	// Env holds extra KEY=VALUE pairs for the miner.
	Env []string

	// LogPath is the rolling log inspected during pre-flight.
	// Default: the path of Deps.Log, when set.
	LogPath string

	ProfileActive string
	ProfileIdle   string
	GPUIndex      int

	// PreSpawnDelay is the pause between applying the active profile and
	// spawning the miner. 0 means no pause.
	PreSpawnDelay time.Duration

	// ReapplyDelay schedules a second application of the active profile
	// after the miner starts. 0 disables it.
	ReapplyDelay time.Duration

	// ReadBackoff is the pause before retrying a read that found no data
	// while the miner is still alive.
	ReadBackoff time.Duration

	// StopGrace is how long the process tree gets between SIGTERM and SIGKILL.
	StopGrace time.Duration

	// SnapshotInterval is the period of snapshot events while running.
	SnapshotInterval time.Duration

	// FailureMarker is searched (case-insensitively) in the log tail during
	// pre-flight. Empty uses DefaultFailureMarker.
	FailureMarker string

	// TailBytes is how much of the log tail pre-flight inspects.
	TailBytes int64
}

func (c Config) withDefaults() Config {
	if c.ReadBackoff == 0 {
		c.ReadBackoff = DefaultReadBackoff
	}
	if c.StopGrace == 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = DefaultSnapshotInterval
	}
	if c.FailureMarker == "" {
		c.FailureMarker = DefaultFailureMarker
	}
	if c.TailBytes == 0 {
		c.TailBytes = DefaultTailBytes
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("%w: binary is required", ErrInvalidConfig)
	}
	if c.PreSpawnDelay < 0 || c.ReapplyDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidConfig)
	}
	if c.GPUIndex < 0 {
		return fmt.Errorf("%w: gpu index must not be negative", ErrInvalidConfig)
	}
	return nil
}
