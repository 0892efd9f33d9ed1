package miner

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a live miner process exists.
	ErrAlreadyRunning = errors.New("miner: already running")

	// ErrSpawnFailed wraps the error from starting the miner executable.
	ErrSpawnFailed = errors.New("miner: spawn failed")

	// ErrInvalidConfig is returned by New for an unusable Config.
	ErrInvalidConfig = errors.New("miner: invalid config")

	// errTransientEmpty means the output pipe had no data but the miner is
	// still alive. It never leaves the reader loop.
	errTransientEmpty = errors.New("miner: no output available yet")
)
