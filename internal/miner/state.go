package miner

import (
	"time"

	"github.com/nerrad567/minerctl/internal/telemetry"
)

// State is the supervisor lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats is a point-in-time view of the supervisor.
type Stats struct {
	State       State              `json:"state"`
	PID         int                `json:"pid,omitempty"`
	Uptime      time.Duration      `json:"uptime,omitempty"`
	Generation  uint64             `json:"generation"`
	Snapshot    telemetry.Snapshot `json:"snapshot"`
	BlocksFound uint64             `json:"blocks_found"`
	LastExit    string             `json:"last_exit,omitempty"`
}
