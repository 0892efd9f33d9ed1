// Package audit records operator actions on the miner: starts, stops and
// tuning applications requested through the API or MQTT.
//
// Supervisor-initiated work (the automatic active/idle profile
// applications) is history, not audit, and lives in package history.
package audit

import (
	"context"
	"errors"
	"time"
)

// Actions.
const (
	ActionMinerStart     = "miner.start"
	ActionMinerStop      = "miner.stop"
	ActionTuningApply    = "tuning.apply"
	ActionTuningDiagnose = "tuning.diagnose"
)

// Sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// Outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Entry is one audited action.
type Entry struct {
	ID      string `json:"id"`
	Action  string `json:"action"`
	Source  string `json:"source"`
	Subject string `json:"subject,omitempty"`
	Outcome string `json:"outcome"`

	// Details holds action-specific fields such as the profile name or the
	// error text of a failed action.
	Details map[string]any `json:"details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Action string // optional
	Source string // optional
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult is a page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores audit entries.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ErrInvalidEntry is returned by Record for an entry without action or source.
var ErrInvalidEntry = errors.New("audit entry requires action and source")
