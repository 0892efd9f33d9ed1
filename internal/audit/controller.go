package audit

import "context"

// Controller is the start/stop surface of the miner supervisor.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Logger is the logging interface used when recording fails.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Audited wraps a Controller so every call is recorded under one source.
// Recording is best effort: a failed insert is logged and never changes
// the result of the wrapped call.
type Audited struct {
	ctrl    Controller
	repo    Repository
	source  string
	subject string
	logger  Logger
}

var _ Controller = (*Audited)(nil)

// NewAudited creates an audited controller. subject names the caller, for
// example the MQTT broker address.
func NewAudited(ctrl Controller, repo Repository, source, subject string) *Audited {
	return &Audited{ctrl: ctrl, repo: repo, source: source, subject: subject, logger: noopLogger{}}
}

// SetLogger sets the logger for record failures.
func (a *Audited) SetLogger(logger Logger) {
	a.logger = logger
}

// Start starts the miner and records the action.
func (a *Audited) Start(ctx context.Context) error {
	err := a.ctrl.Start(ctx)
	a.record(ctx, ActionMinerStart, err)
	return err
}

// Stop stops the miner and records the action.
func (a *Audited) Stop(ctx context.Context) error {
	err := a.ctrl.Stop(ctx)
	a.record(ctx, ActionMinerStop, err)
	return err
}

func (a *Audited) record(ctx context.Context, action string, err error) {
	e := NewEntry(action, a.source, a.subject, err, nil)
	if recErr := a.repo.Record(context.WithoutCancel(ctx), &e); recErr != nil {
		a.logger.Warn("recording audit entry failed", "action", action, "error", recErr)
	}
}

// NewEntry builds an entry for an action that finished with err.
// A non-nil err marks the entry failed and is stored under details["error"].
func NewEntry(action, source, subject string, err error, details map[string]any) Entry {
	e := Entry{
		Action:  action,
		Source:  source,
		Subject: subject,
		Outcome: OutcomeOK,
		Details: details,
	}
	if err != nil {
		e.Outcome = OutcomeFailed
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details["error"] = err.Error()
	}
	return e
}
