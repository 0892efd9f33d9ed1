package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/minerctl/internal/infrastructure/database"
	"github.com/nerrad567/minerctl/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRecordAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Action: ActionMinerStart, Source: SourceAPI, Subject: "alice", CreatedAt: base},
		{Action: ActionTuningApply, Source: SourceAPI, Subject: "alice", CreatedAt: base.Add(time.Minute),
			Details: map[string]any{"profile": "Kaspa", "gpu_index": 1}},
		{Action: ActionMinerStop, Source: SourceMQTT, CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range entries {
		if err := repo.Record(ctx, &entries[i]); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if entries[i].ID == "" {
			t.Errorf("Record() did not assign an ID")
		}
		if entries[i].Outcome != OutcomeOK {
			t.Errorf("Outcome = %q, want %q", entries[i].Outcome, OutcomeOK)
		}
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 3 || len(res.Entries) != 3 {
		t.Fatalf("List() total = %d, entries = %d, want 3, 3", res.Total, len(res.Entries))
	}
	if res.Limit != defaultListLimit {
		t.Errorf("Limit = %d, want %d", res.Limit, defaultListLimit)
	}
	if got := res.Entries[0].Action; got != ActionMinerStop {
		t.Errorf("newest action = %q, want %q", got, ActionMinerStop)
	}
	if got := res.Entries[0].Subject; got != "" {
		t.Errorf("empty subject round-tripped as %q", got)
	}

	apply := res.Entries[1]
	if apply.Details["profile"] != "Kaspa" {
		t.Errorf("details[profile] = %v, want Kaspa", apply.Details["profile"])
	}
	// JSON numbers decode as float64.
	if apply.Details["gpu_index"] != float64(1) {
		t.Errorf("details[gpu_index] = %v, want 1", apply.Details["gpu_index"])
	}
	if !apply.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("CreatedAt = %v, want %v", apply.CreatedAt, base.Add(time.Minute))
	}
}

func TestListFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, e := range []Entry{
		{Action: ActionMinerStart, Source: SourceAPI},
		{Action: ActionMinerStart, Source: SourceMQTT},
		{Action: ActionMinerStop, Source: SourceMQTT},
	} {
		if err := repo.Record(ctx, &e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		total  int
		page   int
	}{
		{"all", Filter{}, 3, 3},
		{"by action", Filter{Action: ActionMinerStart}, 2, 2},
		{"by source", Filter{Source: SourceMQTT}, 2, 2},
		{"both", Filter{Action: ActionMinerStart, Source: SourceMQTT}, 1, 1},
		{"paged", Filter{Limit: 2, Offset: 2}, 3, 1},
		{"negative offset", Filter{Offset: -5}, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Entries) != tt.page {
				t.Errorf("len(Entries) = %d, want %d", len(res.Entries), tt.page)
			}
		})
	}

	res, err := repo.List(ctx, Filter{Limit: 10_000})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxListLimit {
		t.Errorf("Limit = %d, want clamp to %d", res.Limit, maxListLimit)
	}
}

func TestRecord_Invalid(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.Record(context.Background(), &Entry{Action: ActionMinerStart})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Record() error = %v, want ErrInvalidEntry", err)
	}
}

func TestPrune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := Entry{Action: ActionMinerStart, Source: SourceAPI, CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := Entry{Action: ActionMinerStop, Source: SourceAPI}
	for _, e := range []*Entry{&old, &fresh} {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) should fail")
	}
}

type fakeController struct {
	startErr error
	starts   int
	stops    int
}

func (f *fakeController) Start(context.Context) error { f.starts++; return f.startErr }
func (f *fakeController) Stop(context.Context) error  { f.stops++; return nil }

func TestAudited(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ctrl := &fakeController{startErr: errors.New("miner already running")}

	a := NewAudited(ctrl, repo, SourceMQTT, "tcp://broker:1883")
	if err := a.Start(ctx); err == nil || err.Error() != "miner already running" {
		t.Errorf("Start() error = %v, want the wrapped error unchanged", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if ctrl.starts != 1 || ctrl.stops != 1 {
		t.Errorf("calls = %d starts, %d stops, want 1, 1", ctrl.starts, ctrl.stops)
	}

	res, err := repo.List(ctx, Filter{Source: SourceMQTT})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("Total = %d, want 2", res.Total)
	}

	byAction := map[string]Entry{}
	for _, e := range res.Entries {
		byAction[e.Action] = e
	}
	start := byAction[ActionMinerStart]
	if start.Outcome != OutcomeFailed {
		t.Errorf("start outcome = %q, want %q", start.Outcome, OutcomeFailed)
	}
	if start.Details["error"] != "miner already running" {
		t.Errorf("start details[error] = %v", start.Details["error"])
	}
	if start.Subject != "tcp://broker:1883" {
		t.Errorf("start subject = %q", start.Subject)
	}
	if stop := byAction[ActionMinerStop]; stop.Outcome != OutcomeOK {
		t.Errorf("stop outcome = %q, want %q", stop.Outcome, OutcomeOK)
	}
}

func TestNewEntry(t *testing.T) {
	e := NewEntry(ActionTuningApply, SourceAPI, "bob", nil, map[string]any{"profile": "Kaspa"})
	if e.Outcome != OutcomeOK {
		t.Errorf("Outcome = %q, want ok", e.Outcome)
	}
	if _, ok := e.Details["error"]; ok {
		t.Error("successful entry carries an error detail")
	}

	e = NewEntry(ActionTuningApply, SourceAPI, "bob", errors.New("boom"), nil)
	if e.Outcome != OutcomeFailed || e.Details["error"] != "boom" {
		t.Errorf("failed entry = %+v", e)
	}
}
