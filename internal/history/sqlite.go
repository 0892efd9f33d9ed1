package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ErrRunNotFound is returned by FinishRun for an unknown or already closed run.
var ErrRunNotFound = errors.New("run not found")

// SQLiteRepository implements Repository on the minerctl schema.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordBlock inserts a block event. Recording the same ID twice is a no-op.
func (r *SQLiteRepository) RecordBlock(ctx context.Context, b Block) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.FoundAt.IsZero() {
		b.FoundAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO block_events (id, found_at, generation, raw_line)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		b.ID.String(), formatTime(b.FoundAt), int64(b.Generation), b.RawLine, //nolint:gosec // generation fits
	)
	if err != nil {
		return fmt.Errorf("inserting block event: %w", err)
	}
	return nil
}

// ListBlocks returns block events newest first.
func (r *SQLiteRepository) ListBlocks(ctx context.Context, limit int) ([]Block, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, found_at, generation, raw_line
		 FROM block_events
		 ORDER BY found_at DESC
		 LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying block events: %w", err)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var b Block
		var id, foundAt string
		var gen int64
		if err := rows.Scan(&id, &foundAt, &gen, &b.RawLine); err != nil {
			return nil, fmt.Errorf("scanning block event: %w", err)
		}
		if b.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing block id: %w", err)
		}
		if b.FoundAt, err = parseTime(foundAt); err != nil {
			return nil, err
		}
		b.Generation = uint64(gen) //nolint:gosec // stored from a uint64
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating block events: %w", err)
	}
	return blocks, nil
}

// StartRun opens a run and returns its ID.
func (r *SQLiteRepository) StartRun(ctx context.Context, generation uint64, pid int, startedAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO runs (generation, pid, started_at) VALUES (?, ?, ?)",
		int64(generation), pid, formatTime(startedAt), //nolint:gosec // generation fits
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}
	return id, nil
}

// FinishRun closes an open run with its final counters.
func (r *SQLiteRepository) FinishRun(ctx context.Context, id int64, s RunSummary) error {
	if s.StoppedAt.IsZero() {
		s.StoppedAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE runs
		 SET stopped_at = ?, exit_error = ?, accepted = ?, rejected = ?, invalid = ?, hashrate = ?
		 WHERE id = ? AND stopped_at IS NULL`,
		formatTime(s.StoppedAt), s.ExitError,
		int64(s.Accepted), int64(s.Rejected), int64(s.Invalid), //nolint:gosec // share counters fit
		s.Hashrate, id,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return nil
}

// ListRuns returns runs newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, generation, pid, started_at, stopped_at, exit_error,
		        accepted, rejected, invalid, hashrate
		 FROM runs
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var gen, accepted, rejected, invalid int64
		var startedAt string
		var stoppedAt sql.NullString
		if err := rows.Scan(&run.ID, &gen, &run.PID, &startedAt, &stoppedAt, &run.ExitError,
			&accepted, &rejected, &invalid, &run.Hashrate); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if stoppedAt.Valid {
			t, err := parseTime(stoppedAt.String)
			if err != nil {
				return nil, err
			}
			run.StoppedAt = &t
		}
		//nolint:gosec // stored from uint64 values
		run.Generation, run.Accepted, run.Rejected, run.Invalid =
			uint64(gen), uint64(accepted), uint64(rejected), uint64(invalid)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// RecordTuning inserts a tuning application.
func (r *SQLiteRepository) RecordTuning(ctx context.Context, rec TuningRecord) error {
	if rec.AppliedAt.IsZero() {
		rec.AppliedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tuning_results (applied_at, phase, outcome, profile, gpu_index, message, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		formatTime(rec.AppliedAt), rec.Phase, rec.Outcome, rec.Profile, rec.GPUIndex, rec.Message, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting tuning result: %w", err)
	}
	return nil
}

// ListTuning returns tuning applications newest first.
func (r *SQLiteRepository) ListTuning(ctx context.Context, limit int) ([]TuningRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, applied_at, phase, outcome, profile, gpu_index, message, error
		 FROM tuning_results
		 ORDER BY applied_at DESC, id DESC
		 LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying tuning results: %w", err)
	}
	defer rows.Close()

	var recs []TuningRecord
	for rows.Next() {
		var rec TuningRecord
		var appliedAt string
		if err := rows.Scan(&rec.ID, &appliedAt, &rec.Phase, &rec.Outcome, &rec.Profile,
			&rec.GPUIndex, &rec.Message, &rec.Error); err != nil {
			return nil, fmt.Errorf("scanning tuning result: %w", err)
		}
		if rec.AppliedAt, err = parseTime(appliedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tuning results: %w", err)
	}
	return recs, nil
}

// Prune deletes closed runs and tuning results older than olderThan.
// Block events are kept forever.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := formatTime(time.Now().Add(-olderThan))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var total int64
	for _, q := range []string{
		"DELETE FROM runs WHERE stopped_at IS NOT NULL AND started_at < ?",
		"DELETE FROM tuning_results WHERE applied_at < ?",
	} {
		res, err := tx.ExecContext(ctx, q, cutoff)
		if err != nil {
			return 0, fmt.Errorf("pruning history: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return total, nil
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	t, err := time.Parse(timeLayout, value)
	if err == nil {
		return t, nil
	}
	if fallback, fbErr := time.Parse(time.RFC3339Nano, value); fbErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
