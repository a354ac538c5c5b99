package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cleared-dev/auszug/internal/model"
)

// ErrRunNotFound is returned by GetRun for unknown identifiers.
var ErrRunNotFound = errors.New("import run not found")

// StartRun records a new run in the running state.
func (s *Store) StartRun(ctx context.Context, run *model.ImportRun) error {
	run.Status = model.RunRunning
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO import_runs (id, started_at, status, dry_run)
		VALUES (?, ?, ?, ?)`),
		run.ID, run.StartedAt.UTC().Format(stampLayout), string(run.Status), boolInt(run.DryRun))
	if isUniqueViolation(err) {
		return fmt.Errorf("import run %s already exists", run.ID)
	}
	if err != nil {
		return fault("starting run", err)
	}
	return nil
}

// RecordFile appends one per-file outcome to a run.
func (s *Store) RecordFile(ctx context.Context, runID string, f model.FileResult) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO import_run_files
		(run_id, path, institution, outcome, inserted, duplicates, updated, errored, snapshots, row_errors, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		runID, f.Path, f.Institution, string(f.Outcome),
		f.Counters.Inserted, f.Counters.Duplicates, f.Counters.Updated, f.Counters.Errored,
		f.Snapshots, f.RowErrors, f.Message)
	if err != nil {
		return fault("recording run file", err)
	}
	return nil
}

// FinishRun stores the final status and counters of a run.
func (s *Store) FinishRun(ctx context.Context, run *model.ImportRun) error {
	finished := s.clock.Now()
	run.FinishedAt = &finished
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE import_runs
		SET finished_at = ?, status = ?, inserted = ?, duplicates = ?, updated = ?, errored = ?
		WHERE id = ?`),
		finished.UTC().Format(stampLayout), string(run.Status),
		run.Counters.Inserted, run.Counters.Duplicates, run.Counters.Updated, run.Counters.Errored, run.ID)
	if err != nil {
		return fault("finishing run", err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, dry_run, inserted, duplicates, updated, errored`

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+runColumns+` FROM import_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fault("querying runs", err)
	}
	defer rows.Close()

	var out []model.ImportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("iterating runs", err)
	}
	return out, nil
}

// GetRun returns one run with its per-file outcomes.
func (s *Store) GetRun(ctx context.Context, runID string) (model.ImportRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM import_runs WHERE id = ?`), runID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ImportRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return model.ImportRun{}, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT path, institution, outcome, inserted, duplicates, updated,
		errored, snapshots, row_errors, message
		FROM import_run_files WHERE run_id = ? ORDER BY id`), runID)
	if err != nil {
		return model.ImportRun{}, fault("querying run files", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f       model.FileResult
			outcome string
		)
		err := rows.Scan(&f.Path, &f.Institution, &outcome, &f.Counters.Inserted, &f.Counters.Duplicates,
			&f.Counters.Updated, &f.Counters.Errored, &f.Snapshots, &f.RowErrors, &f.Message)
		if err != nil {
			return model.ImportRun{}, fault("scanning run file", err)
		}
		f.Outcome = model.FileOutcome(outcome)
		run.Files = append(run.Files, f)
	}
	if err := rows.Err(); err != nil {
		return model.ImportRun{}, fault("iterating run files", err)
	}
	return run, nil
}

func scanRun(row rowScanner) (model.ImportRun, error) {
	var (
		run      model.ImportRun
		started  string
		finished sql.NullString
		status   string
		dryRun   int
	)
	err := row.Scan(&run.ID, &started, &finished, &status, &dryRun,
		&run.Counters.Inserted, &run.Counters.Duplicates, &run.Counters.Updated, &run.Counters.Errored)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ImportRun{}, err
	}
	if err != nil {
		return model.ImportRun{}, fault("scanning run", err)
	}
	run.StartedAt = parseStamp(started)
	if finished.Valid {
		t := parseStamp(finished.String)
		run.FinishedAt = &t
	}
	run.Status = model.RunStatus(status)
	run.DryRun = dryRun != 0
	return run, nil
}
