package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one execution of the detection pipeline.
type Run struct {
	ID           string     `json:"run_id"`
	ModelVersion string     `json:"model_version"`
	RangeStart   *time.Time `json:"range_start,omitempty"`
	RangeEnd     *time.Time `json:"range_end,omitempty"`
	Source       string     `json:"source,omitempty"`
	TuningJSON   string     `json:"tuning"`
	Status       string     `json:"status"`
	Vessels      int        `json:"vessels"`
	Positions    int        `json:"positions"`
	Shards       int        `json:"shards"`
	Encounters   int        `json:"encounters"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// RunCounts are the totals recorded when a run finishes.
type RunCounts struct {
	Vessels    int
	Positions  int
	Shards     int
	Encounters int
}

// CreateRun inserts r with status running. An empty ID is filled with a new
// UUID; a zero StartedAt with the current time.
func (db *DB) CreateRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	r.Status = RunRunning

	_, err := db.ExecContext(ctx, `
		INSERT INTO encounter_runs (
			run_id, model_version, range_start_unix, range_end_unix, source,
			tuning_json, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.ModelVersion, nullUnix(r.RangeStart), nullUnix(r.RangeEnd), nullString(r.Source),
		r.TuningJSON, r.Status, unixSeconds(r.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run. A nil runErr marks it succeeded.
func (db *DB) FinishRun(ctx context.Context, id string, counts RunCounts, finishedAt time.Time, runErr error) error {
	status, msg := RunSucceeded, sql.NullString{}
	if runErr != nil {
		status = RunFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := db.ExecContext(ctx, `
		UPDATE encounter_runs SET
			status = ?,
			vessels = ?,
			positions = ?,
			shards = ?,
			encounters = ?,
			error = ?,
			finished_at = ?
		WHERE run_id = ?
	`, status, counts.Vessels, counts.Positions, counts.Shards, counts.Encounters, msg, unixSeconds(finishedAt), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `
	run_id, model_version, range_start_unix, range_end_unix, source,
	tuning_json, status, vessels, positions, shards, encounters, error,
	started_at, finished_at`

// GetRun returns the run with the given id, or ErrRunNotFound.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM encounter_runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// LatestRun returns the most recently started run, or ErrRunNotFound when
// there are none.
func (db *DB) LatestRun(ctx context.Context) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM encounter_runs ORDER BY started_at DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM encounter_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r                    Run
		rangeStart, rangeEnd sql.NullFloat64
		source, errMsg       sql.NullString
		startedAt            float64
		finishedAt           sql.NullFloat64
	)
	if err := s.Scan(
		&r.ID, &r.ModelVersion, &rangeStart, &rangeEnd, &source,
		&r.TuningJSON, &r.Status, &r.Vessels, &r.Positions, &r.Shards, &r.Encounters, &errMsg,
		&startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	r.RangeStart = timePtr(rangeStart)
	r.RangeEnd = timePtr(rangeEnd)
	r.Source = source.String
	r.Error = errMsg.String
	r.StartedAt = fromUnixSeconds(startedAt)
	r.FinishedAt = timePtr(finishedAt)
	return &r, nil
}

func nullUnix(t *time.Time) sql.NullFloat64 {
	if t == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: unixSeconds(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(f sql.NullFloat64) *time.Time {
	if !f.Valid {
		return nil
	}
	t := fromUnixSeconds(f.Float64)
	return &t
}
