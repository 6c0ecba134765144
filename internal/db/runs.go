package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run is one evaluation pass of a receiver over a trace.
type Run struct {
	RunID      string        `json:"run_id"`
	Evaluator  bsm.Pseudonym `json:"evaluator"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	ConfigJSON string        `json:"config_json,omitempty"`
}

// StartRun registers a new run for evaluator and returns its ID.
func (db *DB) StartRun(evaluator bsm.Pseudonym, configJSON string) (string, error) {
	runID := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO evaluation_runs (run_id, evaluator, started_unix, config_json) VALUES (?, ?, ?, ?)`,
		runID, int64(evaluator), unixSeconds(db.clock.Now()), configJSON,
	)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return runID, nil
}

// FinishRun stamps the end time of runID.
func (db *DB) FinishRun(runID string) error {
	res, err := db.Exec(
		`UPDATE evaluation_runs SET ended_unix = ? WHERE run_id = ?`,
		unixSeconds(db.clock.Now()), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun returns the run with the given ID.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(
		`SELECT run_id, evaluator, started_unix, ended_unix, config_json FROM evaluation_runs WHERE run_id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// ListRuns returns every run, oldest first.
func (db *DB) ListRuns() ([]Run, error) {
	rows, err := db.Query(
		`SELECT run_id, evaluator, started_unix, ended_unix, config_json FROM evaluation_runs ORDER BY started_unix, run_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run       Run
		evaluator int64
		started   float64
		ended     sql.NullFloat64
		config    sql.NullString
	)
	if err := s.Scan(&run.RunID, &evaluator, &started, &ended, &config); err != nil {
		return nil, err
	}
	run.Evaluator = bsm.Pseudonym(uint64(evaluator))
	run.StartedAt = fromUnixSeconds(started)
	if ended.Valid {
		t := fromUnixSeconds(ended.Float64)
		run.EndedAt = &t
	}
	run.ConfigJSON = config.String
	return &run, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}
