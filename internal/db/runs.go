package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of a pipeline command.
type Run struct {
	RunID        string          `json:"run_id"`
	Command      string          `json:"command"`
	Problem      string          `json:"problem,omitempty"`
	ConfigJSON   json.RawMessage `json:"config_json,omitempty"`
	Status       string          `json:"status"`
	Completeness *float64        `json:"completeness,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    int64           `json:"started_at"`
	FinishedAt   *int64          `json:"finished_at,omitempty"`
}

// CreateRun inserts a new running run. If RunID is empty a UUID is generated.
func (db *DB) CreateRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = db.clock.Now().UnixNano()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	var cfg interface{}
	if len(run.ConfigJSON) > 0 {
		cfg = string(run.ConfigJSON)
	}
	return retryOnBusy(db.clock, func() error {
		_, err := db.Exec(`
			INSERT INTO runs (run_id, command, problem, config_json, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Command, nullStr(run.Problem), cfg, run.Status, run.StartedAt,
		)
		return err
	})
}

// FinishRun records the outcome of a run. completeness may be nil when no
// stage was tallied.
func (db *DB) FinishRun(runID string, runErr error, completeness *float64) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	now := db.clock.Now().UnixNano()
	var affected int64
	err := retryOnBusy(db.clock, func() error {
		res, err := db.Exec(`
			UPDATE runs SET status = ?, error = ?, completeness = ?, finished_at = ?
			WHERE run_id = ?`,
			status, nullStr(msg), completeness, now, runID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if affected == 0 {
		return fmt.Errorf("finishing run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// GetRun returns a single run by ID.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(`
		SELECT run_id, command, problem, config_json, status, completeness, error, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return r, err
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT run_id, command, problem, config_json, status, completeness, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent successful run of a command.
func (db *DB) LatestRun(command string) (*Run, error) {
	row := db.QueryRow(`
		SELECT run_id, command, problem, config_json, status, completeness, error, started_at, finished_at
		FROM runs WHERE command = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`, command, StatusSucceeded)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no successful %s run: %w", command, ErrRunNotFound)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r        Run
		problem  sql.NullString
		cfg      sql.NullString
		complete sql.NullFloat64
		errMsg   sql.NullString
		finished sql.NullInt64
	)
	if err := s.Scan(&r.RunID, &r.Command, &problem, &cfg, &r.Status, &complete, &errMsg, &r.StartedAt, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Problem = problem.String
	r.Error = errMsg.String
	if cfg.Valid {
		r.ConfigJSON = json.RawMessage(cfg.String)
	}
	if complete.Valid {
		v := complete.Float64
		r.Completeness = &v
	}
	if finished.Valid {
		v := finished.Int64
		r.FinishedAt = &v
	}
	return &r, nil
}

// SaveFailures stores every failure and annotation of a run summary.
func (db *DB) SaveFailures(runID string, failures []report.Failure) error {
	return db.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO failures (run_id, stage, kind, camera_id, label, time_index, message, diagnostic)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range failures {
			var camera, tIndex, diag interface{}
			if f.Where.CameraID > 0 {
				camera = f.Where.CameraID
			}
			if f.Where.TimeIndex >= 0 {
				tIndex = f.Where.TimeIndex
			}
			if f.Diagnostic != 0 && !isNaN(f.Diagnostic) {
				diag = f.Diagnostic
			}
			msg := ""
			if f.Err != nil {
				msg = f.Err.Error()
			}
			if _, err := stmt.Exec(runID, string(f.Stage), string(f.Kind), camera, nullStr(f.Where.Label), tIndex, msg, diag); err != nil {
				return fmt.Errorf("inserting failure: %w", err)
			}
		}
		return nil
	})
}

// StoredFailure is a failure row read back from the database.
type StoredFailure struct {
	Stage      report.Stage
	Kind       report.Kind
	Where      report.Where
	Message    string
	Diagnostic float64
}

// Failures returns a run's failures ordered by insertion.
func (db *DB) Failures(runID string) ([]StoredFailure, error) {
	rows, err := db.Query(`
		SELECT stage, kind, camera_id, label, time_index, message, diagnostic
		FROM failures WHERE run_id = ? ORDER BY failure_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []StoredFailure
	for rows.Next() {
		var (
			f      StoredFailure
			stage  string
			kind   string
			camera sql.NullInt64
			label  sql.NullString
			tIndex sql.NullInt64
			diag   sql.NullFloat64
		)
		if err := rows.Scan(&stage, &kind, &camera, &label, &tIndex, &f.Message, &diag); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.Stage, f.Kind = report.Stage(stage), report.Kind(kind)
		f.Where = report.Where{CameraID: int(camera.Int64), Label: label.String, TimeIndex: -1}
		if tIndex.Valid {
			f.Where.TimeIndex = int(tIndex.Int64)
		}
		f.Diagnostic = diag.Float64
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isNaN(v float64) bool { return v != v }
