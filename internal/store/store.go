// Package store persists research runs and their reports in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/alphy/internal/research"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

type Store struct {
	DB *sql.DB
}

// RunRecord is a stored research run.
type RunRecord struct {
	ID         string     `json:"id"`
	Categories []string   `json:"categories"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// New opens a connection pool and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// CreateRun registers a run in the running state.
func (s *Store) CreateRun(ctx context.Context, id string, categories []string, mode string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, categories, mode, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		id, pq.Array(categories), mode, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("creating run %s: %w", id, err)
	}
	return nil
}

// FinishRun marks a run completed or failed.
func (s *Store) FinishRun(ctx context.Context, id, status, runErr string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs SET status=$2, error=NULLIF($3,''), finished_at=NOW() WHERE id=$1`,
		id, status, runErr)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: not found", id)
	}
	return nil
}

// SaveReport stores the rendered text and the structured report.
func (s *Store) SaveReport(ctx context.Context, runID, reportText string, report *research.Report) error {
	var blob []byte
	if report != nil {
		var err error
		blob, err = json.Marshal(report)
		if err != nil {
			return fmt.Errorf("encoding report for run %s: %w", runID, err)
		}
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO reports (run_id, report_text, report_json, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (run_id) DO UPDATE SET report_text=$2, report_json=$3, created_at=NOW()`,
		runID, reportText, blob)
	if err != nil {
		return fmt.Errorf("saving report for run %s: %w", runID, err)
	}
	return nil
}

// GetReport loads a stored report. The structured part may be nil for
// runs persisted before synthesis finished.
func (s *Store) GetReport(ctx context.Context, runID string) (string, *research.Report, error) {
	var text string
	var blob []byte
	err := s.DB.QueryRowContext(ctx, `
		SELECT report_text, report_json FROM reports WHERE run_id=$1`, runID).
		Scan(&text, &blob)
	if err != nil {
		return "", nil, err
	}
	var report *research.Report
	if len(blob) > 0 {
		report = &research.Report{}
		if err := json.Unmarshal(blob, report); err != nil {
			return text, nil, fmt.Errorf("decoding report for run %s: %w", runID, err)
		}
	}
	return text, report, nil
}

// GetRun loads one run record.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	var errStr sql.NullString
	var finished sql.NullTime
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, categories, mode, status, error, created_at, finished_at
		FROM runs WHERE id=$1`, id).
		Scan(&rec.ID, pq.Array(&rec.Categories), &rec.Mode, &rec.Status, &errStr, &rec.CreatedAt, &finished)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Error = errStr.String
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, categories, mode, status, error, created_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var errStr sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&rec.ID, pq.Array(&rec.Categories), &rec.Mode, &rec.Status, &errStr, &rec.CreatedAt, &finished); err != nil {
			return nil, err
		}
		rec.Error = errStr.String
		if finished.Valid {
			rec.FinishedAt = &finished.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }
