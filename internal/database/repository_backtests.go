package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trading-signal-engine/internal/backtest"
)

// Run statuses.
const (
	RunRunning  = "RUNNING"
	RunFinished = "FINISHED"
	RunFailed   = "FAILED"
)

// ErrRunNotFound is returned when a backtest run id is unknown.
var ErrRunNotFound = errors.New("backtest run not found")

// BacktestRun is the stored form of one backtest execution.
type BacktestRun struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Interval   string          `json:"interval"`
	Status     string          `json:"status"`
	Config     json.RawMessage `json:"config"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	Tearsheet  json.RawMessage `json:"tearsheet,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// CreateBacktestRun records a run in RUNNING state.
func (r *Repository) CreateBacktestRun(ctx context.Context, id, symbol, interval string, cfg backtest.Config) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	query := `
		INSERT INTO backtest_runs (id, symbol, interval, status, config, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.Pool.Exec(ctx, query, id, symbol, interval, RunRunning, configJSON, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert backtest run: %w", err)
	}
	return nil
}

// FinishBacktestRun stores the tearsheet and marks the run FINISHED.
func (r *Repository) FinishBacktestRun(ctx context.Context, id string, ts *backtest.Tearsheet) error {
	summary, err := json.Marshal(ts.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	full, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("encode tearsheet: %w", err)
	}
	query := `
		UPDATE backtest_runs
		SET status = $2, summary = $3, tearsheet = $4, finished_at = $5
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, RunFinished, summary, full, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish backtest run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// FailBacktestRun marks the run FAILED with the error message.
func (r *Repository) FailBacktestRun(ctx context.Context, id string, runErr error) error {
	query := `
		UPDATE backtest_runs
		SET status = $2, error = $3, finished_at = $4
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, RunFailed, runErr.Error(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("fail backtest run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetBacktestRun loads one run by id.
func (r *Repository) GetBacktestRun(ctx context.Context, id string) (*BacktestRun, error) {
	query := `
		SELECT id, symbol, interval, status, config, summary, tearsheet,
			COALESCE(error, ''), started_at, finished_at
		FROM backtest_runs WHERE id = $1
	`
	var run BacktestRun
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Symbol, &run.Interval, &run.Status, &run.Config,
		&run.Summary, &run.Tearsheet, &run.Error, &run.StartedAt, &run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query backtest run: %w", err)
	}
	return &run, nil
}

// ListBacktestRuns returns recent runs without their tearsheet payloads.
func (r *Repository) ListBacktestRuns(ctx context.Context, limit int) ([]BacktestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, symbol, interval, status, config, summary,
			COALESCE(error, ''), started_at, finished_at
		FROM backtest_runs ORDER BY created_at DESC LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []BacktestRun
	for rows.Next() {
		var run BacktestRun
		err := rows.Scan(
			&run.ID, &run.Symbol, &run.Interval, &run.Status, &run.Config,
			&run.Summary, &run.Error, &run.StartedAt, &run.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan backtest run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
