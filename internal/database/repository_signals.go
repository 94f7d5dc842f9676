package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trading-signal-engine/internal/signal"
)

// Repository exposes the persistence operations.
type Repository struct {
	db *DB
}

// NewRepository wraps the pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveSignal stores a generated signal. Diagnostics, plan and tags go to
// JSONB columns so new fields never need a migration.
func (r *Repository) SaveSignal(ctx context.Context, sig *signal.Signal) error {
	diagnostics, err := json.Marshal(sig.Diagnostics)
	if err != nil {
		return fmt.Errorf("encode diagnostics: %w", err)
	}
	plan, err := json.Marshal(sig.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	tags, err := json.Marshal(sig.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	query := `
		INSERT INTO signals (
			id, symbol, direction, entry_price, stop_loss,
			take_profit_1, take_profit_2, take_profit_3,
			confidence_pct, generated_at, diagnostics, plan, tags
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		sig.ID, sig.Symbol, string(sig.Direction), sig.EntryPrice, sig.StopLoss,
		sig.TakeProfit1, sig.TakeProfit2, nullableFloat(sig.TakeProfit3),
		sig.ConfidencePct, sig.GeneratedAt, diagnostics, plan, tags,
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// SignalRecord is the stored form of a signal, raw JSON payloads included.
type SignalRecord struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Direction     string          `json:"direction"`
	EntryPrice    float64         `json:"entry_price"`
	StopLoss      float64         `json:"stop_loss"`
	TakeProfit1   float64         `json:"take_profit_1"`
	TakeProfit2   float64         `json:"take_profit_2"`
	TakeProfit3   *float64        `json:"take_profit_3,omitempty"`
	ConfidencePct float64         `json:"confidence_pct"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Diagnostics   json.RawMessage `json:"diagnostics,omitempty"`
	Plan          json.RawMessage `json:"plan,omitempty"`
	Tags          json.RawMessage `json:"tags,omitempty"`
}

// ListSignals returns the most recent signals, optionally filtered by symbol.
func (r *Repository) ListSignals(ctx context.Context, symbol string, limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, symbol, direction, entry_price, stop_loss,
			take_profit_1, take_profit_2, take_profit_3,
			confidence_pct, generated_at, diagnostics, plan, tags
		FROM signals
	`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = $1 ORDER BY generated_at DESC LIMIT $2`
		args = append(args, symbol, limit)
	} else {
		query += ` ORDER BY generated_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var records []SignalRecord
	for rows.Next() {
		var rec SignalRecord
		err := rows.Scan(
			&rec.ID, &rec.Symbol, &rec.Direction, &rec.EntryPrice, &rec.StopLoss,
			&rec.TakeProfit1, &rec.TakeProfit2, &rec.TakeProfit3,
			&rec.ConfidencePct, &rec.GeneratedAt, &rec.Diagnostics, &rec.Plan, &rec.Tags,
		)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullableFloat(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
