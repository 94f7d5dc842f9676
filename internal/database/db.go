// Package database persists generated signals and backtest runs in
// PostgreSQL. Persistence is optional; the engine runs fully in-memory
// when no database is configured.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"trading-signal-engine/config"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB opens the connection pool and verifies connectivity.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{Pool: pool, logger: logger.With().Str("component", "database").Logger()}
	db.logger.Info().Str("database", cfg.Name).Msg("connected to postgres")
	return db, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the schema when missing.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			take_profit_1 DOUBLE PRECISION NOT NULL,
			take_profit_2 DOUBLE PRECISION NOT NULL,
			take_profit_3 DOUBLE PRECISION,
			confidence_pct DOUBLE PRECISION NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			diagnostics JSONB,
			plan JSONB,
			tags JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol_time
			ON signals (symbol, generated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			interval VARCHAR(8) NOT NULL,
			status VARCHAR(16) NOT NULL,
			config JSONB NOT NULL,
			summary JSONB,
			tearsheet JSONB,
			error TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_runs_created
			ON backtest_runs (created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	db.logger.Info().Msg("migrations complete")
	return nil
}
