// Package backtest simulates strategy execution bar by bar with realistic
// fills: adaptive slippage, spread, fees, partial profit-taking and
// portfolio-level risk limits. One engine owns one run; engines share no
// state and may run in parallel.
package backtest

import (
	"fmt"

	"trading-signal-engine/internal/market"
)

// PositionMode controls how positions aggregate per symbol.
type PositionMode string

const (
	Netting PositionMode = "NETTING" // one aggregate position per symbol
	Hedging PositionMode = "HEDGING" // long and short may coexist
)

// ExecutionPriority orders exit checks inside a single bar.
type ExecutionPriority string

const (
	StopLossFirst   ExecutionPriority = "STOP_LOSS_FIRST"
	TakeProfitFirst ExecutionPriority = "TAKE_PROFIT_FIRST"
	FIFO            ExecutionPriority = "FIFO"
)

// Order type slippage factors: market orders cross the spread, limit
// orders rest.
const (
	marketOrderFactor = 1.5
	limitOrderFactor  = 0.5
)

// Config is the full engine configuration.
type Config struct {
	InitialCapital float64 `json:"initial_capital"`
	RiskPerTrade   float64 `json:"risk_per_trade"` // fraction of capital

	SlippageBase       float64 `json:"slippage_base"`  // fraction of price
	BidAskSpread       float64 `json:"bid_ask_spread"` // half-spread fraction
	FeeEntry           float64 `json:"fee_entry"`
	FeeExit            float64 `json:"fee_exit"`
	VolatilityLookback int     `json:"volatility_lookback"`

	MaxConcurrentTrades   int               `json:"max_concurrent_trades"`
	MaxPositionsPerSymbol int               `json:"max_positions_per_symbol"`
	PositionMode          PositionMode      `json:"position_mode"`
	ExecutionPriority     ExecutionPriority `json:"execution_priority"`

	MaxDailyLossPct float64 `json:"max_daily_loss_pct"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
	MaxLeverage     float64 `json:"max_leverage"`
	PerAssetCapPct  float64 `json:"per_asset_cap_pct"`

	UseATRSizing  bool    `json:"use_atr_sizing"`
	ATRSizeFactor float64 `json:"atr_size_factor"`

	RandomSeed int64 `json:"random_seed"`
}

// DefaultConfig returns a usable configuration with conservative limits.
func DefaultConfig() Config {
	return Config{
		InitialCapital:        10_000,
		RiskPerTrade:          0.01,
		SlippageBase:          0.0005,
		BidAskSpread:          0.0002,
		FeeEntry:              0.0004,
		FeeExit:               0.0004,
		VolatilityLookback:    20,
		MaxConcurrentTrades:   5,
		MaxPositionsPerSymbol: 1,
		PositionMode:          Netting,
		ExecutionPriority:     StopLossFirst,
		MaxDailyLossPct:       5,
		MaxDrawdownPct:        20,
		MaxLeverage:           3,
		PerAssetCapPct:        2,
		UseATRSizing:          false,
		ATRSizeFactor:         1.5,
	}
}

// Validate rejects configurations the engine cannot run.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("%w: initial capital must be positive", market.ErrInputInvalid)
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade >= 1 {
		return fmt.Errorf("%w: risk per trade must be in (0, 1)", market.ErrInputInvalid)
	}
	if c.VolatilityLookback < 2 {
		return fmt.Errorf("%w: volatility lookback must be at least 2 bars", market.ErrInputInvalid)
	}
	if c.MaxLeverage <= 0 {
		return fmt.Errorf("%w: max leverage must be positive", market.ErrInputInvalid)
	}
	switch c.PositionMode {
	case Netting, Hedging:
	default:
		return fmt.Errorf("%w: unknown position mode %q", market.ErrInputInvalid, c.PositionMode)
	}
	switch c.ExecutionPriority {
	case StopLossFirst, TakeProfitFirst, FIFO:
	default:
		return fmt.Errorf("%w: unknown execution priority %q", market.ErrInputInvalid, c.ExecutionPriority)
	}
	return nil
}
