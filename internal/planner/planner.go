// Package planner turns an accepted signal into a tranched execution plan
// with staged targets and stop management rules.
package planner

import (
	"fmt"
	"math"
	"time"

	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/market"
)

// Default plan geometry. Targets are expressed in R, the distance between
// entry and stop.
const (
	DefaultConfirmationDelay = 5 * time.Minute
	MinConfirmationDelay     = 30 * time.Second

	tranche1Frac = 0.50
	tranche2Frac = 0.30
	tranche3Frac = 0.20

	tp1RMult = 1.0
	tp2RMult = 2.0
	tp3RMult = 3.5

	// Fractions of the position closed at each target. TP3 closes the rest.
	tp1CloseFrac = 0.50
	tp2CloseFrac = 0.30

	pullbackATRMult     = 0.5
	confirmationATRMult = 0.25

	DefaultTrailATRMult = 1.5
)

// Tranche is one partial entry.
type Tranche struct {
	Fraction float64 `json:"fraction"`
	Price    float64 `json:"price"`
	Kind     string  `json:"kind"` // "market", "pullback", "confirmation"
}

// Target is one staged take-profit.
type Target struct {
	Level     int     `json:"level"` // 1, 2, 3
	Price     float64 `json:"price"`
	CloseFrac float64 `json:"close_frac"` // fraction of remaining size
}

// Plan is the full execution intent for one signal.
type Plan struct {
	Symbol    string             `json:"symbol"`
	Direction criteria.Direction `json:"direction"`
	Entry     float64            `json:"entry"`
	StopLoss  float64            `json:"stop_loss"`
	R         float64            `json:"r"` // |entry - stop_loss|

	Tranches []Tranche `json:"tranches"`
	Targets  []Target  `json:"targets"`

	// Stop management: breakeven after TP1, ATR trail after TP2.
	BreakevenAfterTP1 bool    `json:"breakeven_after_tp1"`
	TrailAfterTP2     bool    `json:"trail_after_tp2"`
	TrailATRMult      float64 `json:"trail_atr_mult"`
	ATR               float64 `json:"atr"`

	// Confirmation delay. Zero disables re-evaluation.
	ConfirmationDelay time.Duration `json:"confirmation_delay_ns"`
}

// Planner builds plans from direction, price and volatility.
type Planner struct {
	confirmationDelay time.Duration
	trailATRMult      float64
}

// Option mutates a planner.
type Option func(*Planner)

// WithConfirmationDelay enables the delayed re-evaluation step. Delays
// below the minimum are raised to it; zero disables the step.
func WithConfirmationDelay(d time.Duration) Option {
	return func(p *Planner) {
		if d > 0 && d < MinConfirmationDelay {
			d = MinConfirmationDelay
		}
		p.confirmationDelay = d
	}
}

// WithTrailATRMult overrides the trailing-stop ATR distance.
func WithTrailATRMult(k float64) Option {
	return func(p *Planner) {
		if k > 0 {
			p.trailATRMult = k
		}
	}
}

// New creates a planner with the standard geometry.
func New(opts ...Option) *Planner {
	p := &Planner{
		confirmationDelay: 0,
		trailATRMult:      DefaultTrailATRMult,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Build produces the plan for an accepted directional signal. The stop
// distance and ATR must be positive and finite.
func (p *Planner) Build(symbol string, direction criteria.Direction, entry, stopLoss, atr float64) (*Plan, error) {
	if direction != criteria.Buy && direction != criteria.Sell {
		return nil, fmt.Errorf("%w: plan requires BUY or SELL, got %s", market.ErrInputInvalid, direction)
	}
	if !isFinite(entry) || !isFinite(stopLoss) || !isFinite(atr) || entry <= 0 || atr <= 0 {
		return nil, fmt.Errorf("%w: non-finite plan inputs", market.ErrInputInvalid)
	}
	r := math.Abs(entry - stopLoss)
	if r == 0 {
		return nil, fmt.Errorf("%w: stop at entry leaves zero risk distance", market.ErrInputInvalid)
	}
	if direction == criteria.Buy && stopLoss >= entry {
		return nil, fmt.Errorf("%w: BUY stop %.4f not below entry %.4f", market.ErrInputInvalid, stopLoss, entry)
	}
	if direction == criteria.Sell && stopLoss <= entry {
		return nil, fmt.Errorf("%w: SELL stop %.4f not above entry %.4f", market.ErrInputInvalid, stopLoss, entry)
	}

	// sign is +1 for BUY: targets above entry, pullback below.
	sign := 1.0
	if direction == criteria.Sell {
		sign = -1.0
	}

	plan := &Plan{
		Symbol:            symbol,
		Direction:         direction,
		Entry:             entry,
		StopLoss:          stopLoss,
		R:                 r,
		BreakevenAfterTP1: true,
		TrailAfterTP2:     true,
		TrailATRMult:      p.trailATRMult,
		ATR:               atr,
		ConfirmationDelay: p.confirmationDelay,
		Tranches: []Tranche{
			{Fraction: tranche1Frac, Price: entry, Kind: "market"},
			{Fraction: tranche2Frac, Price: entry - sign*pullbackATRMult*atr, Kind: "pullback"},
			{Fraction: tranche3Frac, Price: entry + sign*confirmationATRMult*atr, Kind: "confirmation"},
		},
		Targets: []Target{
			{Level: 1, Price: entry + sign*tp1RMult*r, CloseFrac: tp1CloseFrac},
			{Level: 2, Price: entry + sign*tp2RMult*r, CloseFrac: tp2CloseFrac},
			{Level: 3, Price: entry + sign*tp3RMult*r, CloseFrac: 1.0},
		},
	}
	return plan, nil
}

// TP returns the price of target level n, or NaN if absent.
func (pl *Plan) TP(level int) float64 {
	for _, t := range pl.Targets {
		if t.Level == level {
			return t.Price
		}
	}
	return math.NaN()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
