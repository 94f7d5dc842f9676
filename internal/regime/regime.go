// Package regime classifies the cross-asset correlation structure and
// derives the multipliers applied to a signal's confidence, position size
// and stop distance.
package regime

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"trading-signal-engine/internal/market"
)

// Regime is the classified market state.
type Regime string

const (
	RiskOn    Regime = "RISK_ON"
	RiskOff   Regime = "RISK_OFF"
	SafeHaven Regime = "SAFE_HAVEN"
	Neutral   Regime = "NEUTRAL"
)

// Classification thresholds over the rolling correlation window.
const (
	DefaultWindow      = 100
	riskOnThreshold    = 0.6
	riskOffThreshold   = -0.4
	safeHavenThreshold = 0.7
)

// Adjustment carries the per-regime parameters applied to a signal.
type Adjustment struct {
	Regime                 Regime    `json:"regime"`
	MeanRiskCorrelation    float64   `json:"mean_risk_correlation"`
	SafeHavenCorrelation   float64   `json:"safe_haven_correlation"`
	ConfidenceMultiplier   float64   `json:"confidence_multiplier"`
	SizeMultiplier         float64   `json:"size_multiplier"`
	StopDistanceMultiplier float64   `json:"stop_distance_multiplier"`
	SignalWeights          []float64 `json:"signal_weights,omitempty"`
}

// Tags renders the adjustment as signal tags.
func (a Adjustment) Tags() []string {
	return []string{
		fmt.Sprintf("regime:%s", a.Regime),
		fmt.Sprintf("regime_confidence_mult:%.2f", a.ConfidenceMultiplier),
		fmt.Sprintf("regime_size_mult:%.2f", a.SizeMultiplier),
		fmt.Sprintf("regime_stop_mult:%.2f", a.StopDistanceMultiplier),
	}
}

// parameters maps a regime to its multipliers. Size multipliers are clipped
// to [0.5, 2.0], confidence to [0.8, 1.2], stop distance to [0.8, 2.0].
func parameters(r Regime) Adjustment {
	switch r {
	case RiskOn:
		return Adjustment{Regime: r, ConfidenceMultiplier: 1.2, SizeMultiplier: 1.5, StopDistanceMultiplier: 0.8,
			SignalWeights: []float64{0.5, 0.3, 0.2}}
	case RiskOff:
		return Adjustment{Regime: r, ConfidenceMultiplier: 0.8, SizeMultiplier: 0.5, StopDistanceMultiplier: 2.0,
			SignalWeights: []float64{0.2, 0.3, 0.5}}
	case SafeHaven:
		return Adjustment{Regime: r, ConfidenceMultiplier: 0.9, SizeMultiplier: 0.75, StopDistanceMultiplier: 1.5,
			SignalWeights: []float64{0.3, 0.4, 0.3}}
	default:
		return Adjustment{Regime: Neutral, ConfidenceMultiplier: 1.0, SizeMultiplier: 1.0, StopDistanceMultiplier: 1.0,
			SignalWeights: []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}}
	}
}

// Classify derives the regime from the candidate's correlations: mean
// correlation against the risk basket and correlation against the safe-haven
// asset. Safe haven takes precedence over risk-on when both thresholds hit.
func Classify(meanRiskCorr, safeHavenCorr float64) Regime {
	switch {
	case !math.IsNaN(safeHavenCorr) && safeHavenCorr > safeHavenThreshold:
		return SafeHaven
	case !math.IsNaN(meanRiskCorr) && meanRiskCorr > riskOnThreshold:
		return RiskOn
	case !math.IsNaN(meanRiskCorr) && meanRiskCorr < riskOffThreshold:
		return RiskOff
	default:
		return Neutral
	}
}

// Adjuster fetches basket series and produces per-signal adjustments.
type Adjuster struct {
	provider  market.Provider
	window    int
	basket    []string // risk-on reference symbols
	safeHaven string   // gold proxy, empty disables the safe-haven check
	interval  string
	logger    zerolog.Logger
}

// NewAdjuster builds an adjuster over a rolling window of H1 closes.
func NewAdjuster(provider market.Provider, basket []string, safeHaven string, logger zerolog.Logger) *Adjuster {
	return &Adjuster{
		provider:  provider,
		window:    DefaultWindow,
		basket:    basket,
		safeHaven: safeHaven,
		interval:  "1h",
		logger:    logger.With().Str("component", "regime").Logger(),
	}
}

// SetWindow overrides the rolling correlation window.
func (a *Adjuster) SetWindow(n int) {
	if n > 1 {
		a.window = n
	}
}

// Assess classifies the regime for a candidate symbol and returns the
// multipliers to apply. A basket member that cannot be fetched is skipped;
// if no member is available the regime is NEUTRAL.
func (a *Adjuster) Assess(ctx context.Context, symbol string) (Adjustment, error) {
	candidate, err := a.returnsFor(ctx, symbol)
	if err != nil {
		return Adjustment{}, fmt.Errorf("regime candidate %s: %w", symbol, err)
	}

	var corrs []float64
	for _, ref := range a.basket {
		if ref == symbol {
			continue
		}
		refReturns, err := a.returnsFor(ctx, ref)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", ref).Msg("basket member unavailable, skipping")
			continue
		}
		if c := pairCorrelation(candidate, refReturns); !math.IsNaN(c) {
			corrs = append(corrs, c)
		}
	}

	meanRiskCorr := math.NaN()
	if len(corrs) > 0 {
		meanRiskCorr = stat.Mean(corrs, nil)
	}

	safeHavenCorr := math.NaN()
	if a.safeHaven != "" && a.safeHaven != symbol {
		if goldReturns, err := a.returnsFor(ctx, a.safeHaven); err == nil {
			safeHavenCorr = pairCorrelation(candidate, goldReturns)
		} else {
			a.logger.Warn().Err(err).Str("symbol", a.safeHaven).Msg("safe-haven series unavailable")
		}
	}

	adj := parameters(Classify(meanRiskCorr, safeHavenCorr))
	adj.MeanRiskCorrelation = meanRiskCorr
	adj.SafeHavenCorrelation = safeHavenCorr

	a.logger.Debug().
		Str("symbol", symbol).
		Str("regime", string(adj.Regime)).
		Float64("mean_risk_corr", meanRiskCorr).
		Float64("safe_haven_corr", safeHavenCorr).
		Msg("regime classified")
	return adj, nil
}

func (a *Adjuster) returnsFor(ctx context.Context, symbol string) ([]float64, error) {
	// One extra bar so the window has a full set of returns.
	s, err := a.provider.GetCandles(ctx, symbol, a.interval, a.window+1)
	if err != nil {
		return nil, err
	}
	return Returns(s.Closes()), nil
}

// Returns converts a close series into simple per-bar returns.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// pairCorrelation aligns two return series on their common tail and computes
// the Pearson correlation. Fewer than two common points yields NaN.
func pairCorrelation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return math.NaN()
	}
	x := a[len(a)-n:]
	y := b[len(b)-n:]
	return stat.Correlation(x, y, nil)
}
