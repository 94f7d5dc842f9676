// Package ml validates filtered signals against a probability oracle. The
// predictor is a pluggable capability; the default heuristic blends the
// same feature set a trained model would consume, so the wiring works with
// or without an external model.
package ml

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/filter"
	"trading-signal-engine/internal/mtf"
)

// ApprovalThreshold is the minimum probability for a signal to pass.
const ApprovalThreshold = 0.60

// Features is the deterministic feature vector derived from a filtered
// signal and its market context.
type Features struct {
	Symbol           string  `json:"symbol"`
	Direction        string  `json:"direction"`
	CriterionScore   float64 `json:"criterion_score"` // fraction of criteria passed
	RSI              float64 `json:"rsi"`
	TrendStrength    float64 `json:"trend_strength"` // timeframe agreement, 0-1
	VolumeRatio      float64 `json:"volume_ratio"`
	SessionActive    bool    `json:"session_active"`
	Volatility       float64 `json:"volatility"`      // ATR as a fraction of price
	SpreadEstimate   float64 `json:"spread_estimate"` // fraction of price
	MTFAlignment     float64 `json:"mtf_alignment"`   // 1 when H1/H4/D1 agree
	NewsImpact       bool    `json:"news_impact"`
	PairWinRate      float64 `json:"pair_win_rate"`
	FearGreedExtreme bool    `json:"fear_greed_extreme"`
}

// WinRateSource supplies the historical win rate for a symbol, 0-1. A nil
// source defaults every pair to 0.5.
type WinRateSource interface {
	WinRate(symbol string) float64
}

// BuildFeatures derives the feature vector deterministically from the
// criterion input and the filter decision.
func BuildFeatures(in *criteria.Input, decision filter.Decision, winRates WinRateSource) Features {
	f := Features{
		Symbol:        in.View.Symbol,
		Direction:     string(in.Direction),
		RSI:           in.RSIH1(),
		VolumeRatio:   in.VolumeRatioM15(),
		SessionActive: in.SessionActive(),
		TrendStrength: float64(in.TrendAgreement()) / float64(len(mtf.Timeframes)),
		PairWinRate:   0.5,
	}
	if decision.Total > 0 {
		f.CriterionScore = float64(decision.Score) / float64(decision.Total)
	}
	if price := in.LastPrice(); price > 0 {
		atr := in.ATRH1()
		if !math.IsNaN(atr) {
			f.Volatility = atr / price
		}
		// Flat-fee spread proxy; a live book would refine this.
		f.SpreadEstimate = 0.0004
	}
	if f.TrendStrength >= 1 {
		f.MTFAlignment = 1
	} else if f.TrendStrength >= 0.75 {
		f.MTFAlignment = 0.75
	}
	if in.Aux != nil {
		f.NewsImpact = len(in.Aux.NewsItems) > 0
		if s := in.Aux.FearGreedScore; s != nil {
			f.FearGreedExtreme = *s < 25 || *s > 75
		}
	}
	if winRates != nil {
		f.PairWinRate = clamp01(winRates.WinRate(in.View.Symbol))
	}
	return f
}

// Predictor is the probability oracle a validator consults.
type Predictor interface {
	Predict(ctx context.Context, f Features) (probability float64, rationale string, err error)
}

// Verdict is the outcome of one validation.
type Verdict struct {
	Approved    bool    `json:"approved"`
	Probability float64 `json:"probability"`
	Rationale   string  `json:"rationale"`
	Unavailable bool    `json:"unavailable"` // predictor errored, approved fail-safe
}

// Validator gates signals on predictor probability.
type Validator struct {
	predictor Predictor
	threshold float64
	logger    zerolog.Logger
}

// NewValidator wires a predictor at the standard threshold. A nil predictor
// falls back to the heuristic.
func NewValidator(p Predictor, logger zerolog.Logger) *Validator {
	if p == nil {
		p = NewHeuristicPredictor()
	}
	return &Validator{
		predictor: p,
		threshold: ApprovalThreshold,
		logger:    logger.With().Str("component", "ml_validator").Logger(),
	}
}

// Validate approves a signal iff the predicted probability meets the
// threshold. A predictor failure approves the signal and flags the verdict
// unavailable: the oracle must never block otherwise-valid signals.
func (v *Validator) Validate(ctx context.Context, f Features) Verdict {
	prob, rationale, err := v.predictor.Predict(ctx, f)
	if err != nil {
		v.logger.Warn().Err(err).Str("symbol", f.Symbol).Msg("predictor unavailable, approving")
		return Verdict{Approved: true, Probability: 0, Rationale: "predictor unavailable", Unavailable: true}
	}
	verdict := Verdict{
		Approved:    prob >= v.threshold,
		Probability: prob,
		Rationale:   rationale,
	}
	v.logger.Debug().
		Str("symbol", f.Symbol).
		Float64("probability", prob).
		Bool("approved", verdict.Approved).
		Msg("signal validated")
	return verdict
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
