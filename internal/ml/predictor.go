package ml

import (
	"context"
	"fmt"
	"math"
)

// HeuristicPredictor scores a feature vector with a weighted blend of the
// sub-signals a trained model would consume. Deterministic: the same
// features always yield the same probability.
type HeuristicPredictor struct {
	config PredictorConfig
}

// PredictorConfig weights the heuristic's sub-signals.
type PredictorConfig struct {
	ScoreWeight    float64
	MomentumWeight float64
	TrendWeight    float64
	VolumeWeight   float64
	ContextWeight  float64
}

// DefaultPredictorConfig returns the standard weighting.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		ScoreWeight:    0.35,
		MomentumWeight: 0.15,
		TrendWeight:    0.20,
		VolumeWeight:   0.10,
		ContextWeight:  0.20,
	}
}

// NewHeuristicPredictor creates the default heuristic oracle.
func NewHeuristicPredictor() *HeuristicPredictor {
	return &HeuristicPredictor{config: DefaultPredictorConfig()}
}

// Predict blends sub-scores into a probability in [0, 1].
func (p *HeuristicPredictor) Predict(_ context.Context, f Features) (float64, string, error) {
	// Momentum: RSI distance from the 50 midline toward the direction.
	momentum := 0.5
	if !math.IsNaN(f.RSI) {
		lean := (f.RSI - 50) / 50 // -1..1
		if f.Direction == "SELL" {
			lean = -lean
		}
		momentum = clamp01(0.5 + lean)
	}

	// Volume participation saturates at twice the average.
	volume := clamp01(f.VolumeRatio / 2)

	// Context blends session, historical win rate, sentiment and news.
	contextScore := f.PairWinRate
	if f.SessionActive {
		contextScore += 0.15
	}
	if f.FearGreedExtreme {
		contextScore += 0.10
	}
	if f.NewsImpact {
		contextScore -= 0.10
	}
	contextScore = clamp01(contextScore)

	c := p.config
	prob := f.CriterionScore*c.ScoreWeight +
		momentum*c.MomentumWeight +
		f.TrendStrength*c.TrendWeight +
		volume*c.VolumeWeight +
		contextScore*c.ContextWeight

	// Excess volatility dampens conviction.
	if f.Volatility > 0.05 {
		prob *= 0.9
	}
	prob = clamp01(prob)

	rationale := fmt.Sprintf(
		"score %.2f, momentum %.2f, trend %.2f, volume %.2f, context %.2f -> p=%.3f",
		f.CriterionScore, momentum, f.TrendStrength, volume, contextScore, prob)
	return prob, rationale, nil
}
