package ml

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trading-signal-engine/internal/auxdata"
	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/filter"
	"trading-signal-engine/internal/market"
	"trading-signal-engine/internal/mtf"
)

type stubPredictor struct {
	prob float64
	err  error
}

func (s stubPredictor) Predict(context.Context, Features) (float64, string, error) {
	return s.prob, "stub", s.err
}

type stubWinRates map[string]float64

func (s stubWinRates) WinRate(symbol string) float64 { return s[symbol] }

func strongFeatures() Features {
	return Features{
		Symbol:         "BTCUSDT",
		Direction:      "BUY",
		CriterionScore: 1.0,
		RSI:            62,
		TrendStrength:  1.0,
		VolumeRatio:    1.4,
		SessionActive:  true,
		Volatility:     0.01,
		MTFAlignment:   1.0,
		PairWinRate:    0.6,
	}
}

func TestValidatorThreshold(t *testing.T) {
	v := NewValidator(stubPredictor{prob: 0.59}, zerolog.Nop())
	if got := v.Validate(context.Background(), strongFeatures()); got.Approved {
		t.Errorf("0.59 must not reach the 0.60 threshold: %+v", got)
	}

	v = NewValidator(stubPredictor{prob: 0.60}, zerolog.Nop())
	if got := v.Validate(context.Background(), strongFeatures()); !got.Approved {
		t.Errorf("0.60 must meet the threshold: %+v", got)
	}
}

func TestValidatorFailsOpenOnPredictorError(t *testing.T) {
	v := NewValidator(stubPredictor{err: errors.New("model offline")}, zerolog.Nop())
	got := v.Validate(context.Background(), strongFeatures())
	if !got.Approved {
		t.Error("predictor failure must not block the signal")
	}
	if !got.Unavailable {
		t.Error("verdict must be flagged unavailable")
	}
}

func TestHeuristicApprovesStrongSetup(t *testing.T) {
	p := NewHeuristicPredictor()
	prob, rationale, err := p.Predict(context.Background(), strongFeatures())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if prob < ApprovalThreshold {
		t.Errorf("strong setup probability = %.3f, want >= %.2f (%s)", prob, ApprovalThreshold, rationale)
	}
}

func TestHeuristicRejectsWeakSetup(t *testing.T) {
	weak := Features{
		Symbol:         "BTCUSDT",
		Direction:      "BUY",
		CriterionScore: 0.4,
		RSI:            35, // leaning against the BUY
		TrendStrength:  0.25,
		VolumeRatio:    0.5,
		PairWinRate:    0.3,
		NewsImpact:     true,
	}
	p := NewHeuristicPredictor()
	prob, _, err := p.Predict(context.Background(), weak)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if prob >= ApprovalThreshold {
		t.Errorf("weak setup probability = %.3f, want < %.2f", prob, ApprovalThreshold)
	}
}

func TestHeuristicIsDeterministic(t *testing.T) {
	p := NewHeuristicPredictor()
	f := strongFeatures()
	a, ra, _ := p.Predict(context.Background(), f)
	b, rb, _ := p.Predict(context.Background(), f)
	if a != b || ra != rb {
		t.Errorf("identical features produced %.6f/%.6f", a, b)
	}
}

func TestBuildFeatures(t *testing.T) {
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	view := &mtf.View{Symbol: "BTCUSDT", Series: make(map[string]*market.Series)}
	for _, tf := range mtf.Timeframes {
		period, err := market.IntervalDuration(tf)
		if err != nil {
			t.Fatal(err)
		}
		start := end.Add(-250 * period)
		view.Series[tf] = market.GenerateSeries("BTCUSDT", tf, start, 250, market.TrendBars(100, 0.5, 0.5, 1000))
	}
	score := 10
	aux := &auxdata.Context{
		FearGreedScore: &score,
		NewsItems:      []auxdata.NewsItem{{Title: "headline"}},
	}
	now := time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)
	in := criteria.NewInput(view, aux, criteria.Buy, now, criteria.DefaultProfile("BTCUSDT"))

	decision := filter.NewForProfile(filter.TierElite, criteria.DefaultProfile("BTCUSDT")).Evaluate(in)
	f := BuildFeatures(in, decision, stubWinRates{"BTCUSDT": 0.7})

	if f.Symbol != "BTCUSDT" || f.Direction != "BUY" {
		t.Errorf("identity fields: %+v", f)
	}
	wantScore := float64(decision.Score) / float64(decision.Total)
	if f.CriterionScore != wantScore {
		t.Errorf("criterion score = %.3f, want %.3f", f.CriterionScore, wantScore)
	}
	if f.TrendStrength != 1.0 {
		t.Errorf("uniform uptrend trend strength = %.2f, want 1.0", f.TrendStrength)
	}
	if !f.SessionActive {
		t.Error("14:00 UTC is inside the default session")
	}
	if !f.FearGreedExtreme {
		t.Error("score 10 is an extreme")
	}
	if !f.NewsImpact {
		t.Error("news present must set the impact flag")
	}
	if f.PairWinRate != 0.7 {
		t.Errorf("pair win rate = %.2f, want 0.7", f.PairWinRate)
	}
	if f.Volatility <= 0 {
		t.Errorf("volatility = %.5f, want > 0", f.Volatility)
	}
}
