package strategy

import (
	"math"
	"testing"
	"time"

	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/filter"
	"trading-signal-engine/internal/market"
)

func syntheticSeries(t *testing.T, closes []float64) *market.Series {
	t.Helper()
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		high := math.Max(open, c) + 0.5
		low := math.Min(open, c) - 0.5
		ts := start.Add(time.Duration(i) * time.Hour)
		candles[i] = market.Candle{
			OpenTime:  ts.UnixMilli(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     c,
			Volume:    1000,
			CloseTime: ts.Add(time.Hour).UnixMilli() - 1,
		}
	}
	s, err := market.NewSeries("TESTUSDT", "1h", candles)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	return s
}

func TestFilterStrategyNeedsWarmup(t *testing.T) {
	closes := make([]float64, Warmup+10)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.1
	}
	series := syntheticSeries(t, closes)
	fn := NewFilterStrategy(filter.TierUltra, criteria.DefaultProfile("TESTUSDT"), 1.5).Func()

	if intent := fn(series, Warmup-2); intent != nil {
		t.Error("intent emitted before warmup")
	}
}

func TestFilterStrategyRejectsFlatMarket(t *testing.T) {
	closes := make([]float64, Warmup+50)
	for i := range closes {
		closes[i] = 100
	}
	series := syntheticSeries(t, closes)
	fn := NewFilterStrategy(filter.TierUltra, criteria.DefaultProfile("TESTUSDT"), 1.5).Func()

	for i := Warmup; i < series.Len(); i++ {
		if intent := fn(series, i); intent != nil {
			t.Fatalf("flat market produced an intent at bar %d: %+v", i, intent)
		}
	}
}

func TestEMACrossEmitsBuyOnCross(t *testing.T) {
	// Downtrend long enough to separate the EMAs, then a sharp reversal.
	var closes []float64
	px := 200.0
	for i := 0; i < 60; i++ {
		px -= 1
		closes = append(closes, px)
	}
	for i := 0; i < 12; i++ {
		px += 5
		closes = append(closes, px)
	}
	series := syntheticSeries(t, closes)
	fn := NewEMACross().Func()

	var intent *backtestIntent
	for i := 40; i < series.Len(); i++ {
		if got := fn(series, i); got != nil && got.Direction == criteria.Buy {
			intent = &backtestIntent{got.EntryPrice, got.StopLoss, got.TakeProfit1, got.TakeProfit2, got.ATR}
			break
		}
	}
	if intent == nil {
		t.Fatal("reversal never produced a buy intent")
	}
	if intent.stop >= intent.entry {
		t.Errorf("stop %.2f not below entry %.2f", intent.stop, intent.entry)
	}
	if intent.tp1 <= intent.entry || intent.tp2 <= intent.tp1 {
		t.Errorf("targets not ascending: entry %.2f tp1 %.2f tp2 %.2f", intent.entry, intent.tp1, intent.tp2)
	}
	if intent.atr <= 0 {
		t.Errorf("atr = %.4f", intent.atr)
	}
}

type backtestIntent struct {
	entry, stop, tp1, tp2, atr float64
}

func TestByNameUnknownStrategy(t *testing.T) {
	if _, err := ByName("martingale", filter.TierUltra, criteria.DefaultProfile("TESTUSDT"), 1.5); err == nil {
		t.Fatal("unknown strategy accepted")
	}
	if _, err := ByName("", filter.TierUltra, criteria.DefaultProfile("TESTUSDT"), 1.5); err != nil {
		t.Fatalf("default strategy: %v", err)
	}
	if _, err := ByName("ema_cross", filter.TierUltra, criteria.DefaultProfile("TESTUSDT"), 1.5); err != nil {
		t.Fatalf("ema_cross: %v", err)
	}
}
