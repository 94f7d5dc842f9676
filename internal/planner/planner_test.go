package planner

import (
	"errors"
	"math"
	"testing"
	"time"

	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/market"
)

func TestBuildBuyPlanGeometry(t *testing.T) {
	p := New()
	plan, err := p.Build("BTCUSDT", criteria.Buy, 100, 97, 2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if plan.R != 3 {
		t.Errorf("R = %.2f, want 3", plan.R)
	}

	// Tranches: 50% market at entry, 30% pullback 0.5 ATR below,
	// 20% confirmation 0.25 ATR above.
	wantTranches := []struct {
		frac, price float64
	}{
		{0.50, 100},
		{0.30, 99},     // 100 - 0.5*2
		{0.20, 100.5},  // 100 + 0.25*2
	}
	if len(plan.Tranches) != 3 {
		t.Fatalf("tranche count = %d", len(plan.Tranches))
	}
	var fracSum float64
	for i, want := range wantTranches {
		got := plan.Tranches[i]
		if got.Fraction != want.frac || math.Abs(got.Price-want.price) > 1e-9 {
			t.Errorf("tranche %d = %.2f @ %.4f, want %.2f @ %.4f",
				i, got.Fraction, got.Price, want.frac, want.price)
		}
		fracSum += got.Fraction
	}
	if math.Abs(fracSum-1) > 1e-9 {
		t.Errorf("tranche fractions sum to %.4f", fracSum)
	}

	// Targets at 1.0R, 2.0R, 3.5R above entry.
	if tp := plan.TP(1); math.Abs(tp-103) > 1e-9 {
		t.Errorf("TP1 = %.4f, want 103", tp)
	}
	if tp := plan.TP(2); math.Abs(tp-106) > 1e-9 {
		t.Errorf("TP2 = %.4f, want 106", tp)
	}
	if tp := plan.TP(3); math.Abs(tp-110.5) > 1e-9 {
		t.Errorf("TP3 = %.4f, want 110.5", tp)
	}

	if !plan.BreakevenAfterTP1 || !plan.TrailAfterTP2 {
		t.Error("stop management flags must default on")
	}
	if plan.TrailATRMult != DefaultTrailATRMult {
		t.Errorf("trail mult = %.2f, want %.2f", plan.TrailATRMult, DefaultTrailATRMult)
	}
}

func TestBuildSellPlanMirrors(t *testing.T) {
	plan, err := New().Build("EURUSD", criteria.Sell, 100, 103, 2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tp := plan.TP(1); math.Abs(tp-97) > 1e-9 {
		t.Errorf("SELL TP1 = %.4f, want 97", tp)
	}
	if tp := plan.TP(3); math.Abs(tp-89.5) > 1e-9 {
		t.Errorf("SELL TP3 = %.4f, want 89.5", tp)
	}
	// Pullback sits above entry for a SELL.
	if p := plan.Tranches[1].Price; math.Abs(p-101) > 1e-9 {
		t.Errorf("SELL pullback = %.4f, want 101", p)
	}
}

func TestBuildRejectsBadInputs(t *testing.T) {
	p := New()
	cases := []struct {
		name             string
		direction        criteria.Direction
		entry, stop, atr float64
	}{
		{"hold direction", criteria.Hold, 100, 97, 2},
		{"stop above BUY entry", criteria.Buy, 100, 101, 2},
		{"stop below SELL entry", criteria.Sell, 100, 99, 2},
		{"stop at entry", criteria.Buy, 100, 100, 2},
		{"NaN entry", criteria.Buy, math.NaN(), 97, 2},
		{"zero ATR", criteria.Buy, 100, 97, 0},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Build("X", tt.direction, tt.entry, tt.stop, tt.atr); !errors.Is(err, market.ErrInputInvalid) {
				t.Errorf("err = %v, want ErrInputInvalid", err)
			}
		})
	}
}

func TestConfirmationDelayFloor(t *testing.T) {
	p := New(WithConfirmationDelay(5 * time.Second))
	plan, err := p.Build("BTCUSDT", criteria.Buy, 100, 97, 2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.ConfirmationDelay != MinConfirmationDelay {
		t.Errorf("delay = %s, want floor %s", plan.ConfirmationDelay, MinConfirmationDelay)
	}

	plan, err = New().Build("BTCUSDT", criteria.Buy, 100, 97, 2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.ConfirmationDelay != 0 {
		t.Errorf("delay = %s, want disabled by default", plan.ConfirmationDelay)
	}
}
