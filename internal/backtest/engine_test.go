package backtest

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/market"
)

var runStart = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type ohlc struct{ o, h, l, c float64 }

func seriesOf(t *testing.T, bars []ohlc) *market.Series {
	t.Helper()
	return market.GenerateSeries("TESTUSDT", "1h", runStart, len(bars), func(i int) (float64, float64, float64, float64, float64) {
		b := bars[i]
		return b.o, b.h, b.l, b.c, 1000
	})
}

func flatSeries(t *testing.T, n int, price float64) *market.Series {
	t.Helper()
	return market.GenerateSeries("TESTUSDT", "1h", runStart, n, market.FlatBars(price, 1000))
}

// frictionless removes slippage, spread and fees so fills land exactly on
// the configured levels.
func frictionless(initial float64) Config {
	cfg := DefaultConfig()
	cfg.InitialCapital = initial
	cfg.SlippageBase = 0
	cfg.BidAskSpread = 0
	cfg.FeeEntry = 0
	cfg.FeeExit = 0
	cfg.PerAssetCapPct = 0
	return cfg
}

func holdStrategy(*market.Series, int) *Intent { return nil }

func mustRun(t *testing.T, cfg Config, series *market.Series, strategy StrategyFunc) *Result {
	t.Helper()
	e, err := NewEngine(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	r, err := e.Run(series, strategy)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return r
}

func TestRunRejectsDegenerateSeries(t *testing.T) {
	e, err := NewEngine(DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.Run(nil, holdStrategy); !errors.Is(err, market.ErrInputInvalid) {
		t.Errorf("nil series err = %v", err)
	}
	single := flatSeries(t, 1, 100)
	if _, err := e.Run(single, holdStrategy); !errors.Is(err, market.ErrInputInvalid) {
		t.Errorf("single bar err = %v", err)
	}
}

func TestFlatMarketNoTrades(t *testing.T) {
	cfg := frictionless(1000)
	r := mustRun(t, cfg, flatSeries(t, 1000, 100), holdStrategy)

	if len(r.Positions) != 0 {
		t.Errorf("trades = %d, want 0", len(r.Positions))
	}
	if len(r.EquityCurve) != 1000 {
		t.Fatalf("equity points = %d, want one per bar", len(r.EquityCurve))
	}
	last := r.EquityCurve[len(r.EquityCurve)-1]
	if last.Equity != 1000 {
		t.Errorf("final equity = %.2f, want initial 1000", last.Equity)
	}
	for i, pt := range r.EquityCurve {
		if pt.Equity != 1000 || pt.DrawdownPct != 0 {
			t.Fatalf("bar %d equity/drawdown = %.2f/%.2f, want flat", i, pt.Equity, pt.DrawdownPct)
		}
	}

	m := ComputeMetrics(r)
	if m.TotalTrades != 0 || m.TotalReturnPct != 0 {
		t.Errorf("metrics = %d trades, %.2f%% return", m.TotalTrades, m.TotalReturnPct)
	}
	if math.IsNaN(m.SharpeRatio) || math.IsNaN(m.ProfitFactor) || math.IsNaN(m.Expectancy) {
		t.Error("all metrics must be defined for an empty run")
	}
}

// scenario2Series is flat at 100, touches 106 after the entry, then drifts
// back and closes the run at 100 with lows holding above breakeven.
func scenario2Series(t *testing.T) *market.Series {
	t.Helper()
	bars := make([]ohlc, 140)
	for i := range bars {
		switch {
		case i <= 100:
			bars[i] = ohlc{100, 100.5, 99.8, 100}
		case i <= 120:
			p := 100 + float64(i-100)*0.3
			bars[i] = ohlc{p, p + 0.3, p - 0.1, p + 0.3}
		default:
			p := 106 - float64(i-120)*0.3
			lo := p - 0.3
			if lo < 100.2 {
				lo = 100.2
			}
			c := p - 0.3
			if c < 100 {
				c = 100
			}
			bars[i] = ohlc{p, p + 0.1, lo, c}
		}
	}
	bars[len(bars)-1].c = 100
	return seriesOf(t, bars)
}

func TestSingleWinnerToTP1ThenBreakeven(t *testing.T) {
	cfg := frictionless(1000)
	cfg.RiskPerTrade = 0.01

	strategy := func(history *market.Series, i int) *Intent {
		if i != 100 {
			return nil
		}
		return &Intent{
			Direction:   criteria.Buy,
			EntryPrice:  100,
			StopLoss:    95,
			TakeProfit1: 105,
			TakeProfit2: 110,
		}
	}
	r := mustRun(t, cfg, scenario2Series(t), strategy)

	if len(r.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(r.Positions))
	}
	p := r.Positions[0]
	if !p.TP1Hit || p.TP2Hit {
		t.Errorf("tp1_hit=%v tp2_hit=%v, want true/false", p.TP1Hit, p.TP2Hit)
	}
	if p.ExitReason != ReasonEnd {
		t.Errorf("final exit reason = %s, want END", p.ExitReason)
	}
	if len(p.Tranches) != 2 {
		t.Fatalf("tranches = %d, want TP1 + END", len(p.Tranches))
	}
	if p.Tranches[0].Reason != ReasonTP1 || p.Tranches[0].Price != 105 {
		t.Errorf("first tranche = %s @ %.2f, want TP1 @ 105", p.Tranches[0].Reason, p.Tranches[0].Price)
	}
	if p.Tranches[0].Size != p.InitialSize/2 {
		t.Errorf("TP1 closed %.4f, want half of %.4f", p.Tranches[0].Size, p.InitialSize)
	}
	if p.StopLoss != p.EntryPrice {
		t.Errorf("stop = %.2f, want breakeven %.2f", p.StopLoss, p.EntryPrice)
	}
	// Remainder closed at END near entry: pnl of that tranche ~ 0.
	if last := p.Tranches[1]; last.Reason != ReasonEnd || math.Abs(last.PnL) > 1e-9 {
		t.Errorf("END tranche = %s pnl %.6f, want END pnl 0", last.Reason, last.PnL)
	}
	// Half the size gained 5 points.
	wantPnL := p.InitialSize / 2 * 5
	if math.Abs(p.RealizedPnL-wantPnL) > 1e-9 {
		t.Errorf("realized pnl = %.4f, want %.4f", p.RealizedPnL, wantPnL)
	}
}

// scenario3 opens at 100 then feeds a bar spanning both the stop and TP1.
func scenario3Run(t *testing.T, priority ExecutionPriority) *Result {
	t.Helper()
	cfg := frictionless(10_000)
	cfg.ExecutionPriority = priority

	bars := []ohlc{
		{100, 100.5, 99.5, 100}, // entry bar
		{100, 111, 94, 100},     // spans SL 95 and TP1 105
	}
	strategy := func(history *market.Series, i int) *Intent {
		if i != 0 {
			return nil
		}
		return &Intent{Direction: criteria.Buy, EntryPrice: 100, StopLoss: 95, TakeProfit1: 105, TakeProfit2: 110}
	}
	return mustRun(t, cfg, seriesOf(t, bars), strategy)
}

func TestStopLossFirstPriority(t *testing.T) {
	r := scenario3Run(t, StopLossFirst)
	if len(r.Positions) != 1 {
		t.Fatalf("positions = %d", len(r.Positions))
	}
	p := r.Positions[0]
	if len(p.Tranches) != 1 || p.Tranches[0].Reason != ReasonSL || p.Tranches[0].Price != 95 {
		t.Errorf("tranches = %+v, want one full SL close at 95", p.Tranches)
	}
	if p.TP1Hit {
		t.Error("TP1 must not fire after a full stop-out")
	}
}

func TestTakeProfitFirstPriority(t *testing.T) {
	r := scenario3Run(t, TakeProfitFirst)
	if len(r.Positions) != 1 {
		t.Fatalf("positions = %d", len(r.Positions))
	}
	p := r.Positions[0]
	if !p.TP1Hit {
		t.Fatal("TP1 must fire first under TAKE_PROFIT_FIRST")
	}
	if p.Tranches[0].Reason != ReasonTP1 || p.Tranches[0].Price != 105 {
		t.Errorf("first tranche = %+v, want TP1 @ 105", p.Tranches[0])
	}
	// The moved stop must not also fire inside the same bar; the remainder
	// survives to the END close.
	if p.Tranches[1].Reason != ReasonEnd {
		t.Errorf("second tranche reason = %s, want END", p.Tranches[1].Reason)
	}
	if p.StopLoss != p.EntryPrice {
		t.Errorf("stop = %.2f, want breakeven %.2f", p.StopLoss, p.EntryPrice)
	}
}

func TestDailyLossKillSwitch(t *testing.T) {
	cfg := frictionless(10_000)
	cfg.RiskPerTrade = 0.06 // first stop-out realizes ~600, beyond the 500 limit
	cfg.MaxDailyLossPct = 5
	cfg.MaxDrawdownPct = 0 // isolate the daily switch
	cfg.MaxConcurrentTrades = 1

	// Hourly bars on one date: every even bar invites an entry at 100,
	// every odd bar stops it out at 90 for a -600 realized loss.
	bars := make([]ohlc, 20)
	for i := range bars {
		if i%2 == 0 {
			bars[i] = ohlc{100, 100.5, 99.5, 100}
		} else {
			bars[i] = ohlc{100, 100.5, 89, 95}
		}
	}
	strategy := func(history *market.Series, i int) *Intent {
		if i%2 != 0 {
			return nil
		}
		return &Intent{Direction: criteria.Buy, EntryPrice: 100, StopLoss: 90}
	}
	r := mustRun(t, cfg, seriesOf(t, bars), strategy)

	if r.Account.TradingEnabled {
		t.Fatal("trading must be disabled after the daily loss breach")
	}
	if !strings.Contains(r.Account.DisableReason, "daily loss") {
		t.Errorf("disable reason = %q", r.Account.DisableReason)
	}
	// Trade 1 opens at bar 0 and stops out at bar 1 (-600). The switch is
	// checked at the top of bar 2, so bar 2 and everything after decline
	// new signals: exactly one position trades.
	if len(r.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(r.Positions))
	}
	if r.Positions[0].ExitReason != ReasonSL {
		t.Errorf("exit reason = %s, want SL", r.Positions[0].ExitReason)
	}
	var dayTotal float64
	for _, pnl := range r.Account.DailyPnL {
		dayTotal += pnl
	}
	if math.Abs(dayTotal-r.Positions[0].RealizedPnL) > 1e-6 {
		t.Errorf("daily pnl %.2f != realized %.2f", dayTotal, r.Positions[0].RealizedPnL)
	}
}

func TestKillSwitchKeepsServingExits(t *testing.T) {
	cfg := frictionless(10_000)
	cfg.RiskPerTrade = 0.06
	cfg.MaxDailyLossPct = 5
	cfg.MaxDrawdownPct = 0
	cfg.MaxConcurrentTrades = 2
	cfg.MaxPositionsPerSymbol = 2

	// Two entries back to back, then both stop out on the same bar; the
	// switch flips the bar after and must not block the second exit.
	bars := []ohlc{
		{100, 100.5, 99.5, 100}, // bar 0: entry 1
		{100, 100.5, 99.5, 100}, // bar 1: entry 2
		{100, 100.5, 79, 85},    // bar 2: both stops cross
		{85, 86, 84, 85},
	}
	strategy := func(history *market.Series, i int) *Intent {
		if i > 1 {
			return nil
		}
		return &Intent{Direction: criteria.Buy, EntryPrice: 100, StopLoss: 80}
	}
	r := mustRun(t, cfg, seriesOf(t, bars), strategy)

	if len(r.Positions) != 2 {
		t.Fatalf("positions = %d, want both closed", len(r.Positions))
	}
	for _, p := range r.Positions {
		if p.State != Closed || p.ExitReason != ReasonSL {
			t.Errorf("position %d state=%s reason=%s, want closed by SL", p.ID, p.State, p.ExitReason)
		}
	}
	if r.Account.TradingEnabled {
		t.Error("switch must be off after the first realized breach")
	}
}

func TestEquityIdentityPerBar(t *testing.T) {
	cfg := frictionless(10_000)
	cfg.FeeEntry = 0.001
	cfg.FeeExit = 0.001
	cfg.SlippageBase = 0.0005
	cfg.BidAskSpread = 0.0002

	series := market.GenerateSeries("TESTUSDT", "1h", runStart, 200, market.TrendBars(100, 0.2, 0.5, 1000))
	strategy := func(history *market.Series, i int) *Intent {
		if i%40 != 10 {
			return nil
		}
		last := history.Last().Close
		return &Intent{Direction: criteria.Buy, StopLoss: last * 0.97, TakeProfit1: last * 1.03, TakeProfit2: last * 1.06}
	}
	r := mustRun(t, cfg, series, strategy)

	for i, pt := range r.EquityCurve {
		if pt.DrawdownPct < 0 {
			t.Errorf("bar %d drawdown %.4f < 0", i, pt.DrawdownPct)
		}
		if pt.Equity-pt.Cash-pt.ReservedMargin > pt.Equity {
			t.Errorf("bar %d inconsistent decomposition", i)
		}
	}
	// Realized pnl reconciles tranches minus fees for every position.
	for _, p := range r.Positions {
		var grossSum, feeSum float64
		for _, tr := range p.Tranches {
			grossSum += tr.PnL
			feeSum += tr.Fee
		}
		if math.Abs(p.RealizedPnL-(grossSum-feeSum)) > 1e-6 {
			t.Errorf("position %d realized %.6f != tranches %.6f - fees %.6f", p.ID, p.RealizedPnL, grossSum, feeSum)
		}
	}
	// Account identity at the end: all positions closed, margin released.
	if math.Abs(r.Account.ReservedMargin) > 1e-6 {
		t.Errorf("reserved margin %.6f after all closes", r.Account.ReservedMargin)
	}
	final := r.EquityCurve[len(r.EquityCurve)-1]
	if final.Equity > r.Account.PeakEquity+1e-9 {
		t.Error("peak equity must dominate every sample")
	}
}

func TestBuyAndHoldUptrend(t *testing.T) {
	cfg := frictionless(10_000)
	series := market.GenerateSeries("TESTUSDT", "1h", runStart, 300, market.TrendBars(100, 0.5, 0.2, 1000))

	opened := false
	strategy := func(history *market.Series, i int) *Intent {
		if opened {
			return nil
		}
		opened = true
		last := history.Last().Close
		// Wide stop, no targets: ride the trend to the END close.
		return &Intent{Direction: criteria.Buy, StopLoss: last * 0.5}
	}
	r := mustRun(t, cfg, series, strategy)

	if len(r.Positions) != 1 {
		t.Fatalf("positions = %d, want exactly one", len(r.Positions))
	}
	p := r.Positions[0]
	if p.ExitReason != ReasonEnd {
		t.Errorf("exit reason = %s, want END", p.ExitReason)
	}
	m := ComputeMetrics(r)
	if m.TotalReturnPct <= 0 {
		t.Errorf("uptrend return = %.2f%%, want positive", m.TotalReturnPct)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RandomSeed = 42
	series := market.GenerateSeries("TESTUSDT", "1h", runStart, 250, market.TrendBars(100, 0.3, 1, 1000))
	strategy := func(history *market.Series, i int) *Intent {
		if i%30 != 5 {
			return nil
		}
		last := history.Last().Close
		return &Intent{Direction: criteria.Buy, StopLoss: last * 0.98, TakeProfit1: last * 1.02, TakeProfit2: last * 1.04}
	}

	a := mustRun(t, cfg, series, strategy)
	b := mustRun(t, cfg, series, strategy)

	if len(a.Positions) != len(b.Positions) {
		t.Fatalf("trade counts differ: %d vs %d", len(a.Positions), len(b.Positions))
	}
	for i := range a.Positions {
		pa, pb := a.Positions[i], b.Positions[i]
		if pa.EntryPrice != pb.EntryPrice || pa.RealizedPnL != pb.RealizedPnL || pa.ExitReason != pb.ExitReason {
			t.Errorf("trade %d differs between runs", i)
		}
	}
	for i := range a.EquityCurve {
		if a.EquityCurve[i].Equity != b.EquityCurve[i].Equity {
			t.Fatalf("equity diverges at bar %d", i)
		}
	}
}
