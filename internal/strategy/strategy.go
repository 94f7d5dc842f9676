// Package strategy provides the entry strategies used by backtests. The
// main one replays the live criteria filter bar by bar; a simple EMA cross
// strategy exists as a baseline for comparison runs.
package strategy

import (
	"fmt"
	"math"
	"strconv"

	"trading-signal-engine/internal/auxdata"
	"trading-signal-engine/internal/backtest"
	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/filter"
	"trading-signal-engine/internal/indicators"
	"trading-signal-engine/internal/market"
	"trading-signal-engine/internal/mtf"
	"trading-signal-engine/internal/planner"
)

// Warmup is the history needed before the filter strategy evaluates a bar.
const Warmup = 250

const atrPeriod = 14

// FilterStrategy replays the live signal filter over backtest history. A
// single-interval backtest has no true multi-timeframe view, so the bar
// window stands in for every timeframe; criteria that compare timeframes
// then degenerate to agreement, which is the conservative direction.
type FilterStrategy struct {
	filter      *filter.Filter
	profile     criteria.Profile
	stopATRMult float64
	planner     *planner.Planner
	aux         *auxdata.Context
}

// NewFilterStrategy builds the strategy for a tier and profile.
func NewFilterStrategy(tier filter.Tier, profile criteria.Profile, stopATRMult float64) *FilterStrategy {
	if stopATRMult <= 0 {
		stopATRMult = 1.5
	}
	return &FilterStrategy{
		filter:      filter.NewForProfile(tier, profile),
		profile:     profile,
		stopATRMult: stopATRMult,
		planner:     planner.New(),
		aux:         &auxdata.Context{},
	}
}

// Func returns the engine callback.
func (s *FilterStrategy) Func() backtest.StrategyFunc {
	return s.intent
}

func (s *FilterStrategy) intent(history *market.Series, i int) *backtest.Intent {
	if i+1 < Warmup || i >= history.Len() {
		return nil
	}
	window := history.Truncate(i)
	if window.Len() > Warmup {
		window = &market.Series{
			Symbol:   history.Symbol,
			Interval: history.Interval,
			Candles:  window.Candles[window.Len()-Warmup:],
		}
	}

	view := flatView(window)
	now := window.Last().Time()

	for _, direction := range []criteria.Direction{criteria.Buy, criteria.Sell} {
		in := criteria.NewInput(view, s.aux, direction, now, s.profile)
		decision := s.filter.Evaluate(in)
		if !decision.Accepted {
			continue
		}
		intent := s.build(window, direction)
		if intent != nil {
			intent.Tags = map[string]string{
				"strategy": "filter",
				"score":    strconv.Itoa(decision.Score),
			}
		}
		return intent
	}
	return nil
}

func (s *FilterStrategy) build(window *market.Series, direction criteria.Direction) *backtest.Intent {
	entry := window.Last().Close
	atr := indicators.Last(indicators.ATR(window.Candles, atrPeriod))
	if !finite(entry) || !finite(atr) || atr <= 0 {
		return nil
	}

	var stop float64
	if direction == criteria.Buy {
		stop = entry - s.stopATRMult*atr
	} else {
		stop = entry + s.stopATRMult*atr
	}

	plan, err := s.planner.Build(window.Symbol, direction, entry, stop, atr)
	if err != nil {
		return nil
	}
	return &backtest.Intent{
		Direction:   direction,
		EntryPrice:  entry,
		StopLoss:    stop,
		TakeProfit1: plan.TP(1),
		TakeProfit2: plan.TP(2),
		ATR:         atr,
	}
}

// flatView maps the single backtest interval onto every timeframe slot.
func flatView(window *market.Series) *mtf.View {
	series := make(map[string]*market.Series, len(mtf.Timeframes))
	for _, tf := range mtf.Timeframes {
		series[tf] = &market.Series{Symbol: window.Symbol, Interval: tf, Candles: window.Candles}
	}
	return &mtf.View{Symbol: window.Symbol, Series: series}
}

// EMACross is the baseline strategy: long when the fast EMA crosses above
// the slow one, short on the opposite cross.
type EMACross struct {
	Fast        int
	Slow        int
	StopATRMult float64
}

// NewEMACross uses the common 9/21 pair.
func NewEMACross() *EMACross {
	return &EMACross{Fast: 9, Slow: 21, StopATRMult: 1.5}
}

// Func returns the engine callback.
func (s *EMACross) Func() backtest.StrategyFunc {
	return func(history *market.Series, i int) *backtest.Intent {
		if i < s.Slow+atrPeriod || i >= history.Len() {
			return nil
		}
		closes := history.Truncate(i).Closes()
		fast := indicators.EMA(closes, s.Fast)
		slow := indicators.EMA(closes, s.Slow)

		fNow, sNow := indicators.Last(fast), indicators.Last(slow)
		fPrev, sPrev := indicators.At(fast, 1), indicators.At(slow, 1)
		if !finite(fNow) || !finite(sNow) || !finite(fPrev) || !finite(sPrev) {
			return nil
		}

		var direction criteria.Direction
		switch {
		case fPrev <= sPrev && fNow > sNow:
			direction = criteria.Buy
		case fPrev >= sPrev && fNow < sNow:
			direction = criteria.Sell
		default:
			return nil
		}

		entry := closes[len(closes)-1]
		atr := indicators.Last(indicators.ATR(history.Truncate(i).Candles, atrPeriod))
		if !finite(atr) || atr <= 0 {
			return nil
		}
		stop := entry - s.StopATRMult*atr
		tp1 := entry + s.StopATRMult*atr
		tp2 := entry + 2*s.StopATRMult*atr
		if direction == criteria.Sell {
			stop = entry + s.StopATRMult*atr
			tp1 = entry - s.StopATRMult*atr
			tp2 = entry - 2*s.StopATRMult*atr
		}
		return &backtest.Intent{
			Direction:   direction,
			EntryPrice:  entry,
			StopLoss:    stop,
			TakeProfit1: tp1,
			TakeProfit2: tp2,
			ATR:         atr,
			Tags:        map[string]string{"strategy": "ema_cross"},
		}
	}
}

// ByName resolves a strategy name from config or an API request.
func ByName(name string, tier filter.Tier, profile criteria.Profile, stopATRMult float64) (backtest.StrategyFunc, error) {
	switch name {
	case "", "filter":
		return NewFilterStrategy(tier, profile, stopATRMult).Func(), nil
	case "ema_cross":
		return NewEMACross().Func(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
