// Package mtf assembles the four-timeframe market view the filter pipeline
// evaluates against.
package mtf

import (
	"context"
	"fmt"
	"sync"

	"trading-signal-engine/internal/market"
)

// Timeframe tags for the canonical four-timeframe view.
const (
	M15 = "15m"
	H1  = "1h"
	H4  = "4h"
	D1  = "1d"
)

// Timeframes lists the canonical view in ascending period order.
var Timeframes = []string{M15, H1, H4, D1}

// DefaultMinBars is the minimum history per timeframe.
const DefaultMinBars = 200

// View maps timeframe tags to their series. All four series terminate at
// the same aligned bar.
type View struct {
	Symbol string
	Series map[string]*market.Series
}

// Get returns the series for a timeframe tag. The tag must be one of the
// canonical four; a View is never constructed with a missing timeframe.
func (v *View) Get(tf string) *market.Series {
	return v.Series[tf]
}

// Loader fetches and aligns the canonical timeframes.
type Loader struct {
	provider market.Provider
	minBars  int
}

// NewLoader creates a loader. minBars <= 0 selects DefaultMinBars.
func NewLoader(provider market.Provider, minBars int) *Loader {
	if minBars <= 0 {
		minBars = DefaultMinBars
	}
	return &Loader{provider: provider, minBars: minBars}
}

// Load fetches all four timeframes in parallel and validates alignment.
// Any missing or misaligned timeframe fails the whole call.
func (l *Loader) Load(ctx context.Context, symbol string) (*View, error) {
	type result struct {
		tf     string
		series *market.Series
		err    error
	}

	results := make(chan result, len(Timeframes))
	var wg sync.WaitGroup
	for _, tf := range Timeframes {
		wg.Add(1)
		go func(tf string) {
			defer wg.Done()
			s, err := l.provider.GetCandles(ctx, symbol, tf, l.minBars)
			results <- result{tf: tf, series: s, err: err}
		}(tf)
	}
	wg.Wait()
	close(results)

	view := &View{Symbol: symbol, Series: make(map[string]*market.Series, len(Timeframes))}
	for r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("loading %s %s: %w", symbol, r.tf, r.err)
		}
		if r.series.Len() < l.minBars {
			return nil, fmt.Errorf("%w: %s %s has %d of %d bars",
				market.ErrInputInvalid, symbol, r.tf, r.series.Len(), l.minBars)
		}
		view.Series[r.tf] = r.series
	}

	if err := validateAlignment(view); err != nil {
		return nil, err
	}
	return view, nil
}

// validateAlignment enforces the shared endpoint: the D1 close anchors the
// view, every lower timeframe must close at or after the anchor, and no
// timeframe may lag the freshest one by a full bar of its own period.
func validateAlignment(v *View) error {
	anchor := v.Get(D1).Last().CloseTime

	latest := anchor
	for _, tf := range Timeframes {
		if lc := v.Get(tf).Last().CloseTime; lc > latest {
			latest = lc
		}
	}

	for _, tf := range Timeframes {
		s := v.Get(tf)
		lastClose := s.Last().CloseTime
		if lastClose < anchor {
			return fmt.Errorf("%w: %s terminates before the D1 anchor", market.ErrInputInvalid, tf)
		}
		period, err := market.IntervalDuration(tf)
		if err != nil {
			return err
		}
		if latest-lastClose >= period.Milliseconds() {
			return fmt.Errorf("%w: %s lags the view endpoint by more than one bar",
				market.ErrInputInvalid, tf)
		}
	}
	return nil
}
