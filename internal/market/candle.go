package market

import (
	"fmt"
	"time"
)

// Candle represents a single OHLCV bar. Candles are immutable after ingest.
type Candle struct {
	OpenTime  int64   `json:"open_time"` // Unix milliseconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// Time returns the bar open time as a time.Time in UTC.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// Series is an ordered sequence of candles for a single (symbol, interval).
// Timestamps are strictly increasing with no duplicates.
type Series struct {
	Symbol   string   `json:"symbol"`
	Interval string   `json:"interval"`
	Candles  []Candle `json:"candles"`
}

// NewSeries validates candle ordering and wraps the slice in a Series.
// The candle slice is owned by the Series after this call.
func NewSeries(symbol, interval string, candles []Candle) (*Series, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: empty series for %s %s", ErrInputInvalid, symbol, interval)
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime <= candles[i-1].OpenTime {
			return nil, fmt.Errorf("%w: non-monotonic timestamps at index %d for %s %s",
				ErrInputInvalid, i, symbol, interval)
		}
	}
	return &Series{Symbol: symbol, Interval: interval, Candles: candles}, nil
}

// Len returns the number of candles in the series.
func (s *Series) Len() int {
	return len(s.Candles)
}

// Last returns the most recent candle. The series is never empty.
func (s *Series) Last() Candle {
	return s.Candles[len(s.Candles)-1]
}

// LastN returns the trailing n candles, or all candles if fewer exist.
func (s *Series) LastN(n int) []Candle {
	if n >= len(s.Candles) {
		return s.Candles
	}
	return s.Candles[len(s.Candles)-n:]
}

// Closes extracts the close prices in series order.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volumes in series order.
func (s *Series) Volumes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Volume
	}
	return out
}

// Truncate returns a shallow sub-series containing candles [0, endIdx].
// Used by the backtest engine to present history ending at the current bar.
func (s *Series) Truncate(endIdx int) *Series {
	if endIdx >= len(s.Candles) {
		endIdx = len(s.Candles) - 1
	}
	return &Series{Symbol: s.Symbol, Interval: s.Interval, Candles: s.Candles[:endIdx+1]}
}

// IntervalDuration maps a Binance interval string to its bar duration.
func IntervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unsupported interval %q", ErrInputInvalid, interval)
	}
}
