package market

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockProvider serves pre-loaded series for offline runs and tests.
type MockProvider struct {
	mu     sync.RWMutex
	series map[string]*Series // "SYMBOL:interval"
	calls  int
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{series: make(map[string]*Series)}
}

// Load registers a series to be served for its (symbol, interval).
func (m *MockProvider) Load(s *Series) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[bufferKey(s.Symbol, s.Interval)] = s
}

// GetCandles returns the trailing count bars of the registered series.
func (m *MockProvider) GetCandles(_ context.Context, symbol, interval string, count int) (*Series, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	m.mu.RLock()
	s, ok := m.series[bufferKey(symbol, interval)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolUnknown, symbol)
	}
	if s.Len() < count {
		return nil, fmt.Errorf("%w: have %d of %d bars for %s %s",
			ErrInsufficientData, s.Len(), count, symbol, interval)
	}
	return &Series{Symbol: s.Symbol, Interval: s.Interval, Candles: s.LastN(count)}, nil
}

// Calls returns how many times GetCandles was invoked.
func (m *MockProvider) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// BarFunc produces the OHLCV values for synthetic bar i.
type BarFunc func(i int) (open, high, low, close, volume float64)

// GenerateSeries builds a synthetic series of n bars starting at start.
// Used by tests and the offline mock mode.
func GenerateSeries(symbol, interval string, start time.Time, n int, f BarFunc) *Series {
	step, err := IntervalDuration(interval)
	if err != nil {
		step = time.Hour
	}
	candles := make([]Candle, n)
	for i := 0; i < n; i++ {
		o, h, l, c, v := f(i)
		openTime := start.Add(time.Duration(i) * step)
		candles[i] = Candle{
			OpenTime:  openTime.UnixMilli(),
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    v,
			CloseTime: openTime.Add(step).UnixMilli() - 1,
		}
	}
	return &Series{Symbol: symbol, Interval: interval, Candles: candles}
}

// FlatBars returns a BarFunc producing constant-price bars.
func FlatBars(price, volume float64) BarFunc {
	return func(int) (float64, float64, float64, float64, float64) {
		return price, price, price, price, volume
	}
}

// TrendBars returns a BarFunc producing a linear trend with a fixed range
// around each close.
func TrendBars(startPrice, stepPerBar, barRange, volume float64) BarFunc {
	return func(i int) (float64, float64, float64, float64, float64) {
		open := startPrice + stepPerBar*float64(i)
		close := open + stepPerBar
		high := maxFloat(open, close) + barRange
		low := minFloat(open, close) - barRange
		return open, high, low, close, volume
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
