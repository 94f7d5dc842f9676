// Package indicators provides pure technical-indicator functions over candle
// series. Every function returns a slice aligned with the input: index i
// holds the indicator value at bar i, with NaN for bars that lack enough
// history. Functions keep no state and are safe to call concurrently.
package indicators

import (
	"math"

	"trading-signal-engine/internal/market"
)

// SMA computes the simple moving average of values over period bars.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average with alpha = 2/(period+1),
// seeded by the SMA of the first period values.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	alpha := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(values); i++ {
		ema = values[i]*alpha + ema*(1-alpha)
		out[i] = ema
	}
	return out
}

// RSI computes the Relative Strength Index with Wilder smoothing.
// Output range is [0, 100]; an all-gain window yields 100.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period+1 {
		return out
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFrom(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds the three MACD output series.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the MACD line, signal line and histogram.
func MACD(values []float64, fast, slow, signalPeriod int) MACDResult {
	n := len(values)
	res := MACDResult{
		Line:      nanSlice(n),
		Signal:    nanSlice(n),
		Histogram: nanSlice(n),
	}
	if n < slow {
		return res
	}

	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	for i := slow - 1; i < n; i++ {
		res.Line[i] = fastEMA[i] - slowEMA[i]
	}

	// The signal is an EMA of the valid MACD line region.
	valid := res.Line[slow-1:]
	sig := EMA(valid, signalPeriod)
	for i, v := range sig {
		res.Signal[slow-1+i] = v
		if !math.IsNaN(v) {
			res.Histogram[slow-1+i] = valid[i] - v
		}
	}
	return res
}

// BollingerResult holds the three Bollinger band series.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger computes bands at middle ± mult standard deviations, where the
// middle band is the SMA over period bars.
func Bollinger(values []float64, period int, mult float64) BollingerResult {
	n := len(values)
	res := BollingerResult{
		Upper:  nanSlice(n),
		Middle: SMA(values, period),
		Lower:  nanSlice(n),
	}

	for i := period - 1; i < n; i++ {
		mean := res.Middle[i]
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		res.Upper[i] = mean + mult*sd
		res.Lower[i] = mean - mult*sd
	}
	return res
}

// ATR computes the Average True Range with Wilder smoothing. True range is
// max(H-L, |H-prevC|, |L-prevC|).
func ATR(candles []market.Candle, period int) []float64 {
	n := len(candles)
	out := nanSlice(n)
	if period <= 0 || n < period+1 {
		return out
	}

	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = trueRange(candles[i], candles[i-1].Close)
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period] = atr

	for i := period + 1; i < n; i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

func trueRange(c market.Candle, prevClose float64) float64 {
	hl := c.High - c.Low
	hc := math.Abs(c.High - prevClose)
	lc := math.Abs(c.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// StochResult holds the %K and %D series.
type StochResult struct {
	K []float64
	D []float64
}

// Stoch computes the stochastic oscillator: %K over kPeriod bars and %D as
// the SMA of %K over dPeriod bars. A flat window yields %K = 50.
func Stoch(candles []market.Candle, kPeriod, dPeriod int) StochResult {
	n := len(candles)
	res := StochResult{K: nanSlice(n), D: nanSlice(n)}
	if kPeriod <= 0 || n < kPeriod {
		return res
	}

	for i := kPeriod - 1; i < n; i++ {
		hi, lo := candles[i].High, candles[i].Low
		for j := i - kPeriod + 1; j <= i; j++ {
			hi = math.Max(hi, candles[j].High)
			lo = math.Min(lo, candles[j].Low)
		}
		if hi == lo {
			res.K[i] = 50
		} else {
			res.K[i] = 100 * (candles[i].Close - lo) / (hi - lo)
		}
	}

	// %D over the valid %K region.
	valid := res.K[kPeriod-1:]
	d := SMA(valid, dPeriod)
	for i, v := range d {
		res.D[kPeriod-1+i] = v
	}
	return res
}

// ADXDefault is reported when there is not enough history to compute ADX.
const ADXDefault = 25.0

// ADX computes the Average Directional Index with Wilder smoothing.
func ADX(candles []market.Candle, period int) []float64 {
	n := len(candles)
	out := nanSlice(n)
	if period <= 0 || n < 2*period+1 {
		return out
	}

	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(candles[i], candles[i-1].Close)
	}

	// Wilder-smoothed sums seeded over the first period.
	smTR, smPlus, smMinus := 0.0, 0.0, 0.0
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := nanSlice(n)
	dx[period] = dxFrom(smPlus, smMinus, smTR)
	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		dx[i] = dxFrom(smPlus, smMinus, smTR)
	}

	// ADX is the Wilder smooth of DX, seeded with the mean of the first
	// period DX values.
	seed := 0.0
	for i := period; i < 2*period; i++ {
		seed += dx[i]
	}
	adx := seed / float64(period)
	out[2*period-1] = adx
	for i := 2 * period; i < n; i++ {
		adx = (adx*float64(period-1) + dx[i]) / float64(period)
		out[i] = adx
	}
	return out
}

func dxFrom(plusDM, minusDM, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plusDM / tr
	minusDI := 100 * minusDM / tr
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

// VolumeRatio computes current volume divided by its SMA over period bars.
// A zero average yields NaN so callers fail safe.
func VolumeRatio(volumes []float64, period int) []float64 {
	out := nanSlice(len(volumes))
	avg := SMA(volumes, period)
	for i := range volumes {
		if !math.IsNaN(avg[i]) && avg[i] != 0 {
			out[i] = volumes[i] / avg[i]
		}
	}
	return out
}

// Last returns the final value of a series, or NaN for an empty one.
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// At returns the value offset bars back from the end (offset 0 is the last
// bar), or NaN when out of range.
func At(values []float64, offset int) float64 {
	idx := len(values) - 1 - offset
	if idx < 0 {
		return math.NaN()
	}
	return values[idx]
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
