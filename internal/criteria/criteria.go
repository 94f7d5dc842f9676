// Package criteria evaluates the named entry conditions that make up the
// filter pipeline. Each criterion inspects the multi-timeframe view and the
// auxiliary context for one direction under test and produces an immutable
// Result. Criteria that depend on auxiliary data fail safe when the data is
// absent: they pass and record the reason. Price data is mandatory.
package criteria

import (
	"fmt"
	"math"
	"time"

	"trading-signal-engine/internal/auxdata"
	"trading-signal-engine/internal/indicators"
	"trading-signal-engine/internal/mtf"
)

// Direction is the signal direction a criterion set is tested against.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Result is the outcome of a single criterion.
type Result struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// Input bundles everything a criterion may inspect. The clock is injected
// so session checks are testable.
type Input struct {
	View      *mtf.View
	Aux       *auxdata.Context
	Direction Direction
	Now       time.Time
	Profile   Profile

	tf map[string]*tfIndicators
}

// tfIndicators caches per-timeframe indicator series so the twenty criteria
// share one computation pass.
type tfIndicators struct {
	closes   []float64
	highs    []float64
	lows     []float64
	ema21    []float64
	ema50    []float64
	rsi14    []float64
	macd     indicators.MACDResult
	bb       indicators.BollingerResult
	stoch    indicators.StochResult
	atr14    []float64
	adx14    []float64
	volRatio []float64
}

// NewInput precomputes indicator series for every timeframe in the view.
func NewInput(view *mtf.View, aux *auxdata.Context, direction Direction, now time.Time, profile Profile) *Input {
	in := &Input{
		View:      view,
		Aux:       aux,
		Direction: direction,
		Now:       now,
		Profile:   profile,
		tf:        make(map[string]*tfIndicators, len(mtf.Timeframes)),
	}
	for _, tf := range mtf.Timeframes {
		s := view.Get(tf)
		closes := s.Closes()
		highs := make([]float64, s.Len())
		lows := make([]float64, s.Len())
		for i, c := range s.Candles {
			highs[i] = c.High
			lows[i] = c.Low
		}
		in.tf[tf] = &tfIndicators{
			closes:   closes,
			highs:    highs,
			lows:     lows,
			ema21:    indicators.EMA(closes, 21),
			ema50:    indicators.EMA(closes, 50),
			rsi14:    indicators.RSI(closes, 14),
			macd:     indicators.MACD(closes, 12, 26, 9),
			bb:       indicators.Bollinger(closes, 20, 2),
			stoch:    indicators.Stoch(s.Candles, 14, 3),
			atr14:    indicators.ATR(s.Candles, 14),
			adx14:    indicators.ADX(s.Candles, 14),
			volRatio: indicators.VolumeRatio(s.Volumes(), 20),
		}
	}
	return in
}

// bullishTrend reports whether EMA21 is above EMA50 on the timeframe.
func (in *Input) bullishTrend(tf string) bool {
	d := in.tf[tf]
	return indicators.Last(d.ema21) > indicators.Last(d.ema50)
}

// wantsBullish reports whether the direction under test needs bullish
// conditions.
func (in *Input) wantsBullish() bool {
	return in.Direction == Buy
}

// ATRH1 exposes the current H1 ATR for downstream sizing.
func (in *Input) ATRH1() float64 {
	return indicators.Last(in.tf[mtf.H1].atr14)
}

// RSIH1 exposes the current H1 RSI.
func (in *Input) RSIH1() float64 {
	return indicators.Last(in.tf[mtf.H1].rsi14)
}

// VolumeRatioM15 exposes the current M15 volume ratio.
func (in *Input) VolumeRatioM15() float64 {
	return indicators.Last(in.tf[mtf.M15].volRatio)
}

// LastPrice is the latest M15 close.
func (in *Input) LastPrice() float64 {
	return indicators.Last(in.tf[mtf.M15].closes)
}

// TrendAgreement counts the timeframes whose trend matches the direction
// under test, out of four.
func (in *Input) TrendAgreement() int {
	want := in.wantsBullish()
	agree := 0
	for _, tf := range mtf.Timeframes {
		if in.bullishTrend(tf) == want {
			agree++
		}
	}
	return agree
}

// SessionActive reports whether the injected clock sits inside the
// profile's session window.
func (in *Input) SessionActive() bool {
	hour := in.Now.UTC().Hour()
	start, end := in.Profile.SessionStartUTC, in.Profile.SessionEndUTC
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// Criterion is one named check in declared order.
type Criterion struct {
	Name string
	Eval func(in *Input) Result
}

// Set returns the ordered criterion list for a profile. The list always
// contains exactly twenty criteria; the twentieth is asset-specific.
func Set(profile Profile) []Criterion {
	set := []Criterion{
		{"mtf_alignment", checkMTFAlignment},
		{"price_ema", checkPriceEMA},
		{"rsi_momentum", checkRSIMomentum},
		{"macd_confirmation", checkMACDConfirmation},
		{"stochastic", checkStochastic},
		{"adx_strength", checkADXStrength},
		{"volume", checkVolume},
		{"bb_position", checkBBPosition},
		{"atr_volatility", checkATRVolatility},
		{"ema_spacing", checkEMASpacing},
		{"htf_confirmation", checkHTFConfirmation},
		{"price_action", checkPriceAction},
		{"momentum_acceleration", checkMomentumAcceleration},
		{"sr_respect", checkSRRespect},
		{"no_divergence", checkNoDivergence},
		{"session_timing", checkSessionTiming},
		{"risk_reward", checkRiskReward},
		{"trend_consistency", checkTrendConsistency},
		{"market_structure", checkMarketStructure},
	}
	if profile.Asset == AssetForex {
		set = append(set, Criterion{"currency_strength", checkCurrencyStrength})
	} else {
		set = append(set, Criterion{"crypto_composite", checkCryptoComposite})
	}
	return set
}

// EvaluateAll runs every criterion in declared order.
func EvaluateAll(in *Input) []Result {
	set := Set(in.Profile)
	results := make([]Result, 0, len(set))
	for _, c := range set {
		results = append(results, c.Eval(in))
	}
	return results
}

func pass(name, format string, args ...interface{}) Result {
	return Result{Name: name, Passed: true, Message: fmt.Sprintf(format, args...)}
}

func fail(name, format string, args ...interface{}) Result {
	return Result{Name: name, Passed: false, Message: fmt.Sprintf(format, args...)}
}

// passUnavailable records a fail-safe pass for missing auxiliary inputs.
func passUnavailable(name, field string) Result {
	return Result{Name: name, Passed: true, Message: field + " unavailable, assumed safe"}
}

func isBad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
