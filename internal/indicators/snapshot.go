package indicators

import (
	"encoding/json"
	"math"

	"trading-signal-engine/internal/market"
)

// Snapshot holds the latest-bar indicator values for one series. Fields are
// NaN when the series is too short to warm the indicator.
type Snapshot struct {
	Close         float64 `json:"close"`
	EMA9          float64 `json:"ema9"`
	EMA21         float64 `json:"ema21"`
	EMA50         float64 `json:"ema50"`
	EMA200        float64 `json:"ema200"`
	SMA20         float64 `json:"sma20"`
	RSI14         float64 `json:"rsi14"`
	MACDLine      float64 `json:"macd_line"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`
	BBUpper       float64 `json:"bb_upper"`
	BBMiddle      float64 `json:"bb_middle"`
	BBLower       float64 `json:"bb_lower"`
	ATR14         float64 `json:"atr14"`
	StochK        float64 `json:"stoch_k"`
	StochD        float64 `json:"stoch_d"`
	ADX14         float64 `json:"adx14"`
	VolumeRatio20 float64 `json:"volume_ratio_20"`
}

// TakeSnapshot computes all standard indicators on the latest bar.
func TakeSnapshot(s *market.Series) Snapshot {
	closes := s.Closes()
	volumes := s.Volumes()
	macd := MACD(closes, 12, 26, 9)
	bb := Bollinger(closes, 20, 2)
	stoch := Stoch(s.Candles, 14, 3)

	adx := Last(ADX(s.Candles, 14))
	if math.IsNaN(adx) {
		adx = ADXDefault
	}

	return Snapshot{
		Close:         s.Last().Close,
		EMA9:          Last(EMA(closes, 9)),
		EMA21:         Last(EMA(closes, 21)),
		EMA50:         Last(EMA(closes, 50)),
		EMA200:        Last(EMA(closes, 200)),
		SMA20:         Last(SMA(closes, 20)),
		RSI14:         Last(RSI(closes, 14)),
		MACDLine:      Last(macd.Line),
		MACDSignal:    Last(macd.Signal),
		MACDHistogram: Last(macd.Histogram),
		BBUpper:       Last(bb.Upper),
		BBMiddle:      Last(bb.Middle),
		BBLower:       Last(bb.Lower),
		ATR14:         Last(ATR(s.Candles, 14)),
		StochK:        Last(stoch.K),
		StochD:        Last(stoch.D),
		ADX14:         adx,
		VolumeRatio20: Last(VolumeRatio(volumes, 20)),
	}
}

// MarshalJSON renders unwarmed (NaN) values as null; encoding/json rejects
// NaN outright, which would fail the whole response for a short series.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type jsonSnapshot struct {
		Close         *float64 `json:"close"`
		EMA9          *float64 `json:"ema9"`
		EMA21         *float64 `json:"ema21"`
		EMA50         *float64 `json:"ema50"`
		EMA200        *float64 `json:"ema200"`
		SMA20         *float64 `json:"sma20"`
		RSI14         *float64 `json:"rsi14"`
		MACDLine      *float64 `json:"macd_line"`
		MACDSignal    *float64 `json:"macd_signal"`
		MACDHistogram *float64 `json:"macd_histogram"`
		BBUpper       *float64 `json:"bb_upper"`
		BBMiddle      *float64 `json:"bb_middle"`
		BBLower       *float64 `json:"bb_lower"`
		ATR14         *float64 `json:"atr14"`
		StochK        *float64 `json:"stoch_k"`
		StochD        *float64 `json:"stoch_d"`
		ADX14         *float64 `json:"adx14"`
		VolumeRatio20 *float64 `json:"volume_ratio_20"`
	}
	opt := func(v float64) *float64 {
		if math.IsNaN(v) {
			return nil
		}
		return &v
	}
	return json.Marshal(jsonSnapshot{
		Close:         opt(s.Close),
		EMA9:          opt(s.EMA9),
		EMA21:         opt(s.EMA21),
		EMA50:         opt(s.EMA50),
		EMA200:        opt(s.EMA200),
		SMA20:         opt(s.SMA20),
		RSI14:         opt(s.RSI14),
		MACDLine:      opt(s.MACDLine),
		MACDSignal:    opt(s.MACDSignal),
		MACDHistogram: opt(s.MACDHistogram),
		BBUpper:       opt(s.BBUpper),
		BBMiddle:      opt(s.BBMiddle),
		BBLower:       opt(s.BBLower),
		ATR14:         opt(s.ATR14),
		StochK:        opt(s.StochK),
		StochD:        opt(s.StochD),
		ADX14:         opt(s.ADX14),
		VolumeRatio20: opt(s.VolumeRatio20),
	})
}
