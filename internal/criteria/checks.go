package criteria

import (
	"math"

	"trading-signal-engine/internal/indicators"
	"trading-signal-engine/internal/mtf"
)

// 1. mtf_alignment — H1, H4 and D1 trends all agree with the direction.
func checkMTFAlignment(in *Input) Result {
	const name = "mtf_alignment"
	want := in.wantsBullish()
	for _, tf := range []string{mtf.H1, mtf.H4, mtf.D1} {
		if in.bullishTrend(tf) != want {
			return fail(name, "%s trend opposes %s", tf, in.Direction)
		}
	}
	return pass(name, "H1/H4/D1 trends aligned %s", in.Direction)
}

// 2. price_ema — M15 close on the trend side of its EMA21.
func checkPriceEMA(in *Input) Result {
	const name = "price_ema"
	d := in.tf[mtf.M15]
	close := indicators.Last(d.closes)
	ema := indicators.Last(d.ema21)
	if isBad(ema) {
		return fail(name, "EMA21 indeterminate")
	}
	if in.wantsBullish() {
		if close > ema {
			return pass(name, "M15 close %.4f above EMA21 %.4f", close, ema)
		}
		return fail(name, "M15 close %.4f below EMA21 %.4f", close, ema)
	}
	if close < ema {
		return pass(name, "M15 close %.4f below EMA21 %.4f", close, ema)
	}
	return fail(name, "M15 close %.4f above EMA21 %.4f", close, ema)
}

// 3. rsi_momentum — H1 RSI inside the direction's healthy band.
func checkRSIMomentum(in *Input) Result {
	const name = "rsi_momentum"
	rsi := indicators.Last(in.tf[mtf.H1].rsi14)
	if isBad(rsi) {
		return fail(name, "RSI indeterminate")
	}
	lo, hi := 40.0, 70.0
	if !in.wantsBullish() {
		lo, hi = 30.0, 60.0
	}
	if rsi > lo && rsi < hi {
		return pass(name, "H1 RSI %.1f within (%.0f, %.0f)", rsi, lo, hi)
	}
	return fail(name, "H1 RSI %.1f outside (%.0f, %.0f)", rsi, lo, hi)
}

// 4. macd_confirmation — H1 MACD line on the direction side of its signal.
func checkMACDConfirmation(in *Input) Result {
	const name = "macd_confirmation"
	d := in.tf[mtf.H1]
	line := indicators.Last(d.macd.Line)
	signal := indicators.Last(d.macd.Signal)
	if isBad(line) || isBad(signal) {
		return fail(name, "MACD indeterminate")
	}
	if in.wantsBullish() == (line > signal) {
		return pass(name, "H1 MACD %.4f vs signal %.4f confirms %s", line, signal, in.Direction)
	}
	return fail(name, "H1 MACD %.4f vs signal %.4f opposes %s", line, signal, in.Direction)
}

// 5. stochastic — H1 %K/%D in a direction-consistent posture.
func checkStochastic(in *Input) Result {
	const name = "stochastic"
	d := in.tf[mtf.H1]
	k := indicators.Last(d.stoch.K)
	dv := indicators.Last(d.stoch.D)
	if isBad(k) || isBad(dv) {
		return fail(name, "stochastic indeterminate")
	}
	if in.wantsBullish() {
		if (k > dv && k > 20 && k < 80) || (k > 50 && dv > 50) {
			return pass(name, "H1 %%K %.1f / %%D %.1f bullish", k, dv)
		}
		return fail(name, "H1 %%K %.1f / %%D %.1f not bullish", k, dv)
	}
	if (k < dv && k > 20 && k < 80) || (k < 50 && dv < 50) {
		return pass(name, "H1 %%K %.1f / %%D %.1f bearish", k, dv)
	}
	return fail(name, "H1 %%K %.1f / %%D %.1f not bearish", k, dv)
}

// 6. adx_strength — mean of H1 and H4 ADX at or above 20.
func checkADXStrength(in *Input) Result {
	const name = "adx_strength"
	h1 := indicators.Last(in.tf[mtf.H1].adx14)
	h4 := indicators.Last(in.tf[mtf.H4].adx14)
	if isBad(h1) {
		h1 = indicators.ADXDefault
	}
	if isBad(h4) {
		h4 = indicators.ADXDefault
	}
	avg := (h1 + h4) / 2
	if avg >= 20 {
		return pass(name, "ADX avg %.1f (H1 %.1f, H4 %.1f)", avg, h1, h4)
	}
	return fail(name, "ADX avg %.1f below 20", avg)
}

// 7. volume — M15 volume running above 80% of its 20-bar average.
func checkVolume(in *Input) Result {
	const name = "volume"
	ratio := indicators.Last(in.tf[mtf.M15].volRatio)
	if isBad(ratio) {
		return fail(name, "volume ratio indeterminate")
	}
	if ratio > 0.8 {
		return pass(name, "M15 volume ratio %.2f", ratio)
	}
	return fail(name, "M15 volume ratio %.2f below 0.8", ratio)
}

// 8. bb_position — M15 close on the trend side of the Bollinger middle.
func checkBBPosition(in *Input) Result {
	const name = "bb_position"
	d := in.tf[mtf.M15]
	close := indicators.Last(d.closes)
	middle := indicators.Last(d.bb.Middle)
	if isBad(middle) {
		return fail(name, "Bollinger middle indeterminate")
	}
	if in.wantsBullish() == (close > middle) {
		return pass(name, "M15 close %.4f on %s side of BB middle %.4f", close, in.Direction, middle)
	}
	return fail(name, "M15 close %.4f on wrong side of BB middle %.4f", close, middle)
}

// 9. atr_volatility — H1 ATR above the symbol floor.
func checkATRVolatility(in *Input) Result {
	const name = "atr_volatility"
	atr := indicators.Last(in.tf[mtf.H1].atr14)
	if isBad(atr) {
		return fail(name, "ATR indeterminate")
	}
	if atr > in.Profile.ATRFloor {
		return pass(name, "H1 ATR %.4f above floor %.4f", atr, in.Profile.ATRFloor)
	}
	return fail(name, "H1 ATR %.4f at or below floor %.4f", atr, in.Profile.ATRFloor)
}

// 10. ema_spacing — H1 EMA21/EMA50 separation above the symbol floor.
func checkEMASpacing(in *Input) Result {
	const name = "ema_spacing"
	d := in.tf[mtf.H1]
	spacing := math.Abs(indicators.Last(d.ema21) - indicators.Last(d.ema50))
	if isBad(spacing) {
		return fail(name, "EMA spacing indeterminate")
	}
	if spacing > in.Profile.EMASpacingFloor {
		return pass(name, "H1 EMA spacing %.4f above floor %.4f", spacing, in.Profile.EMASpacingFloor)
	}
	return fail(name, "H1 EMA spacing %.4f at or below floor %.4f", spacing, in.Profile.EMASpacingFloor)
}

// 11. htf_confirmation — D1 close on the correct side of its EMA50.
func checkHTFConfirmation(in *Input) Result {
	const name = "htf_confirmation"
	d := in.tf[mtf.D1]
	close := indicators.Last(d.closes)
	ema := indicators.Last(d.ema50)
	if isBad(ema) {
		return fail(name, "D1 EMA50 indeterminate")
	}
	if in.wantsBullish() == (close > ema) {
		return pass(name, "D1 close %.4f confirms %s vs EMA50 %.4f", close, in.Direction, ema)
	}
	return fail(name, "D1 close %.4f on wrong side of EMA50 %.4f", close, ema)
}

// 12. price_action — the last three H1 bars stack in the direction.
func checkPriceAction(in *Input) Result {
	const name = "price_action"
	d := in.tf[mtf.H1]
	n := len(d.highs)
	if n < 3 {
		return fail(name, "insufficient H1 bars")
	}
	h1, h2, h3 := d.highs[n-3], d.highs[n-2], d.highs[n-1]
	l1, l2, l3 := d.lows[n-3], d.lows[n-2], d.lows[n-1]

	if in.wantsBullish() {
		if (h3 > h2 && h2 > h1) || (l3 > l2 && l2 > l1) {
			return pass(name, "H1 higher highs or higher lows")
		}
		return fail(name, "no bullish H1 bar structure")
	}
	if (h3 < h2 && h2 < h1) || (l3 < l2 && l2 < l1) {
		return pass(name, "H1 lower highs or lower lows")
	}
	return fail(name, "no bearish H1 bar structure")
}

// 13. momentum_acceleration — last three H1 MACD histogram bars share the
// direction's sign and the latest is growing in magnitude.
func checkMomentumAcceleration(in *Input) Result {
	const name = "momentum_acceleration"
	hist := in.tf[mtf.H1].macd.Histogram
	h0 := indicators.At(hist, 0)
	h1 := indicators.At(hist, 1)
	h2 := indicators.At(hist, 2)
	if isBad(h0) || isBad(h1) || isBad(h2) {
		return fail(name, "MACD histogram indeterminate")
	}

	sign := 1.0
	if !in.wantsBullish() {
		sign = -1.0
	}
	if h0*sign > 0 && h1*sign > 0 && h2*sign > 0 && math.Abs(h0) > math.Abs(h1) {
		return pass(name, "H1 momentum accelerating %s", in.Direction)
	}
	return fail(name, "H1 momentum not accelerating %s", in.Direction)
}

// 14. sr_respect — price within 2% of the nearest H4 swing level on the
// direction's side. Passes when no swing level exists.
func checkSRRespect(in *Input) Result {
	const name = "sr_respect"
	d := in.tf[mtf.H4]
	price := indicators.Last(d.closes)

	var levels []float64
	if in.wantsBullish() {
		levels = swingLows(d.lows, 2)
	} else {
		levels = swingHighs(d.highs, 2)
	}
	if len(levels) == 0 {
		return pass(name, "no swing level identified, not binding")
	}

	nearest := levels[0]
	for _, lv := range levels {
		if math.Abs(lv-price) < math.Abs(nearest-price) {
			nearest = lv
		}
	}
	if price != 0 && math.Abs(price-nearest)/price <= 0.02 {
		return pass(name, "price %.4f within 2%% of swing level %.4f", price, nearest)
	}
	return fail(name, "price %.4f far from nearest swing level %.4f", price, nearest)
}

// swingLows finds local minima with `window` lower-or-equal neighbors on
// each side.
func swingLows(lows []float64, window int) []float64 {
	var out []float64
	for i := window; i < len(lows)-window; i++ {
		isSwing := true
		for j := i - window; j <= i+window && isSwing; j++ {
			if j != i && lows[j] < lows[i] {
				isSwing = false
			}
		}
		if isSwing {
			out = append(out, lows[i])
		}
	}
	return out
}

// swingHighs finds local maxima with `window` higher-or-equal neighbors on
// each side.
func swingHighs(highs []float64, window int) []float64 {
	var out []float64
	for i := window; i < len(highs)-window; i++ {
		isSwing := true
		for j := i - window; j <= i+window && isSwing; j++ {
			if j != i && highs[j] > highs[i] {
				isSwing = false
			}
		}
		if isSwing {
			out = append(out, highs[i])
		}
	}
	return out
}

// 15. no_divergence — over the last ten H1 bars, price and RSI must not
// diverge against the direction by more than five RSI points.
func checkNoDivergence(in *Input) Result {
	const name = "no_divergence"
	d := in.tf[mtf.H1]
	priceNow := indicators.At(d.closes, 0)
	priceThen := indicators.At(d.closes, 9)
	rsiNow := indicators.At(d.rsi14, 0)
	rsiThen := indicators.At(d.rsi14, 9)
	if isBad(priceThen) || isBad(rsiThen) || isBad(rsiNow) {
		return fail(name, "divergence window indeterminate")
	}

	if in.wantsBullish() {
		if priceNow > priceThen && rsiThen-rsiNow > 5 {
			return fail(name, "bearish divergence: price up, RSI down %.1f", rsiThen-rsiNow)
		}
		return pass(name, "no bearish divergence over 10 H1 bars")
	}
	if priceNow < priceThen && rsiNow-rsiThen > 5 {
		return fail(name, "bullish divergence: price down, RSI up %.1f", rsiNow-rsiThen)
	}
	return pass(name, "no bullish divergence over 10 H1 bars")
}

// 16. session_timing — the wall-clock hour is inside the symbol's active
// window.
func checkSessionTiming(in *Input) Result {
	const name = "session_timing"
	hour := in.Now.UTC().Hour()
	start, end := in.Profile.SessionStartUTC, in.Profile.SessionEndUTC
	if in.SessionActive() {
		return pass(name, "hour %d UTC inside session [%d, %d)", hour, start, end)
	}
	return fail(name, "hour %d UTC outside session [%d, %d)", hour, start, end)
}

// 17. risk_reward — the ATR-derived stop and target geometry must reach the
// minimum reward/risk multiple.
func checkRiskReward(in *Input) Result {
	const name = "risk_reward"
	atr := indicators.Last(in.tf[mtf.H1].atr14)
	if isBad(atr) || atr == 0 {
		return fail(name, "ATR indeterminate")
	}
	risk := in.Profile.StopATRMult * atr
	reward := in.Profile.TargetATRMult * atr
	if risk == 0 {
		return fail(name, "zero risk distance")
	}
	rr := reward / risk
	if rr >= in.Profile.MinRewardRisk {
		return pass(name, "reward/risk %.2f meets minimum %.2f", rr, in.Profile.MinRewardRisk)
	}
	return fail(name, "reward/risk %.2f below minimum %.2f", rr, in.Profile.MinRewardRisk)
}

// 18. trend_consistency — at least three of the four timeframes trend with
// the direction.
func checkTrendConsistency(in *Input) Result {
	const name = "trend_consistency"
	agree := in.TrendAgreement()
	if agree >= 3 {
		return pass(name, "%d of 4 timeframes trend %s", agree, in.Direction)
	}
	return fail(name, "only %d of 4 timeframes trend %s", agree, in.Direction)
}

// 19. market_structure — rising lows (bullish) or falling highs (bearish)
// across the last ten H1 bars. Insufficient data passes.
func checkMarketStructure(in *Input) Result {
	const name = "market_structure"
	d := in.tf[mtf.H1]
	n := len(d.lows)
	if n < 10 {
		return pass(name, "insufficient bars for structure, not binding")
	}

	window := 10
	half := window / 2
	if in.wantsBullish() {
		older := minOf(d.lows[n-window : n-half])
		newer := minOf(d.lows[n-half:])
		if newer > older {
			return pass(name, "higher lows present (%.4f -> %.4f)", older, newer)
		}
		return fail(name, "no higher lows in last %d H1 bars", window)
	}
	older := maxOf(d.highs[n-window : n-half])
	newer := maxOf(d.highs[n-half:])
	if newer < older {
		return pass(name, "lower highs present (%.4f -> %.4f)", older, newer)
	}
	return fail(name, "no lower highs in last %d H1 bars", window)
}

func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// 20 (crypto). crypto_composite — funding is contrarian to the direction,
// BTC dominance favors it, and sentiment sits at the contrarian extreme.
// Absent fields are assumed safe.
func checkCryptoComposite(in *Input) Result {
	const name = "crypto_composite"
	if in.Aux == nil {
		return passUnavailable(name, "auxiliary context")
	}

	var notes []string

	if in.Aux.FundingRate == nil {
		notes = append(notes, "funding unavailable")
	} else {
		funding := *in.Aux.FundingRate
		if in.wantsBullish() && funding > 0 {
			return fail(name, "funding %.6f not contrarian for BUY", funding)
		}
		if !in.wantsBullish() && funding < 0 {
			return fail(name, "funding %.6f not contrarian for SELL", funding)
		}
		notes = append(notes, "funding contrarian")
	}

	if in.Aux.BTCDominancePct == nil {
		notes = append(notes, "dominance unavailable")
	} else {
		dom := *in.Aux.BTCDominancePct
		pivot := in.Profile.DominancePivotPct
		// Rising-BTC conditions favor BTC pairs; alt pairs want the inverse.
		favored := dom >= pivot
		if !in.Profile.IsBTCPair() {
			favored = dom <= pivot
		}
		if in.wantsBullish() != favored {
			return fail(name, "BTC dominance %.1f%% does not favor %s", dom, in.Direction)
		}
		notes = append(notes, "dominance favorable")
	}

	if in.Aux.FearGreedScore == nil {
		notes = append(notes, "sentiment unavailable")
	} else {
		score := *in.Aux.FearGreedScore
		if in.wantsBullish() && score >= in.Profile.FearFloor {
			return fail(name, "fear/greed %d not at fear extreme for BUY", score)
		}
		if !in.wantsBullish() && score <= in.Profile.GreedCeiling {
			return fail(name, "fear/greed %d not at greed extreme for SELL", score)
		}
		notes = append(notes, "sentiment at contrarian extreme")
	}

	return pass(name, "%s", joinNotes(notes))
}

// 20 (forex). currency_strength — higher-timeframe strength divergence:
// both H4 and D1 must trend with the direction, a proxy for base-currency
// strength against the quote.
func checkCurrencyStrength(in *Input) Result {
	const name = "currency_strength"
	want := in.wantsBullish()
	if in.bullishTrend(mtf.H4) == want && in.bullishTrend(mtf.D1) == want {
		return pass(name, "H4/D1 strength aligned %s", in.Direction)
	}
	return fail(name, "H4/D1 strength divergence against %s", in.Direction)
}

func joinNotes(notes []string) string {
	out := ""
	for i, n := range notes {
		if i > 0 {
			out += "; "
		}
		out += n
	}
	return out
}
