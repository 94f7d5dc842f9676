package criteria

import "strings"

// AssetClass selects the asset-specific twentieth criterion.
type AssetClass string

const (
	AssetCrypto AssetClass = "crypto"
	AssetForex  AssetClass = "forex"
)

// Profile carries the symbol-dependent thresholds used by the criteria.
type Profile struct {
	Symbol          string     `json:"symbol"`
	Asset           AssetClass `json:"asset"`
	ATRFloor        float64    `json:"atr_floor"`         // minimum H1 ATR
	EMASpacingFloor float64    `json:"ema_spacing_floor"` // minimum |EMA21-EMA50| on H1
	SessionStartUTC int        `json:"session_start_utc"` // inclusive hour
	SessionEndUTC   int        `json:"session_end_utc"`   // exclusive hour

	// Risk/reward geometry for criterion 17 and the planner.
	StopATRMult   float64 `json:"stop_atr_mult"`
	TargetATRMult float64 `json:"target_atr_mult"`
	MinRewardRisk float64 `json:"min_reward_risk"`

	// Crypto composite thresholds.
	DominancePivotPct float64 `json:"dominance_pivot_pct"`
	FearFloor         int     `json:"fear_floor"`  // BUY wants score below this
	GreedCeiling      int     `json:"greed_ceiling"` // SELL wants score above this
}

// DefaultProfile returns thresholds for a symbol, scaled for the major
// crypto pairs and generic otherwise.
func DefaultProfile(symbol string) Profile {
	p := Profile{
		Symbol:            symbol,
		Asset:             AssetCrypto,
		ATRFloor:          0.5,
		EMASpacingFloor:   0.1,
		SessionStartUTC:   13, // US/London overlap
		SessionEndUTC:     17,
		StopATRMult:       1.5,
		TargetATRMult:     3.0,
		MinRewardRisk:     2.0,
		DominancePivotPct: 50,
		FearFloor:         25,
		GreedCeiling:      75,
	}

	upper := strings.ToUpper(symbol)
	switch {
	case strings.HasPrefix(upper, "BTC"):
		p.ATRFloor = 100
		p.EMASpacingFloor = 50
	case strings.HasPrefix(upper, "ETH"):
		p.ATRFloor = 10
		p.EMASpacingFloor = 5
	case strings.Contains(upper, "JPY"):
		p.Asset = AssetForex
		p.ATRFloor = 0.05
		p.EMASpacingFloor = 0.01
		p.SessionStartUTC = 7 // Tokyo/London overlap
		p.SessionEndUTC = 10
	case strings.HasSuffix(upper, "USD") && len(upper) == 6:
		p.Asset = AssetForex
		p.ATRFloor = 0.0005
		p.EMASpacingFloor = 0.0001
	}
	return p
}

// IsBTCPair reports whether the profile's symbol is a BTC-led pair, which
// flips the dominance reading in the crypto composite.
func (p Profile) IsBTCPair() bool {
	return strings.HasPrefix(strings.ToUpper(p.Symbol), "BTC")
}
