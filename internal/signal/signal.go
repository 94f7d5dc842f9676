// Package signal assembles the evaluation pipeline: multi-timeframe load,
// criterion evaluation, tier filtering, regime adjustment, ML validation
// and execution planning, producing one Signal per symbol.
package signal

import (
	"fmt"
	"math"
	"time"

	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/filter"
	"trading-signal-engine/internal/planner"
)

// Signal is the canonical pipeline output. BUY/SELL signals always carry a
// finite stop and first target; HOLD signals never do.
type Signal struct {
	ID          string             `json:"id"`
	Symbol      string             `json:"symbol"`
	Direction   criteria.Direction `json:"direction"`
	EntryPrice  float64            `json:"entry_price,omitempty"`
	StopLoss    float64            `json:"stop_loss,omitempty"`
	TakeProfit1 float64            `json:"take_profit_1,omitempty"`
	TakeProfit2 float64            `json:"take_profit_2,omitempty"`
	TakeProfit3 float64            `json:"take_profit_3,omitempty"`

	ConfidencePct float64         `json:"confidence_pct"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Diagnostics   filter.Decision `json:"diagnostics"`

	Plan *planner.Plan     `json:"plan,omitempty"`
	Tags map[string]string `json:"tags,omitempty"`
}

// Validate enforces the directional price contract.
func (s *Signal) Validate() error {
	switch s.Direction {
	case criteria.Buy, criteria.Sell:
		if !finite(s.EntryPrice) || !finite(s.StopLoss) || !finite(s.TakeProfit1) {
			return fmt.Errorf("%s signal for %s missing entry/stop/target", s.Direction, s.Symbol)
		}
		if s.Direction == criteria.Buy && (s.StopLoss >= s.EntryPrice || s.TakeProfit1 <= s.EntryPrice) {
			return fmt.Errorf("BUY levels inverted for %s", s.Symbol)
		}
		if s.Direction == criteria.Sell && (s.StopLoss <= s.EntryPrice || s.TakeProfit1 >= s.EntryPrice) {
			return fmt.Errorf("SELL levels inverted for %s", s.Symbol)
		}
	case criteria.Hold:
		if s.EntryPrice != 0 || s.StopLoss != 0 || s.TakeProfit1 != 0 {
			return fmt.Errorf("HOLD signal for %s carries price levels", s.Symbol)
		}
	default:
		return fmt.Errorf("unknown direction %q for %s", s.Direction, s.Symbol)
	}
	return nil
}

// Tag sets one tag, allocating the map on first use.
func (s *Signal) Tag(key, value string) {
	if s.Tags == nil {
		s.Tags = make(map[string]string)
	}
	s.Tags[key] = value
}

func finite(v float64) bool {
	return v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
