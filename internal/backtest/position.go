package backtest

import (
	"time"

	"trading-signal-engine/internal/criteria"
)

// PositionState is the lifecycle of one position.
type PositionState string

const (
	Open            PositionState = "OPEN"
	PartiallyClosed PositionState = "PARTIALLY_CLOSED"
	Closed          PositionState = "CLOSED"
)

// Exit reasons recorded per closing tranche.
const (
	ReasonSL  = "SL"
	ReasonTP1 = "TP1"
	ReasonTP2 = "TP2"
	ReasonEnd = "END"
)

// ClosedTranche records one partial or full close.
type ClosedTranche struct {
	Time     time.Time `json:"time"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	PnL      float64   `json:"pnl"` // gross of fees
	Fee      float64   `json:"fee"`
	Slippage float64   `json:"slippage"` // absolute price impact cost
	Reason   string    `json:"reason"`
}

// Position is one simulated trade. Created by the engine at open, mutated
// only through closePartial/closeFull, never re-opened.
type Position struct {
	ID        int                `json:"id"`
	Symbol    string             `json:"symbol"`
	Direction criteria.Direction `json:"direction"`
	State     PositionState      `json:"state"`

	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time,omitempty"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price,omitempty"` // size-weighted close price

	InitialSize   float64 `json:"initial_size"`
	RemainingSize float64 `json:"remaining_size"`

	StopLoss    float64 `json:"stop_loss"`
	TakeProfit1 float64 `json:"take_profit_1"`
	TakeProfit2 float64 `json:"take_profit_2"`
	TP1Hit      bool    `json:"tp1_hit"`
	TP2Hit      bool    `json:"tp2_hit"`

	RealizedPnL   float64 `json:"realized_pnl"` // net of fees
	UnrealizedPnL float64 `json:"unrealized_pnl"`

	EntryFee      float64 `json:"entry_fee"`
	ExitFees      float64 `json:"exit_fees"`
	EntrySlippage float64 `json:"entry_slippage"`
	ExitSlippage  float64 `json:"exit_slippage"`

	ExitReason string            `json:"exit_reason,omitempty"` // reason of the final tranche
	Tranches   []ClosedTranche   `json:"tranches,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// direction sign: +1 long, -1 short.
func (p *Position) sign() float64 {
	if p.Direction == criteria.Sell {
		return -1
	}
	return 1
}

// markToMarket updates unrealized PnL against a close price.
func (p *Position) markToMarket(close float64) {
	p.UnrealizedPnL = p.sign() * (close - p.EntryPrice) * p.RemainingSize
}

// closeTranche realizes part of the position at a fill price. size must not
// exceed remaining; the caller provides the fee and slippage cost already
// computed for the fill.
func (p *Position) closeTranche(at time.Time, price, size, fee, slippage float64, reason string) ClosedTranche {
	if size > p.RemainingSize {
		size = p.RemainingSize
	}
	gross := p.sign() * (price - p.EntryPrice) * size
	tranche := ClosedTranche{
		Time:     at,
		Price:    price,
		Size:     size,
		PnL:      gross,
		Fee:      fee,
		Slippage: slippage,
		Reason:   reason,
	}
	p.Tranches = append(p.Tranches, tranche)
	p.RemainingSize -= size
	p.RealizedPnL += gross - fee
	p.ExitFees += fee
	p.ExitSlippage += slippage

	closedSoFar := p.InitialSize - p.RemainingSize
	if closedSoFar > 0 {
		// Size-weighted average exit price.
		var weighted float64
		for _, tr := range p.Tranches {
			weighted += tr.Price * tr.Size
		}
		p.ExitPrice = weighted / closedSoFar
	}

	if p.RemainingSize <= 1e-12 {
		p.RemainingSize = 0
		p.State = Closed
		p.ExitTime = at
		p.ExitReason = reason
		p.UnrealizedPnL = 0
	} else {
		p.State = PartiallyClosed
	}
	return tranche
}

// TotalFees is the sum of entry and exit fees.
func (p *Position) TotalFees() float64 {
	return p.EntryFee + p.ExitFees
}

// TotalSlippage is the sum of entry and exit slippage costs.
func (p *Position) TotalSlippage() float64 {
	return p.EntrySlippage + p.ExitSlippage
}

// PnLPct is realized PnL relative to the entry notional.
func (p *Position) PnLPct() float64 {
	notional := p.EntryPrice * p.InitialSize
	if notional == 0 {
		return 0
	}
	return p.RealizedPnL / notional * 100
}

// DurationHours is the open-to-final-close span.
func (p *Position) DurationHours() float64 {
	if p.ExitTime.IsZero() {
		return 0
	}
	return p.ExitTime.Sub(p.EntryTime).Hours()
}

// Tag sets one tag, allocating the map on first use.
func (p *Position) Tag(key, value string) {
	if p.Tags == nil {
		p.Tags = make(map[string]string)
	}
	p.Tags[key] = value
}
