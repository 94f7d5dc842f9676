package backtest

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/market"
)

// Intent is what a strategy returns for the current bar. A nil intent or
// HOLD direction opens nothing. EntryPrice zero fills at the bar close.
type Intent struct {
	Direction   criteria.Direction
	EntryPrice  float64
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64
	ATR         float64 // previous closed bar's ATR, used when ATR sizing is on
	Tags        map[string]string
}

// StrategyFunc is invoked once per bar with history ending at index i.
// The last candle of history is the bar being processed.
type StrategyFunc func(history *market.Series, i int) *Intent

// EquityPoint is one mark-to-market sample, appended per bar.
type EquityPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	Equity         float64   `json:"equity"`
	Cash           float64   `json:"cash"`
	ReservedMargin float64   `json:"reserved_margin"`
	OpenPositions  int       `json:"open_positions"`
	DrawdownPct    float64   `json:"drawdown_pct"`
}

// Account tracks the run's capital state. PeakEquity never decreases and
// TradingEnabled never re-enables within a run.
type Account struct {
	Cash           float64            `json:"cash"`
	ReservedMargin float64            `json:"reserved_margin"`
	PeakEquity     float64            `json:"peak_equity"`
	DailyPnL       map[string]float64 `json:"daily_pnl"`
	TradingEnabled bool               `json:"trading_enabled"`
	DisableReason  string             `json:"disable_reason,omitempty"`
}

// Result is the raw output of one run, consumed by the analytics layer.
type Result struct {
	Config      Config        `json:"config"`
	Positions   []*Position   `json:"positions"` // closed, ordered by open time
	EquityCurve []EquityPoint `json:"equity_curve"`
	Account     Account       `json:"account"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
}

// Engine executes one backtest run. Strictly single-threaded: bars are
// processed in ascending time order with no intra-run parallelism.
type Engine struct {
	cfg     Config
	account Account
	open    []*Position
	closed  []*Position
	equity  []EquityPoint
	nextID  int
	rng     *rand.Rand
	logger  zerolog.Logger
}

// NewEngine validates the configuration and prepares a run.
func NewEngine(cfg Config, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg: cfg,
		account: Account{
			Cash:           cfg.InitialCapital,
			PeakEquity:     cfg.InitialCapital,
			DailyPnL:       make(map[string]float64),
			TradingEnabled: true,
		},
		rng:    rand.New(rand.NewSource(cfg.RandomSeed)),
		logger: logger.With().Str("component", "backtest").Logger(),
	}, nil
}

// Run steps through the series bar by bar and returns the raw result.
func (e *Engine) Run(series *market.Series, strategy StrategyFunc) (*Result, error) {
	if series == nil || series.Len() < 2 {
		return nil, fmt.Errorf("%w: backtest needs at least two bars", market.ErrInputInvalid)
	}
	if strategy == nil {
		return nil, fmt.Errorf("%w: nil strategy", market.ErrInputInvalid)
	}

	for i := 0; i < series.Len(); i++ {
		bar := series.Candles[i]
		barTime := time.UnixMilli(bar.CloseTime).UTC()

		// 1. Mark every open position to the bar close.
		for _, p := range e.open {
			p.markToMarket(bar.Close)
		}
		equity := e.equityMark()

		// 2. Risk limits. Breaches disable new entries, never force exits.
		e.checkRiskLimits(equity, barTime)

		// 3. Bar volatility for adaptive slippage.
		sigma := e.volatility(series, i)

		// 4. Exits before entries.
		e.processExits(bar, barTime, sigma)

		// 5. Entries.
		if e.account.TradingEnabled && e.hasCapacity() {
			history := &market.Series{Symbol: series.Symbol, Interval: series.Interval, Candles: series.Candles[:i+1]}
			if intent := strategy(history, i); intent != nil && intent.Direction != criteria.Hold {
				e.openPosition(intent, series.Symbol, bar, barTime, sigma)
			}
		}

		// 6. Equity sample.
		equity = e.equityMark()
		if equity > e.account.PeakEquity {
			e.account.PeakEquity = equity
		}
		e.equity = append(e.equity, EquityPoint{
			Timestamp:      barTime,
			Equity:         equity,
			Cash:           e.account.Cash,
			ReservedMargin: e.account.ReservedMargin,
			OpenPositions:  len(e.open),
			DrawdownPct:    drawdownPct(e.account.PeakEquity, equity),
		})
	}

	// Force-close survivors at the final close.
	last := series.Candles[series.Len()-1]
	lastTime := time.UnixMilli(last.CloseTime).UTC()
	sigma := e.volatility(series, series.Len()-1)
	for len(e.open) > 0 {
		e.closeFull(e.open[0], last.Close, lastTime, sigma, true, ReasonEnd)
	}

	sort.Slice(e.closed, func(i, j int) bool {
		return e.closed[i].EntryTime.Before(e.closed[j].EntryTime)
	})
	return &Result{
		Config:      e.cfg,
		Positions:   e.closed,
		EquityCurve: e.equity,
		Account:     e.account,
		Start:       time.UnixMilli(series.Candles[0].OpenTime).UTC(),
		End:         lastTime,
	}, nil
}

// equityMark is cash + reserved margin + unrealized PnL of open positions.
func (e *Engine) equityMark() float64 {
	equity := e.account.Cash + e.account.ReservedMargin
	for _, p := range e.open {
		equity += p.UnrealizedPnL
	}
	return equity
}

func drawdownPct(peak, equity float64) float64 {
	if peak <= 0 {
		return 0
	}
	dd := (peak - equity) / peak * 100
	if dd < 0 {
		return 0
	}
	return dd
}

// checkRiskLimits flips the one-way kill switches. Daily loss aggregates by
// the closing bar's wall-clock date against initial capital.
func (e *Engine) checkRiskLimits(equity float64, barTime time.Time) {
	if !e.account.TradingEnabled {
		return
	}
	day := barTime.Format("2006-01-02")
	if e.cfg.MaxDailyLossPct > 0 {
		limit := e.cfg.InitialCapital * e.cfg.MaxDailyLossPct / 100
		if -e.account.DailyPnL[day] >= limit {
			e.disableTrading(fmt.Sprintf("daily loss %.2f breached limit %.2f", -e.account.DailyPnL[day], limit))
			return
		}
	}
	if e.cfg.MaxDrawdownPct > 0 && drawdownPct(e.account.PeakEquity, equity) >= e.cfg.MaxDrawdownPct {
		e.disableTrading(fmt.Sprintf("drawdown %.2f%% breached limit %.2f%%",
			drawdownPct(e.account.PeakEquity, equity), e.cfg.MaxDrawdownPct))
	}
}

func (e *Engine) disableTrading(reason string) {
	e.account.TradingEnabled = false
	e.account.DisableReason = reason
	e.logger.Warn().Str("reason", reason).Msg("trading disabled for remainder of run")
}

// volatility is the sample stdev of close-to-close returns over the
// configured lookback ending at bar i.
func (e *Engine) volatility(series *market.Series, i int) float64 {
	lookback := e.cfg.VolatilityLookback
	start := i - lookback
	if start < 0 {
		start = 0
	}
	var returns []float64
	for j := start + 1; j <= i; j++ {
		prev := series.Candles[j-1].Close
		if prev != 0 {
			returns = append(returns, series.Candles[j].Close/prev-1)
		}
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// slippagePct implements the adaptive model: base · (1 + 10σ) · order factor.
func (e *Engine) slippagePct(sigma float64, marketOrder bool) float64 {
	factor := limitOrderFactor
	if marketOrder {
		factor = marketOrderFactor
	}
	return e.cfg.SlippageBase * (1 + 10*sigma) * factor
}

// fillPrice applies half-spread then slippage, both adverse to the trader.
// closing reports whether the fill reduces the position.
func (e *Engine) fillPrice(reference float64, direction criteria.Direction, closing bool, sigma float64, marketOrder bool) (price, slipPerUnit float64) {
	// A BUY pays up at entry and receives less at exit.
	adverse := 1.0
	if direction == criteria.Sell {
		adverse = -1.0
	}
	if closing {
		adverse = -adverse
	}
	spreadAdjusted := reference * (1 + adverse*e.cfg.BidAskSpread)
	price = spreadAdjusted * (1 + adverse*e.slippagePct(sigma, marketOrder))
	slipPerUnit = math.Abs(price - reference)
	return price, slipPerUnit
}

func (e *Engine) hasCapacity() bool {
	return e.cfg.MaxConcurrentTrades <= 0 || len(e.open) < e.cfg.MaxConcurrentTrades
}

func (e *Engine) symbolCount(symbol string) int {
	n := 0
	for _, p := range e.open {
		if p.Symbol == symbol {
			n++
		}
	}
	return n
}

// openPosition sizes and opens a trade per the risk model. Signals that
// cannot be funded or capped are skipped silently.
func (e *Engine) openPosition(intent *Intent, symbol string, bar market.Candle, barTime time.Time, sigma float64) {
	if intent.Direction != criteria.Buy && intent.Direction != criteria.Sell {
		return
	}
	if e.cfg.MaxPositionsPerSymbol > 0 && e.symbolCount(symbol) >= e.cfg.MaxPositionsPerSymbol {
		return
	}
	if e.cfg.PositionMode == Netting {
		for _, p := range e.open {
			if p.Symbol == symbol && p.Direction != intent.Direction {
				return // netting: no opposing position on the same symbol
			}
		}
	}

	reference := intent.EntryPrice
	if reference == 0 {
		reference = bar.Close
	}
	entry, entrySlip := e.fillPrice(reference, intent.Direction, false, sigma, true)

	stopDistance := math.Abs(entry - intent.StopLoss)
	if e.cfg.UseATRSizing && intent.ATR > 0 {
		stopDistance = intent.ATR * e.cfg.ATRSizeFactor
	}
	if stopDistance <= 0 || math.IsNaN(stopDistance) {
		return
	}

	capBudget := 1.0
	if e.cfg.PerAssetCapPct > 0 {
		capBudget = math.Min(1, (e.cfg.PerAssetCapPct/100)/e.cfg.RiskPerTrade)
	}
	riskAmount := e.equityMark() * e.cfg.RiskPerTrade * capBudget
	size := riskAmount / stopDistance

	// Leverage cap on notional.
	if maxNotional := e.equityMark() * e.cfg.MaxLeverage; size*entry > maxNotional {
		size = maxNotional / entry
	}
	if size <= 0 {
		return
	}

	notional := size * entry
	fee := notional * e.cfg.FeeEntry
	if e.account.Cash < notional+fee {
		return // insufficient capital: skip silently in backtest
	}

	e.nextID++
	p := &Position{
		ID:            e.nextID,
		Symbol:        symbol,
		Direction:     intent.Direction,
		State:         Open,
		EntryTime:     barTime,
		EntryPrice:    entry,
		InitialSize:   size,
		RemainingSize: size,
		StopLoss:      intent.StopLoss,
		TakeProfit1:   intent.TakeProfit1,
		TakeProfit2:   intent.TakeProfit2,
		EntryFee:      fee,
		EntrySlippage: entrySlip * size,
	}
	for k, v := range intent.Tags {
		p.Tag(k, v)
	}
	e.account.Cash -= notional + fee
	e.account.ReservedMargin += notional
	e.open = append(e.open, p)
	p.markToMarket(bar.Close)
}

// processExits applies the execution priority to every open position.
// Within one bar a position sees at most one SL and one TP event, and TP1
// and TP2 never both fire.
func (e *Engine) processExits(bar market.Candle, barTime time.Time, sigma float64) {
	positions := make([]*Position, len(e.open))
	copy(positions, e.open)
	if e.cfg.ExecutionPriority == FIFO {
		sort.Slice(positions, func(i, j int) bool {
			return positions[i].EntryTime.Before(positions[j].EntryTime)
		})
	}

	for _, p := range positions {
		switch e.cfg.ExecutionPriority {
		case TakeProfitFirst:
			// A TP in this bar consumes it; the moved stop arms next bar.
			if !e.tryTakeProfit(p, bar, barTime, sigma) {
				e.tryStopLoss(p, bar, barTime, sigma)
			}
		default: // StopLossFirst and FIFO check the stop first
			if !e.tryStopLoss(p, bar, barTime, sigma) {
				e.tryTakeProfit(p, bar, barTime, sigma)
			}
		}
	}
}

// tryStopLoss closes the full remaining position at the stop when the bar
// crosses it. Stop exits fill as market orders.
func (e *Engine) tryStopLoss(p *Position, bar market.Candle, barTime time.Time, sigma float64) bool {
	if p.State == Closed || p.RemainingSize == 0 {
		return false
	}
	crossed := false
	if p.Direction == criteria.Buy {
		crossed = bar.Low <= p.StopLoss
	} else {
		crossed = bar.High >= p.StopLoss
	}
	if !crossed {
		return false
	}
	e.closeFull(p, p.StopLoss, barTime, sigma, true, ReasonSL)
	return true
}

// tryTakeProfit fires at most one target: TP1 closes half and moves the
// stop to breakeven, TP2 closes the remainder. Target exits fill as limit
// orders.
func (e *Engine) tryTakeProfit(p *Position, bar market.Candle, barTime time.Time, sigma float64) bool {
	if p.State == Closed || p.RemainingSize == 0 {
		return false
	}
	reaches := func(level float64) bool {
		if level == 0 {
			return false
		}
		if p.Direction == criteria.Buy {
			return bar.High >= level
		}
		return bar.Low <= level
	}

	if !p.TP1Hit && reaches(p.TakeProfit1) {
		price, slip := e.fillPrice(p.TakeProfit1, p.Direction, true, sigma, false)
		size := p.RemainingSize * 0.5
		e.realizeTranche(p, barTime, price, size, slip, ReasonTP1)
		p.TP1Hit = true
		p.StopLoss = p.EntryPrice // breakeven
		return true
	}
	if p.TP1Hit && !p.TP2Hit && reaches(p.TakeProfit2) {
		price, slip := e.fillPrice(p.TakeProfit2, p.Direction, true, sigma, false)
		e.realizeTranche(p, barTime, price, p.RemainingSize, slip, ReasonTP2)
		p.TP2Hit = true
		return true
	}
	return false
}

// closeFull exits the entire remaining size at a reference price.
func (e *Engine) closeFull(p *Position, reference float64, barTime time.Time, sigma float64, marketOrder bool, reason string) {
	price, slip := e.fillPrice(reference, p.Direction, true, sigma, marketOrder)
	e.realizeTranche(p, barTime, price, p.RemainingSize, slip, reason)
}

// realizeTranche books a fill: releases margin, credits cash, accrues fees
// and daily PnL, and retires the position when nothing remains.
func (e *Engine) realizeTranche(p *Position, barTime time.Time, price, size, slipPerUnit float64, reason string) {
	if size > p.RemainingSize {
		size = p.RemainingSize
	}
	fee := price * size * e.cfg.FeeExit
	tranche := p.closeTranche(barTime, price, size, fee, slipPerUnit*size, reason)

	released := p.EntryPrice * size
	e.account.ReservedMargin -= released
	e.account.Cash += released + tranche.PnL - fee

	day := barTime.Format("2006-01-02")
	e.account.DailyPnL[day] += tranche.PnL - fee

	if p.State == Closed {
		e.removeOpen(p)
		e.closed = append(e.closed, p)
		e.logger.Debug().
			Int("id", p.ID).
			Str("reason", reason).
			Float64("pnl", p.RealizedPnL).
			Msg("position closed")
	}
}

func (e *Engine) removeOpen(target *Position) {
	for i, p := range e.open {
		if p == target {
			e.open = append(e.open[:i], e.open[i+1:]...)
			return
		}
	}
}
