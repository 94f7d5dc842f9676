package backtest

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const hoursPerYear = 24 * 365.25

// Metrics is the full analytics record for one completed run. Every field
// is defined (never NaN) even for empty runs.
type Metrics struct {
	// Basic.
	TotalTrades    int     `json:"total_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRatePct     float64 `json:"win_rate_pct"`
	TotalPnL       float64 `json:"total_pnl"`
	TotalReturnPct float64 `json:"total_return_pct"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	ProfitFactor   float64 `json:"profit_factor"`
	BestTrade      float64 `json:"best_trade"`
	WorstTrade     float64 `json:"worst_trade"`

	// Risk-adjusted.
	SharpeRatio       float64 `json:"sharpe_ratio"`
	SortinoRatio      float64 `json:"sortino_ratio"`
	CalmarRatio       float64 `json:"calmar_ratio"`
	AnnualVolPct      float64 `json:"annual_volatility_pct"`
	DownsideDevPct    float64 `json:"downside_deviation_pct"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
	MaxDrawdownDays   float64 `json:"max_drawdown_days"`

	// Trade stats.
	AvgDurationHours    float64        `json:"avg_duration_hours"`
	MedianDurationHours float64        `json:"median_duration_hours"`
	TP1HitRatePct       float64        `json:"tp1_hit_rate_pct"`
	TP2HitRatePct       float64        `json:"tp2_hit_rate_pct"`
	ExitReasons         map[string]int `json:"exit_reasons"`
	MaxConsecWins       int            `json:"max_consecutive_wins"`
	MaxConsecLosses     int            `json:"max_consecutive_losses"`
	Expectancy          float64        `json:"expectancy"`
	ExposureTimePct     float64        `json:"exposure_time_pct"`

	// Advanced.
	CAGRPct        float64 `json:"cagr_pct"`
	TurnoverPerYr  float64 `json:"turnover_per_year"`
	RecoveryFactor float64 `json:"recovery_factor"`

	// Costs.
	TotalFees        float64 `json:"total_fees"`
	TotalSlippage    float64 `json:"total_slippage"`
	CostDragPct      float64 `json:"cost_drag_pct"`
	AvgFeePerTrade   float64 `json:"avg_fee_per_trade"`
	AvgSlipPerTrade  float64 `json:"avg_slippage_per_trade"`
}

// ComputeMetrics derives the full metric set from a run result.
func ComputeMetrics(r *Result) Metrics {
	m := Metrics{ExitReasons: make(map[string]int)}
	initial := r.Config.InitialCapital

	m.TotalTrades = len(r.Positions)
	var grossWins, grossLosses float64
	var durations []float64
	tp1Hits, tp2Hits := 0, 0
	consecWins, consecLosses := 0, 0
	for i, p := range r.Positions {
		pnl := p.RealizedPnL
		m.TotalPnL += pnl
		if pnl > 0 {
			m.Wins++
			grossWins += pnl
			consecWins++
			consecLosses = 0
		} else {
			m.Losses++
			grossLosses += -pnl
			consecLosses++
			consecWins = 0
		}
		if consecWins > m.MaxConsecWins {
			m.MaxConsecWins = consecWins
		}
		if consecLosses > m.MaxConsecLosses {
			m.MaxConsecLosses = consecLosses
		}
		if i == 0 || pnl > m.BestTrade {
			m.BestTrade = pnl
		}
		if i == 0 || pnl < m.WorstTrade {
			m.WorstTrade = pnl
		}
		if p.TP1Hit {
			tp1Hits++
		}
		if p.TP2Hit {
			tp2Hits++
		}
		m.ExitReasons[p.ExitReason]++
		durations = append(durations, p.DurationHours())
		m.TotalFees += p.TotalFees()
		m.TotalSlippage += p.TotalSlippage()
	}

	if m.TotalTrades > 0 {
		n := float64(m.TotalTrades)
		m.WinRatePct = float64(m.Wins) / n * 100
		m.TP1HitRatePct = float64(tp1Hits) / n * 100
		m.TP2HitRatePct = float64(tp2Hits) / n * 100
		m.AvgFeePerTrade = m.TotalFees / n
		m.AvgSlipPerTrade = m.TotalSlippage / n
		m.AvgDurationHours = stat.Mean(durations, nil)
		m.MedianDurationHours = median(durations)
	}
	if m.Wins > 0 {
		m.AvgWin = grossWins / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = grossLosses / float64(m.Losses)
	}
	if grossLosses > 0 {
		m.ProfitFactor = grossWins / grossLosses
	} else {
		// No losing trades: floor the denominator so the record stays
		// JSON-encodable.
		m.ProfitFactor = grossWins
	}
	if m.TotalTrades > 0 {
		p := float64(m.Wins) / float64(m.TotalTrades)
		m.Expectancy = p*m.AvgWin - (1-p)*m.AvgLoss
	}
	if initial > 0 {
		m.TotalReturnPct = m.TotalPnL / initial * 100
		m.CostDragPct = (m.TotalFees + m.TotalSlippage) / initial * 100
	}

	years := r.End.Sub(r.Start).Hours() / hoursPerYear
	m.fillEquityStats(r, years)
	m.fillExposure(r)

	if years > 0 {
		m.TurnoverPerYr = float64(m.TotalTrades) / years
	}
	if initial > 0 && years > 0 {
		final := initial + m.TotalPnL
		if len(r.EquityCurve) > 0 {
			final = r.EquityCurve[len(r.EquityCurve)-1].Equity
		}
		if final > 0 {
			m.CAGRPct = (math.Pow(final/initial, 1/years) - 1) * 100
		}
	}
	if m.MaxDrawdownPct > 0 && initial > 0 {
		m.RecoveryFactor = m.TotalPnL / (initial * m.MaxDrawdownPct / 100)
	}
	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = m.CAGRPct / m.MaxDrawdownPct
	}
	return m
}

// fillEquityStats computes Sharpe, Sortino, volatility and drawdown shape
// from the per-bar equity curve.
func (m *Metrics) fillEquityStats(r *Result, years float64) {
	curve := r.EquityCurve
	if len(curve) < 2 {
		return
	}

	var returns, downside []float64
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		ret := curve[i].Equity/prev - 1
		returns = append(returns, ret)
		if ret < 0 {
			downside = append(downside, ret)
		}
	}
	if len(returns) < 2 {
		return
	}

	// Periods per year from the curve's bar spacing.
	span := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp)
	periodsPerYear := 0.0
	if span > 0 {
		barHours := span.Hours() / float64(len(curve)-1)
		if barHours > 0 {
			periodsPerYear = hoursPerYear / barHours
		}
	}

	mean := stat.Mean(returns, nil)
	sd := stat.StdDev(returns, nil)
	if sd > 0 && periodsPerYear > 0 {
		m.SharpeRatio = mean / sd * math.Sqrt(periodsPerYear)
		m.AnnualVolPct = sd * math.Sqrt(periodsPerYear) * 100
	}

	if len(downside) > 0 {
		var sumSq float64
		for _, d := range downside {
			sumSq += d * d
		}
		downDev := math.Sqrt(sumSq / float64(len(returns)))
		if downDev > 0 && periodsPerYear > 0 {
			m.SortinoRatio = mean / downDev * math.Sqrt(periodsPerYear)
			m.DownsideDevPct = downDev * math.Sqrt(periodsPerYear) * 100
		}
	}

	// Max drawdown depth and the longest peak-to-recovery span.
	peak := curve[0].Equity
	peakTime := curve[0].Timestamp
	var maxDD, maxDDDays float64
	for _, pt := range curve {
		if pt.Equity >= peak {
			peak = pt.Equity
			peakTime = pt.Timestamp
			continue
		}
		if dd := drawdownPct(peak, pt.Equity); dd > maxDD {
			maxDD = dd
		}
		if days := pt.Timestamp.Sub(peakTime).Hours() / 24; days > maxDDDays {
			maxDDDays = days
		}
	}
	m.MaxDrawdownPct = maxDD
	m.MaxDrawdownDays = maxDDDays
}

// fillExposure measures the share of bars with at least one open position.
func (m *Metrics) fillExposure(r *Result) {
	if len(r.EquityCurve) == 0 {
		return
	}
	open := 0
	for _, pt := range r.EquityCurve {
		if pt.OpenPositions > 0 {
			open++
		}
	}
	m.ExposureTimePct = float64(open) / float64(len(r.EquityCurve)) * 100
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
