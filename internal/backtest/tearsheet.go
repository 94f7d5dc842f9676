package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Tearsheet packages a completed run: the metric summary plus the raw
// trades and equity curve. The JSON form is authoritative; CSV and HTML
// renderings are presentational.
type Tearsheet struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Summary     Metrics       `json:"summary"`
	Trades      []*Position   `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
}

// NewTearsheet builds the tearsheet for a run result.
func NewTearsheet(r *Result) *Tearsheet {
	return &Tearsheet{
		GeneratedAt: time.Now().UTC(),
		Summary:     ComputeMetrics(r),
		Trades:      r.Positions,
		EquityCurve: r.EquityCurve,
	}
}

// WriteArtifacts writes the three artifacts sharing base under dir:
// base.json, base.csv (metric/value pairs), base.html, plus
// base_trades.csv with the canonical trade columns.
func (t *Tearsheet) WriteArtifacts(dir, base string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tearsheet dir: %w", err)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tearsheet: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, base+".json"), data, 0o644); err != nil {
		return fmt.Errorf("write tearsheet json: %w", err)
	}

	if err := t.writeSummaryCSV(filepath.Join(dir, base+".csv")); err != nil {
		return err
	}
	if err := t.writeTradesCSV(filepath.Join(dir, base+"_trades.csv")); err != nil {
		return err
	}
	return t.writeHTML(filepath.Join(dir, base+".html"))
}

// SummaryRows returns the tabular Metric/Value view in a stable order.
func (t *Tearsheet) SummaryRows() [][2]string {
	m := t.Summary
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	rows := [][2]string{
		{"total_trades", strconv.Itoa(m.TotalTrades)},
		{"wins", strconv.Itoa(m.Wins)},
		{"losses", strconv.Itoa(m.Losses)},
		{"win_rate_pct", f(m.WinRatePct)},
		{"total_pnl", f(m.TotalPnL)},
		{"total_return_pct", f(m.TotalReturnPct)},
		{"avg_win", f(m.AvgWin)},
		{"avg_loss", f(m.AvgLoss)},
		{"profit_factor", f(m.ProfitFactor)},
		{"best_trade", f(m.BestTrade)},
		{"worst_trade", f(m.WorstTrade)},
		{"sharpe_ratio", f(m.SharpeRatio)},
		{"sortino_ratio", f(m.SortinoRatio)},
		{"calmar_ratio", f(m.CalmarRatio)},
		{"annual_volatility_pct", f(m.AnnualVolPct)},
		{"downside_deviation_pct", f(m.DownsideDevPct)},
		{"max_drawdown_pct", f(m.MaxDrawdownPct)},
		{"max_drawdown_days", f(m.MaxDrawdownDays)},
		{"avg_duration_hours", f(m.AvgDurationHours)},
		{"median_duration_hours", f(m.MedianDurationHours)},
		{"tp1_hit_rate_pct", f(m.TP1HitRatePct)},
		{"tp2_hit_rate_pct", f(m.TP2HitRatePct)},
		{"max_consecutive_wins", strconv.Itoa(m.MaxConsecWins)},
		{"max_consecutive_losses", strconv.Itoa(m.MaxConsecLosses)},
		{"expectancy", f(m.Expectancy)},
		{"exposure_time_pct", f(m.ExposureTimePct)},
		{"cagr_pct", f(m.CAGRPct)},
		{"turnover_per_year", f(m.TurnoverPerYr)},
		{"recovery_factor", f(m.RecoveryFactor)},
		{"total_fees", f(m.TotalFees)},
		{"total_slippage", f(m.TotalSlippage)},
		{"cost_drag_pct", f(m.CostDragPct)},
		{"avg_fee_per_trade", f(m.AvgFeePerTrade)},
		{"avg_slippage_per_trade", f(m.AvgSlipPerTrade)},
	}
	return rows
}

func (t *Tearsheet) writeSummaryCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write summary csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"Metric", "Value"}); err != nil {
		return err
	}
	for _, row := range t.SummaryRows() {
		if err := w.Write([]string{row[0], row[1]}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// tradeColumns is the canonical column order, tag columns appended sorted.
var tradeColumns = []string{
	"entry_time", "exit_time", "symbol", "direction", "entry_price",
	"exit_price", "lot_size", "pnl", "pnl_pct", "exit_reason",
	"duration_hours", "tp1_hit", "tp2_hit", "entry_fee", "exit_fee",
	"total_fees", "entry_slippage", "exit_slippage",
}

func (t *Tearsheet) writeTradesCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write trades csv: %w", err)
	}
	defer file.Close()

	tagKeys := t.tagKeys()
	header := append(append([]string{}, tradeColumns...), tagKeys...)

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 8, 64) }
	for _, p := range t.Trades {
		row := []string{
			p.EntryTime.UTC().Format(time.RFC3339),
			p.ExitTime.UTC().Format(time.RFC3339),
			p.Symbol,
			string(p.Direction),
			f(p.EntryPrice),
			f(p.ExitPrice),
			f(p.InitialSize),
			f(p.RealizedPnL),
			f(p.PnLPct()),
			p.ExitReason,
			f(p.DurationHours()),
			strconv.FormatBool(p.TP1Hit),
			strconv.FormatBool(p.TP2Hit),
			f(p.EntryFee),
			f(p.ExitFees),
			f(p.TotalFees()),
			f(p.EntrySlippage),
			f(p.ExitSlippage),
		}
		for _, key := range tagKeys {
			row = append(row, p.Tags[strings.TrimPrefix(key, "tag_")])
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// tagKeys is the sorted union of tag keys across trades, tag_-prefixed.
func (t *Tearsheet) tagKeys() []string {
	seen := make(map[string]struct{})
	for _, p := range t.Trades {
		for k := range p.Tags {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, "tag_"+k)
	}
	sort.Strings(keys)
	return keys
}

var tearsheetTemplate = template.Must(template.New("tearsheet").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Backtest Tearsheet</title>
<style>
body { font-family: -apple-system, Helvetica, Arial, sans-serif; margin: 2rem; color: #222; }
h1 { font-size: 1.4rem; }
table { border-collapse: collapse; margin-bottom: 2rem; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.8rem; text-align: left; font-size: 0.85rem; }
th { background: #f4f4f4; }
.negative { color: #b00020; }
</style>
</head>
<body>
<h1>Backtest Tearsheet</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}} &mdash; {{.Summary.TotalTrades}} trades</p>

<h2>Summary</h2>
<table>
<tr><th>Metric</th><th>Value</th></tr>
{{range .Rows}}<tr><td>{{index . 0}}</td><td>{{index . 1}}</td></tr>
{{end}}</table>

<h2>Trades ({{.Summary.TotalTrades}})</h2>
<table>
<tr><th>Entry</th><th>Exit</th><th>Symbol</th><th>Dir</th><th>Entry Px</th><th>Exit Px</th><th>Size</th><th>PnL</th><th>Reason</th></tr>
{{range .Trades}}<tr>
<td>{{.EntryTime.Format "2006-01-02 15:04"}}</td>
<td>{{.ExitTime.Format "2006-01-02 15:04"}}</td>
<td>{{.Symbol}}</td>
<td>{{.Direction}}</td>
<td>{{printf "%.4f" .EntryPrice}}</td>
<td>{{printf "%.4f" .ExitPrice}}</td>
<td>{{printf "%.4f" .InitialSize}}</td>
<td{{if lt .RealizedPnL 0.0}} class="negative"{{end}}>{{printf "%.2f" .RealizedPnL}}</td>
<td>{{.ExitReason}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))

func (t *Tearsheet) writeHTML(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write tearsheet html: %w", err)
	}
	defer file.Close()

	data := struct {
		*Tearsheet
		Rows [][2]string
	}{t, t.SummaryRows()}
	if err := tearsheetTemplate.Execute(file, data); err != nil {
		return fmt.Errorf("render tearsheet html: %w", err)
	}
	return nil
}

// RenderHTML returns the HTML rendering as a string, for serving inline.
func (t *Tearsheet) RenderHTML() (string, error) {
	var sb strings.Builder
	data := struct {
		*Tearsheet
		Rows [][2]string
	}{t, t.SummaryRows()}
	if err := tearsheetTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render tearsheet html: %w", err)
	}
	return sb.String(), nil
}
