// The backtest command runs one backtest from a candle file and writes the
// tearsheet artifacts (json, csv, html, trades csv).
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"trading-signal-engine/config"
	"trading-signal-engine/internal/backtest"
	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/filter"
	"trading-signal-engine/internal/logging"
	"trading-signal-engine/internal/market"
	"trading-signal-engine/internal/strategy"
)

func main() {
	input := flag.String("input", "", "candle file (.csv or .json)")
	symbol := flag.String("symbol", "BTCUSDT", "symbol the candles belong to")
	interval := flag.String("interval", "1h", "bar interval of the candles")
	strategyName := flag.String("strategy", "filter", "entry strategy: filter or ema_cross")
	tier := flag.String("tier", "ULTRA", "filter tier: ULTRA or ELITE")
	outDir := flag.String("out", "tearsheets", "artifact output directory")
	base := flag.String("base", "backtest", "artifact base name")
	capital := flag.Float64("capital", 10_000, "initial capital")
	risk := flag.Float64("risk", 0.01, "risk per trade as a fraction of equity")
	seed := flag.Int64("seed", 0, "random seed for slippage jitter")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -input candles.csv [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(*input, *symbol, *interval, *strategyName, *tier, *outDir, *base, *capital, *risk, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
}

func run(input, symbol, interval, strategyName, tier, outDir, base string, capital, risk float64, seed int64) error {
	logger, err := logging.New(config.LoggingConfig{Level: "info", Output: "stderr"})
	if err != nil {
		return err
	}

	series, err := loadSeries(input, strings.ToUpper(symbol), interval)
	if err != nil {
		return err
	}
	logger.Info().Str("symbol", series.Symbol).Int("bars", series.Len()).Msg("loaded candles")

	profile := criteria.DefaultProfile(series.Symbol)
	strategyFn, err := strategy.ByName(strategyName, filter.Tier(tier), profile, 1.5)
	if err != nil {
		return err
	}

	cfg := backtest.DefaultConfig()
	cfg.InitialCapital = capital
	cfg.RiskPerTrade = risk
	cfg.RandomSeed = seed

	engine, err := backtest.NewEngine(cfg, logger)
	if err != nil {
		return err
	}
	result, err := engine.Run(series, strategyFn)
	if err != nil {
		return err
	}

	ts := backtest.NewTearsheet(result)
	if err := ts.WriteArtifacts(outDir, base); err != nil {
		return err
	}

	m := ts.Summary
	logger.Info().
		Int("trades", m.TotalTrades).
		Float64("win_rate_pct", m.WinRatePct).
		Float64("total_pnl", m.TotalPnL).
		Float64("max_drawdown_pct", m.MaxDrawdownPct).
		Str("artifacts", filepath.Join(outDir, base+".*")).
		Msg("backtest complete")
	return nil
}

// loadSeries reads candles from a CSV or JSON file. JSON accepts either a
// full series object or a bare candle array.
func loadSeries(path, symbol, interval string) (*market.Series, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return loadJSON(file, symbol, interval)
	case ".csv":
		return loadCSV(file, symbol, interval)
	default:
		return nil, fmt.Errorf("unsupported input format %q (want .csv or .json)", filepath.Ext(path))
	}
}

func loadJSON(r io.Reader, symbol, interval string) (*market.Series, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var series market.Series
	if err := json.Unmarshal(data, &series); err == nil && len(series.Candles) > 0 {
		if series.Symbol == "" {
			series.Symbol = symbol
		}
		if series.Interval == "" {
			series.Interval = interval
		}
		return market.NewSeries(series.Symbol, series.Interval, series.Candles)
	}

	var candles []market.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("parse json candles: %w", err)
	}
	return market.NewSeries(symbol, interval, candles)
}

// loadCSV expects a header row with at least open_time, open, high, low,
// close, volume; close_time is derived from the interval when absent.
func loadCSV(r io.Reader, symbol, interval string) (*market.Series, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("csv has no data rows")
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"open_time", "open", "high", "low", "close", "volume"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("csv missing column %q", required)
		}
	}

	barDur, err := market.IntervalDuration(interval)
	if err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(rows)-1)
	for n, row := range rows[1:] {
		get := func(name string) (float64, error) {
			return strconv.ParseFloat(strings.TrimSpace(row[col[name]]), 64)
		}
		openTime, err := strconv.ParseInt(strings.TrimSpace(row[col["open_time"]]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad open_time: %w", n+2, err)
		}
		open, err := get("open")
		if err != nil {
			return nil, fmt.Errorf("row %d: bad open: %w", n+2, err)
		}
		high, err := get("high")
		if err != nil {
			return nil, fmt.Errorf("row %d: bad high: %w", n+2, err)
		}
		low, err := get("low")
		if err != nil {
			return nil, fmt.Errorf("row %d: bad low: %w", n+2, err)
		}
		closePx, err := get("close")
		if err != nil {
			return nil, fmt.Errorf("row %d: bad close: %w", n+2, err)
		}
		volume, err := get("volume")
		if err != nil {
			return nil, fmt.Errorf("row %d: bad volume: %w", n+2, err)
		}

		closeTime := openTime + barDur.Milliseconds() - 1
		if idx, ok := col["close_time"]; ok {
			if ct, err := strconv.ParseInt(strings.TrimSpace(row[idx]), 10, 64); err == nil {
				closeTime = ct
			}
		}

		candles = append(candles, market.Candle{
			OpenTime:  openTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
			CloseTime: closeTime,
		})
	}
	return market.NewSeries(symbol, interval, candles)
}
