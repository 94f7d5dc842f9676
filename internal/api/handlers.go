package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trading-signal-engine/internal/backtest"
	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/filter"
	"trading-signal-engine/internal/indicators"
	"trading-signal-engine/internal/market"
	"trading-signal-engine/internal/strategy"
)

// handleGenerateSignal runs the full pipeline for one symbol.
func (s *Server) handleGenerateSignal(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	sig, err := s.generator.Generate(c.Request.Context(), symbol)
	if err != nil {
		s.writeMarketError(c, err)
		return
	}

	if s.repo != nil && sig.Direction != criteria.Hold {
		if err := s.repo.SaveSignal(c.Request.Context(), sig); err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("persist signal")
		}
	}
	c.JSON(http.StatusOK, sig)
}

// handleScan runs the pipeline across the configured (or requested) symbols.
func (s *Server) handleScan(c *gin.Context) {
	var req struct {
		Symbols []string `json:"symbols"`
	}
	// Empty body is fine; fall back to the configured universe.
	_ = c.ShouldBindJSON(&req)
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = s.cfg.PipelineConfig.Symbols
	}
	if len(symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no symbols requested or configured"})
		return
	}

	outcomes := s.generator.GenerateMany(c.Request.Context(), symbols, s.cfg.PipelineConfig.Workers)
	results := make([]gin.H, 0, len(outcomes))
	for _, o := range outcomes {
		entry := gin.H{"symbol": o.Symbol}
		if o.Err != nil {
			entry["error"] = o.Err.Error()
		} else {
			entry["signal"] = o.Signal
			if s.repo != nil && o.Signal.Direction != criteria.Hold {
				if err := s.repo.SaveSignal(c.Request.Context(), o.Signal); err != nil {
					s.logger.Error().Err(err).Str("symbol", o.Symbol).Msg("persist signal")
				}
			}
		}
		results = append(results, entry)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleListSignals returns persisted signals.
func (s *Server) handleListSignals(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence is not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.repo.ListSignals(c.Request.Context(), strings.ToUpper(c.Query("symbol")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query signals failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": records})
}

// handleIndicators serves the latest-bar indicator snapshot for a symbol, a
// diagnostics view over the same candles the pipeline consumes.
func (s *Server) handleIndicators(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	interval := c.DefaultQuery("interval", "1h")
	bars, _ := strconv.Atoi(c.DefaultQuery("bars", "250"))
	if bars <= 0 {
		bars = 250
	}

	series, err := s.provider.GetCandles(c.Request.Context(), symbol, interval, bars)
	if err != nil {
		s.writeMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"interval": interval,
		"bars":     series.Len(),
		"snapshot": indicators.TakeSnapshot(series),
	})
}

// backtestRequest is the POST /backtests body. Zero-valued fields fall
// back to the server's configured defaults.
type backtestRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Interval string `json:"interval"`
	Bars     int    `json:"bars"`
	Strategy string `json:"strategy"`

	InitialCapital  float64 `json:"initial_capital"`
	RiskPerTrade    float64 `json:"risk_per_trade"`
	SlippageBase    float64 `json:"slippage_base"`
	SpreadPct       float64 `json:"spread_pct"`
	FeesPct         float64 `json:"fees_pct"`
	MaxDailyLossPct float64 `json:"max_daily_loss_pct"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
	RandomSeed      int64   `json:"random_seed"`
}

func (s *Server) backtestConfig(req backtestRequest) backtest.Config {
	cfg := backtest.DefaultConfig()
	defaults := s.cfg.BacktestConfig
	cfg.InitialCapital = defaults.InitialCapital
	cfg.RiskPerTrade = defaults.RiskPerTrade
	cfg.SlippageBase = defaults.SlippageBase
	cfg.BidAskSpread = defaults.SpreadPct
	cfg.FeeEntry = defaults.FeesPct
	cfg.FeeExit = defaults.FeesPct
	cfg.MaxDailyLossPct = defaults.MaxDailyLossPct
	cfg.MaxDrawdownPct = defaults.MaxDrawdownPct

	if req.InitialCapital > 0 {
		cfg.InitialCapital = req.InitialCapital
	}
	if req.RiskPerTrade > 0 {
		cfg.RiskPerTrade = req.RiskPerTrade
	}
	if req.SlippageBase > 0 {
		cfg.SlippageBase = req.SlippageBase
	}
	if req.SpreadPct > 0 {
		cfg.BidAskSpread = req.SpreadPct
	}
	if req.FeesPct > 0 {
		cfg.FeeEntry = req.FeesPct
		cfg.FeeExit = req.FeesPct
	}
	if req.MaxDailyLossPct > 0 {
		cfg.MaxDailyLossPct = req.MaxDailyLossPct
	}
	if req.MaxDrawdownPct > 0 {
		cfg.MaxDrawdownPct = req.MaxDrawdownPct
	}
	if req.RandomSeed != 0 {
		cfg.RandomSeed = req.RandomSeed
	}
	return cfg
}

// handleStartBacktest launches an asynchronous run and returns its id.
func (s *Server) handleStartBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	req.Symbol = strings.ToUpper(req.Symbol)
	if req.Interval == "" {
		req.Interval = "1h"
	}
	if req.Bars <= 0 {
		req.Bars = 1000
	}

	profile := criteria.DefaultProfile(req.Symbol)
	strategyFn, err := strategy.ByName(req.Strategy, filter.Tier(s.cfg.PipelineConfig.Tier), profile, s.cfg.PipelineConfig.StopATRMult)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := s.backtestConfig(req)
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := uuid.New().String()
	s.runs.create(id, req.Symbol, req.Interval)
	if s.repo != nil {
		if err := s.repo.CreateBacktestRun(c.Request.Context(), id, req.Symbol, req.Interval, cfg); err != nil {
			s.logger.Error().Err(err).Str("run", id).Msg("persist backtest run")
		}
	}

	go s.executeBacktest(id, req, cfg, strategyFn)

	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": runRunning})
}

// executeBacktest fetches history, runs the engine and stores the
// tearsheet. Runs detached from the request context.
func (s *Server) executeBacktest(id string, req backtestRequest, cfg backtest.Config, strategyFn backtest.StrategyFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fail := func(err error) {
		s.logger.Error().Err(err).Str("run", id).Msg("backtest failed")
		s.runs.fail(id, err)
		if s.repo != nil {
			if dbErr := s.repo.FailBacktestRun(ctx, id, err); dbErr != nil {
				s.logger.Error().Err(dbErr).Str("run", id).Msg("persist failure state")
			}
		}
	}

	series, err := s.provider.GetCandles(ctx, req.Symbol, req.Interval, req.Bars)
	if err != nil {
		fail(err)
		return
	}

	engine, err := backtest.NewEngine(cfg, s.logger)
	if err != nil {
		fail(err)
		return
	}
	result, err := engine.Run(series, strategyFn)
	if err != nil {
		fail(err)
		return
	}

	ts := backtest.NewTearsheet(result)
	if dir := s.cfg.ServerConfig.ArtifactDir; dir != "" {
		if err := ts.WriteArtifacts(dir, id); err != nil {
			s.logger.Error().Err(err).Str("run", id).Msg("write artifacts")
		}
	}

	s.runs.finish(id, ts)
	if s.repo != nil {
		if err := s.repo.FinishBacktestRun(ctx, id, ts); err != nil {
			s.logger.Error().Err(err).Str("run", id).Msg("persist backtest result")
		}
	}
	s.logger.Info().Str("run", id).Int("trades", ts.Summary.TotalTrades).Msg("backtest finished")
}

func (s *Server) handleListBacktests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": s.runs.list()})
}

func (s *Server) handleGetBacktest(c *gin.Context) {
	r, ok := s.runs.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown backtest run"})
		return
	}
	c.JSON(http.StatusOK, r)
}

// handleGetTearsheet serves the tearsheet as JSON, or HTML with ?format=html.
func (s *Server) handleGetTearsheet(c *gin.Context) {
	r, ok := s.runs.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown backtest run"})
		return
	}
	if r.Status != runFinished || r.tearsheet == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "run is not finished", "status": r.Status})
		return
	}

	if c.DefaultQuery("format", "json") == "html" {
		html, err := r.tearsheet.RenderHTML()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "render tearsheet failed"})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
		return
	}
	c.JSON(http.StatusOK, r.tearsheet)
}

// writeMarketError maps the provider error taxonomy to HTTP statuses.
func (s *Server) writeMarketError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, market.ErrSymbolUnknown):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, market.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, market.ErrInputInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "pipeline budget exceeded"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
