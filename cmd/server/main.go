// The server command wires the full engine: market data with two cache
// tiers, the signal pipeline, optional persistence and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"trading-signal-engine/config"
	"trading-signal-engine/internal/api"
	"trading-signal-engine/internal/auth"
	"trading-signal-engine/internal/auxdata"
	"trading-signal-engine/internal/cache"
	"trading-signal-engine/internal/database"
	"trading-signal-engine/internal/filter"
	"trading-signal-engine/internal/logging"
	"trading-signal-engine/internal/market"
	"trading-signal-engine/internal/mtf"
	"trading-signal-engine/internal/ml"
	"trading-signal-engine/internal/regime"
	sig "trading-signal-engine/internal/signal"
	"trading-signal-engine/internal/vault"
)

func main() {
	configPath := flag.String("config", "", "config file path (default config.json)")
	genSample := flag.String("generate-config", "", "write a sample config file and exit")
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash for a password and exit")
	flag.Parse()

	if *genSample != "" {
		if err := config.GenerateSampleConfig(*genSample); err != nil {
			fmt.Fprintf(os.Stderr, "generate config: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LoggingConfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return err
	}
	if err := vaultClient.Resolve(ctx, &cfg.MarketConfig); err != nil {
		logger.Warn().Err(err).Msg("vault credential lookup failed, using config values")
	}

	provider, futures := buildProvider(ctx, cfg, logger)

	auxProvider := auxdata.NewProvider(futures, "", cfg.AuxConfig.FearGreedURL, cfg.AuxConfig.NewsURL, logger)
	loader := mtf.NewLoader(provider, 0)
	regimes := newRegimeSource(provider, cfg, logger)
	validator := ml.NewValidator(ml.NewHeuristicPredictor(), logger)

	generator := sig.NewGenerator(loader, auxProvider, validator, logger,
		sig.WithTier(filter.Tier(cfg.PipelineConfig.Tier)),
		sig.WithRegimeSource(regimes),
	)

	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(ctx, cfg.DatabaseConfig, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return err
		}
		repo = database.NewRepository(db)
	}

	server := api.NewServer(*cfg, generator, provider, repo, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newRegimeSource(provider market.Provider, cfg *config.Config, logger zerolog.Logger) *regime.Adjuster {
	adjuster := regime.NewAdjuster(provider, cfg.PipelineConfig.RiskBasket, cfg.PipelineConfig.SafeHavenSymbol, logger)
	adjuster.SetWindow(cfg.PipelineConfig.RegimeWindow)
	return adjuster
}

// buildProvider assembles the candle source: REST client (or mock), redis
// tier when enabled, in-process TTL cache, websocket hot cache on top.
func buildProvider(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (market.Provider, auxdata.FuturesDataSource) {
	if cfg.MarketConfig.MockMode {
		logger.Warn().Msg("mock mode: serving synthetic candles")
		return mockProvider(cfg), nil
	}

	client := market.NewClient(cfg.MarketConfig.BaseURL, cfg.MarketConfig.FuturesURL, logger)

	var remote market.RemoteCache
	if cfg.RedisConfig.Enabled {
		sc, err := cache.NewSeriesCache(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis cache unavailable")
		} else {
			remote = sc
		}
	}

	caching := market.NewCachingProvider(&market.ClientProvider{Client: client}, remote, cfg.CacheConfig.CandleTTL)

	stream := market.NewStream(cfg.MarketConfig.WebsocketURL, caching, logger)
	for _, symbol := range cfg.PipelineConfig.Symbols {
		for _, tf := range mtf.Timeframes {
			if err := stream.Subscribe(ctx, symbol, tf); err != nil {
				logger.Warn().Err(err).Str("symbol", symbol).Str("interval", tf).Msg("stream subscribe failed")
			}
		}
	}
	go stream.Run(ctx)

	return stream, client
}

// mockProvider pre-loads gently trending series for the configured universe
// so the pipeline runs offline.
func mockProvider(cfg *config.Config) market.Provider {
	mock := market.NewMockProvider()
	start := time.Now().UTC().Add(-300 * 24 * time.Hour).Truncate(time.Hour)
	symbols := append([]string{}, cfg.PipelineConfig.Symbols...)
	symbols = append(symbols, cfg.PipelineConfig.RiskBasket...)
	symbols = append(symbols, cfg.PipelineConfig.SafeHavenSymbol)
	for _, symbol := range symbols {
		for _, tf := range mtf.Timeframes {
			mock.Load(market.GenerateSeries(symbol, tf, start, 300, market.TrendBars(100, 0.05, 0.4, 1000)))
		}
	}
	return mock
}
