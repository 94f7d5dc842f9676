// Package config loads engine configuration from an optional JSON file
// with environment variable overrides. Credentials never have compiled-in
// defaults; they come from the environment, the file, or Vault.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MarketConfig   MarketConfig   `json:"market"`
	AuxConfig      AuxConfig      `json:"aux_data"`
	CacheConfig    CacheConfig    `json:"cache"`
	RedisConfig    RedisConfig    `json:"redis"`
	DatabaseConfig DatabaseConfig `json:"database"`
	VaultConfig    VaultConfig    `json:"vault"`
	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	PipelineConfig PipelineConfig `json:"pipeline"`
	BacktestConfig BacktestConfig `json:"backtest"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// MarketConfig holds exchange REST/websocket endpoints and credentials.
type MarketConfig struct {
	APIKey       string `json:"api_key"`
	SecretKey    string `json:"secret_key"`
	BaseURL      string `json:"base_url"`
	FuturesURL   string `json:"futures_url"`
	WebsocketURL string `json:"websocket_url"`
	TestNet      bool   `json:"testnet"`
	MockMode     bool   `json:"mock_mode"` // serve synthetic candles, no network
}

// AuxConfig holds the auxiliary data endpoints (sentiment, news).
type AuxConfig struct {
	FearGreedURL string        `json:"fear_greed_url"`
	NewsURL      string        `json:"news_url"`
	NewsAPIKey   string        `json:"news_api_key"`
	Timeout      time.Duration `json:"timeout"`
	CacheTTL     time.Duration `json:"cache_ttl"`
}

// CacheConfig controls the in-process candle cache tier.
type CacheConfig struct {
	CandleTTL time.Duration `json:"candle_ttl"`
	MaxKeys   int           `json:"max_keys"`
}

// RedisConfig holds the optional shared cache tier.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds the postgres connection settings.
type DatabaseConfig struct {
	Enabled        bool          `json:"enabled"`
	URL            string        `json:"url"` // postgres:// DSN, overrides the parts below
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	Name           string        `json:"name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConns       int           `json:"max_conns"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// DSN returns the connection string, preferring the explicit URL.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// VaultConfig holds the optional HashiCorp Vault credential source.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// ServerConfig holds the HTTP API server settings.
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // seconds
	WriteTimeout    int    `json:"write_timeout"`    // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
	RateLimitPerMin int    `json:"rate_limit_per_min"`
	ArtifactDir     string `json:"artifact_dir"` // tearsheet output directory
}

// AuthConfig holds the single-operator authentication settings. When
// PasswordHash is empty the API runs open (local use).
type AuthConfig struct {
	Username            string        `json:"username"`
	PasswordHash        string        `json:"password_hash"` // bcrypt
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

// Enabled reports whether the API requires authentication.
func (a AuthConfig) Enabled() bool {
	return a.PasswordHash != "" && a.JWTSecret != ""
}

// PipelineConfig holds the signal generation defaults.
type PipelineConfig struct {
	Tier            string   `json:"tier"` // ULTRA or ELITE
	Profile         string   `json:"profile"`
	Symbols         []string `json:"symbols"`
	Workers         int      `json:"workers"`
	RiskBasket      []string `json:"risk_basket"`
	SafeHavenSymbol string   `json:"safe_haven_symbol"`
	RegimeWindow    int      `json:"regime_window"`
	StopATRMult     float64  `json:"stop_atr_mult"`
	MLThreshold     float64  `json:"ml_threshold"`
}

// BacktestConfig holds server-side defaults for backtest requests. Request
// bodies may override any field.
type BacktestConfig struct {
	InitialCapital  float64 `json:"initial_capital"`
	RiskPerTrade    float64 `json:"risk_per_trade"`
	SlippageBase    float64 `json:"slippage_base"`
	SpreadPct       float64 `json:"spread_pct"`
	FeesPct         float64 `json:"fees_pct"`
	MaxDailyLossPct float64 `json:"max_daily_loss_pct"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // machine output vs console
}

// Load reads .env (when present), then the config file, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path == "" {
		path = getEnvOrDefault("CONFIG_FILE", "config.json")
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Market data
	cfg.MarketConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.MarketConfig.APIKey)
	cfg.MarketConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.MarketConfig.SecretKey)
	cfg.MarketConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.MarketConfig.BaseURL)
	cfg.MarketConfig.WebsocketURL = getEnvOrDefault("BINANCE_WS_URL", cfg.MarketConfig.WebsocketURL)
	cfg.MarketConfig.TestNet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.MarketConfig.TestNet)
	cfg.MarketConfig.MockMode = getEnvBoolOrDefault("MOCK_MODE", cfg.MarketConfig.MockMode)

	// Aux data
	cfg.AuxConfig.FearGreedURL = getEnvOrDefault("AUX_FEAR_GREED_URL", cfg.AuxConfig.FearGreedURL)
	cfg.AuxConfig.NewsURL = getEnvOrDefault("AUX_NEWS_URL", cfg.AuxConfig.NewsURL)
	cfg.AuxConfig.NewsAPIKey = getEnvOrDefault("AUX_NEWS_API_KEY", cfg.AuxConfig.NewsAPIKey)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Database
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DATABASE_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.URL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseConfig.URL)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Name = getEnvOrDefault("DATABASE_NAME", cfg.DatabaseConfig.Name)

	// Vault
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	// Server
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ArtifactDir = getEnvOrDefault("SERVER_ARTIFACT_DIR", cfg.ServerConfig.ArtifactDir)

	// Auth
	cfg.AuthConfig.Username = getEnvOrDefault("AUTH_USERNAME", cfg.AuthConfig.Username)
	cfg.AuthConfig.PasswordHash = getEnvOrDefault("AUTH_PASSWORD_HASH", cfg.AuthConfig.PasswordHash)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)

	// Pipeline
	cfg.PipelineConfig.Tier = getEnvOrDefault("PIPELINE_TIER", cfg.PipelineConfig.Tier)
	cfg.PipelineConfig.Profile = getEnvOrDefault("PIPELINE_PROFILE", cfg.PipelineConfig.Profile)
	if v := os.Getenv("PIPELINE_SYMBOLS"); v != "" {
		cfg.PipelineConfig.Symbols = splitCSV(v)
	}
	cfg.PipelineConfig.Workers = getEnvIntOrDefault("PIPELINE_WORKERS", cfg.PipelineConfig.Workers)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
}

func applyDefaults(cfg *Config) {
	if cfg.MarketConfig.BaseURL == "" {
		cfg.MarketConfig.BaseURL = "https://api.binance.com"
	}
	if cfg.MarketConfig.FuturesURL == "" {
		cfg.MarketConfig.FuturesURL = "https://fapi.binance.com"
	}
	if cfg.MarketConfig.WebsocketURL == "" {
		cfg.MarketConfig.WebsocketURL = "wss://stream.binance.com:9443/ws"
	}
	if cfg.AuxConfig.FearGreedURL == "" {
		cfg.AuxConfig.FearGreedURL = "https://api.alternative.me/fng/"
	}
	if cfg.AuxConfig.Timeout == 0 {
		cfg.AuxConfig.Timeout = 10 * time.Second
	}
	if cfg.AuxConfig.CacheTTL == 0 {
		cfg.AuxConfig.CacheTTL = 5 * time.Minute
	}
	if cfg.CacheConfig.CandleTTL == 0 {
		cfg.CacheConfig.CandleTTL = time.Minute
	}
	if cfg.CacheConfig.MaxKeys == 0 {
		cfg.CacheConfig.MaxKeys = 512
	}
	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.RedisConfig.PoolSize == 0 {
		cfg.RedisConfig.PoolSize = 10
	}
	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if cfg.DatabaseConfig.MaxConns == 0 {
		cfg.DatabaseConfig.MaxConns = 10
	}
	if cfg.DatabaseConfig.ConnectTimeout == 0 {
		cfg.DatabaseConfig.ConnectTimeout = 10 * time.Second
	}
	if cfg.VaultConfig.Address == "" {
		cfg.VaultConfig.Address = "http://localhost:8200"
	}
	if cfg.VaultConfig.MountPath == "" {
		cfg.VaultConfig.MountPath = "secret"
	}
	if cfg.VaultConfig.SecretPath == "" {
		cfg.VaultConfig.SecretPath = "signal-engine/credentials"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		cfg.ServerConfig.WriteTimeout = 60
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}
	if cfg.ServerConfig.RateLimitPerMin == 0 {
		cfg.ServerConfig.RateLimitPerMin = 60
	}
	if cfg.ServerConfig.ArtifactDir == "" {
		cfg.ServerConfig.ArtifactDir = "tearsheets"
	}
	if cfg.AuthConfig.Username == "" {
		cfg.AuthConfig.Username = "operator"
	}
	if cfg.AuthConfig.AccessTokenDuration == 0 {
		cfg.AuthConfig.AccessTokenDuration = 12 * time.Hour
	}
	if cfg.PipelineConfig.Tier == "" {
		cfg.PipelineConfig.Tier = "ULTRA"
	}
	if cfg.PipelineConfig.Profile == "" {
		cfg.PipelineConfig.Profile = "crypto"
	}
	if cfg.PipelineConfig.Workers == 0 {
		cfg.PipelineConfig.Workers = 4
	}
	if len(cfg.PipelineConfig.RiskBasket) == 0 {
		cfg.PipelineConfig.RiskBasket = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	}
	if cfg.PipelineConfig.SafeHavenSymbol == "" {
		cfg.PipelineConfig.SafeHavenSymbol = "PAXGUSDT"
	}
	if cfg.PipelineConfig.RegimeWindow == 0 {
		cfg.PipelineConfig.RegimeWindow = 100
	}
	if cfg.PipelineConfig.StopATRMult == 0 {
		cfg.PipelineConfig.StopATRMult = 1.5
	}
	if cfg.PipelineConfig.MLThreshold == 0 {
		cfg.PipelineConfig.MLThreshold = 0.60
	}
	if cfg.BacktestConfig.InitialCapital == 0 {
		cfg.BacktestConfig.InitialCapital = 10_000
	}
	if cfg.BacktestConfig.RiskPerTrade == 0 {
		cfg.BacktestConfig.RiskPerTrade = 0.01
	}
	if cfg.BacktestConfig.SlippageBase == 0 {
		cfg.BacktestConfig.SlippageBase = 0.0005
	}
	if cfg.BacktestConfig.SpreadPct == 0 {
		cfg.BacktestConfig.SpreadPct = 0.0002
	}
	if cfg.BacktestConfig.FeesPct == 0 {
		cfg.BacktestConfig.FeesPct = 0.0004
	}
	if cfg.BacktestConfig.MaxDailyLossPct == 0 {
		cfg.BacktestConfig.MaxDailyLossPct = 5
	}
	if cfg.BacktestConfig.MaxDrawdownPct == 0 {
		cfg.BacktestConfig.MaxDrawdownPct = 20
	}
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
	if cfg.LoggingConfig.Output == "" {
		cfg.LoggingConfig.Output = "stdout"
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a starter config file with no credentials.
func GenerateSampleConfig(filename string) error {
	cfg := &Config{}
	applyDefaults(cfg)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
