package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerConfig.Port != 8080 {
		t.Errorf("port = %d", cfg.ServerConfig.Port)
	}
	if cfg.PipelineConfig.Tier != "ULTRA" {
		t.Errorf("tier = %s", cfg.PipelineConfig.Tier)
	}
	if cfg.BacktestConfig.InitialCapital != 10_000 {
		t.Errorf("initial capital = %f", cfg.BacktestConfig.InitialCapital)
	}
	if cfg.MarketConfig.BaseURL == "" || cfg.MarketConfig.FuturesURL == "" {
		t.Error("market URLs not defaulted")
	}
	if cfg.AuthConfig.Enabled() {
		t.Error("auth enabled with no hash configured")
	}
}

func TestLoadReadsFileAndEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"server": {"port": 9999},
		"pipeline": {"tier": "ELITE", "symbols": ["ETHUSDT"]},
		"logging": {"level": "debug"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SERVER_PORT", "7777")
	t.Setenv("PIPELINE_SYMBOLS", "BTCUSDT, SOLUSDT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerConfig.Port != 7777 {
		t.Errorf("env override lost: port = %d", cfg.ServerConfig.Port)
	}
	if cfg.PipelineConfig.Tier != "ELITE" {
		t.Errorf("file value lost: tier = %s", cfg.PipelineConfig.Tier)
	}
	if len(cfg.PipelineConfig.Symbols) != 2 || cfg.PipelineConfig.Symbols[0] != "BTCUSDT" {
		t.Errorf("symbols = %v", cfg.PipelineConfig.Symbols)
	}
	if cfg.LoggingConfig.Level != "debug" {
		t.Errorf("level = %s", cfg.LoggingConfig.Level)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed file accepted")
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{URL: "postgres://u:p@h:5432/db"}
	if d.DSN() != "postgres://u:p@h:5432/db" {
		t.Errorf("explicit URL not preferred: %s", d.DSN())
	}
	d = DatabaseConfig{Host: "localhost", Port: 5432, User: "engine", Password: "pw", Name: "signals", SSLMode: "disable"}
	want := "postgres://engine:pw@localhost:5432/signals?sslmode=disable"
	if d.DSN() != want {
		t.Errorf("dsn = %s, want %s", d.DSN(), want)
	}
}
