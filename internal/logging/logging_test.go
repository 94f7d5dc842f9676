package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"trading-signal-engine/config"
)

func TestNewParsesLevels(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"WARN":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	}
	for in, want := range cases {
		logger, err := New(config.LoggingConfig{Level: in, JSONFormat: true})
		if err != nil {
			t.Fatalf("New(%q): %v", in, err)
		}
		if logger.GetLevel() != want {
			t.Errorf("level for %q = %v, want %v", in, logger.GetLevel(), want)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err := New(config.LoggingConfig{Level: "info", Output: path, JSONFormat: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info().Str("component", "test").Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"test"`) {
		t.Errorf("log file missing structured field: %s", data)
	}
}
