package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trading-signal-engine/internal/market"
)

func degradedCache() *SeriesCache {
	sc := &SeriesCache{
		client:          redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}),
		logger:          zerolog.Nop(),
		maxFailures:     3,
		recoveryBackoff: time.Hour,
	}
	sc.trip()
	return sc
}

func TestOpenCircuitReportsMiss(t *testing.T) {
	sc := degradedCache()
	if sc.Healthy() {
		t.Fatal("tripped cache reports healthy")
	}
	if _, ok := sc.GetSeries(context.Background(), "BTCUSDT:1h:250"); ok {
		t.Error("open circuit returned a hit")
	}
	// Set must be a no-op, not a hang or panic.
	sc.SetSeries(context.Background(), "BTCUSDT:1h:250", &market.Series{Symbol: "BTCUSDT"}, time.Minute)
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	sc := &SeriesCache{logger: zerolog.Nop(), maxFailures: 3, recoveryBackoff: time.Hour}
	err := errors.New("dial refused")
	for i := 0; i < 2; i++ {
		sc.fail(err, "get")
		if sc.open() {
			t.Fatalf("circuit opened after %d failures", i+1)
		}
	}
	sc.fail(err, "get")
	if !sc.open() {
		t.Error("circuit still closed after max failures")
	}
}

func TestBreakerHalfOpensAfterBackoff(t *testing.T) {
	sc := &SeriesCache{logger: zerolog.Nop(), maxFailures: 3, recoveryBackoff: time.Millisecond}
	sc.trip()
	time.Sleep(5 * time.Millisecond)
	if sc.open() {
		t.Error("circuit did not half-open after backoff")
	}
}

func TestResetClosesBreaker(t *testing.T) {
	sc := &SeriesCache{logger: zerolog.Nop(), maxFailures: 3, recoveryBackoff: time.Hour}
	sc.fail(errors.New("x"), "get")
	sc.fail(errors.New("x"), "get")
	sc.reset()
	sc.fail(errors.New("x"), "get")
	if sc.open() {
		t.Error("failure count survived a reset")
	}
}

var _ market.RemoteCache = (*SeriesCache)(nil)
