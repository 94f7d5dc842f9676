// Package cache provides the Redis-backed candle cache tier with graceful
// degradation. When Redis is unreachable every lookup is a miss and the
// caller falls back to the upstream provider; a small circuit breaker stops
// hammering a dead backend.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trading-signal-engine/config"
	"trading-signal-engine/internal/market"
)

const keyPrefix = "candles:%s" // symbol:interval:count

// SeriesCache implements market.RemoteCache on top of Redis.
type SeriesCache struct {
	client *redis.Client
	logger zerolog.Logger

	mu           sync.Mutex
	failureCount int
	openedAt     time.Time

	maxFailures     int
	recoveryBackoff time.Duration
}

// NewSeriesCache connects to Redis. Connection problems are not fatal:
// the cache starts degraded and recovers when the backend comes back.
func NewSeriesCache(cfg config.RedisConfig, logger zerolog.Logger) (*SeriesCache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	sc := &SeriesCache{
		client:          client,
		logger:          logger.With().Str("component", "series_cache").Logger(),
		maxFailures:     3,
		recoveryBackoff: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		sc.logger.Warn().Err(err).Msg("redis unreachable, starting degraded")
		sc.trip()
	}
	return sc, nil
}

// GetSeries looks up a cached series. Backend failures count toward the
// circuit breaker and report as a miss.
func (sc *SeriesCache) GetSeries(ctx context.Context, key string) (*market.Series, bool) {
	if sc.open() {
		return nil, false
	}

	data, err := sc.client.Get(ctx, fmt.Sprintf(keyPrefix, key)).Bytes()
	if err == redis.Nil {
		sc.reset()
		return nil, false
	}
	if err != nil {
		sc.fail(err, "get")
		return nil, false
	}
	sc.reset()

	var s market.Series
	if err := json.Unmarshal(data, &s); err != nil {
		// Corrupt entry: drop it and treat as a miss.
		sc.client.Del(ctx, fmt.Sprintf(keyPrefix, key))
		sc.logger.Warn().Err(err).Str("key", key).Msg("discarding corrupt cache entry")
		return nil, false
	}
	return &s, true
}

// SetSeries stores a series with the given TTL. Failures are logged and
// swallowed.
func (sc *SeriesCache) SetSeries(ctx context.Context, key string, s *market.Series, ttl time.Duration) {
	if sc.open() {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		sc.logger.Error().Err(err).Str("key", key).Msg("encode series")
		return
	}
	if err := sc.client.Set(ctx, fmt.Sprintf(keyPrefix, key), data, ttl).Err(); err != nil {
		sc.fail(err, "set")
	}
}

// Healthy reports whether the breaker is closed.
func (sc *SeriesCache) Healthy() bool {
	return !sc.open()
}

// Close releases the underlying connection pool.
func (sc *SeriesCache) Close() error {
	return sc.client.Close()
}

func (sc *SeriesCache) open() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.failureCount < sc.maxFailures {
		return false
	}
	if time.Since(sc.openedAt) > sc.recoveryBackoff {
		// Half-open: allow one attempt through.
		sc.failureCount = sc.maxFailures - 1
		return false
	}
	return true
}

func (sc *SeriesCache) fail(err error, op string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.failureCount++
	if sc.failureCount == sc.maxFailures {
		sc.openedAt = time.Now()
		sc.logger.Warn().Err(err).Str("op", op).Msg("redis circuit opened")
	}
}

func (sc *SeriesCache) reset() {
	sc.mu.Lock()
	sc.failureCount = 0
	sc.mu.Unlock()
}

func (sc *SeriesCache) trip() {
	sc.mu.Lock()
	sc.failureCount = sc.maxFailures
	sc.openedAt = time.Now()
	sc.mu.Unlock()
}
