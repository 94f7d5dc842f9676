package market

import (
	"context"
	"sync"
	"time"
)

// RateLimiter tracks Binance request weight inside a rolling one-minute
// window and blocks callers that would exceed the budget. It is shared by
// every worker hitting the same upstream host.
type RateLimiter struct {
	mu sync.Mutex

	currentWeight int
	maxWeight     int
	windowStart   time.Time
	window        time.Duration
}

// NewRateLimiter creates a limiter with the given weight budget per window.
func NewRateLimiter(maxWeight int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxWeight:   maxWeight,
		window:      window,
		windowStart: time.Now(),
	}
}

// Wait blocks until weight units fit in the current window, or until the
// context is done.
func (rl *RateLimiter) Wait(ctx context.Context, weight int) error {
	for {
		wait := rl.tryAcquire(weight)
		if wait == 0 {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tryAcquire reserves weight if the budget allows, otherwise returns how
// long to wait before retrying.
func (rl *RateLimiter) tryAcquire(weight int) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.windowStart) >= rl.window {
		rl.currentWeight = 0
		rl.windowStart = now
	}

	if rl.currentWeight+weight <= rl.maxWeight {
		rl.currentWeight += weight
		return 0
	}

	remaining := rl.window - now.Sub(rl.windowStart)
	if remaining <= 0 {
		remaining = 10 * time.Millisecond
	}
	return remaining
}

// Usage returns the consumed fraction of the current window budget.
func (rl *RateLimiter) Usage() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.maxWeight == 0 {
		return 0
	}
	return float64(rl.currentWeight) / float64(rl.maxWeight)
}
