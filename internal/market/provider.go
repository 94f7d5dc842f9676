package market

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Provider supplies candle series. Implementations must be safe for
// concurrent use.
type Provider interface {
	GetCandles(ctx context.Context, symbol, interval string, count int) (*Series, error)
}

// RemoteCache is an optional second cache tier (redis) behind the in-process
// one. A miss or backend failure is reported as a plain miss.
type RemoteCache interface {
	GetSeries(ctx context.Context, key string) (*Series, bool)
	SetSeries(ctx context.Context, key string, s *Series, ttl time.Duration)
}

// CacheStats exposes cache behavior for observability.
type CacheStats struct {
	Keys      int   `json:"keys"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

type cacheEntry struct {
	series    *Series
	expiresAt time.Time
}

// CachingProvider memoizes (symbol, interval, count) lookups with a TTL.
// Entries are immutable after first write; concurrent readers share them.
type CachingProvider struct {
	upstream Provider
	remote   RemoteCache
	ttl      time.Duration
	maxKeys  int

	mu      sync.RWMutex
	entries map[string]cacheEntry

	hits      int64
	misses    int64
	evictions int64
}

// NewCachingProvider wraps upstream with a TTL cache. remote may be nil.
func NewCachingProvider(upstream Provider, remote RemoteCache, ttl time.Duration) *CachingProvider {
	return &CachingProvider{
		upstream: upstream,
		remote:   remote,
		ttl:      ttl,
		maxKeys:  512,
		entries:  make(map[string]cacheEntry),
	}
}

// GetCandles returns a cached series when fresh, otherwise fetches upstream
// and populates both cache tiers.
func (p *CachingProvider) GetCandles(ctx context.Context, symbol, interval string, count int) (*Series, error) {
	key := fmt.Sprintf("%s:%s:%d", symbol, interval, count)

	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		p.mu.Lock()
		p.hits++
		p.mu.Unlock()
		return entry.series, nil
	}

	if p.remote != nil {
		if s, ok := p.remote.GetSeries(ctx, key); ok {
			p.store(key, s)
			return s, nil
		}
	}

	p.mu.Lock()
	p.misses++
	p.mu.Unlock()

	s, err := p.upstream.GetCandles(ctx, symbol, interval, count)
	if err != nil {
		return nil, err
	}

	p.store(key, s)
	if p.remote != nil {
		p.remote.SetSeries(ctx, key, s, p.ttl)
	}
	return s, nil
}

func (p *CachingProvider) store(key string, s *Series) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Evict expired entries when at capacity. Bounded so the map cannot grow
	// without limit during long scans.
	if len(p.entries) >= p.maxKeys {
		now := time.Now()
		for k, e := range p.entries {
			if now.After(e.expiresAt) {
				delete(p.entries, k)
				p.evictions++
			}
		}
	}

	p.entries[key] = cacheEntry{series: s, expiresAt: time.Now().Add(p.ttl)}
}

// Stats returns a snapshot of cache counters.
func (p *CachingProvider) Stats() CacheStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return CacheStats{
		Keys:      len(p.entries),
		Hits:      p.hits,
		Misses:    p.misses,
		Evictions: p.evictions,
	}
}

// ClientProvider adapts Client to the Provider interface.
type ClientProvider struct {
	Client *Client
}

// GetCandles fetches from the REST client.
func (cp *ClientProvider) GetCandles(ctx context.Context, symbol, interval string, count int) (*Series, error) {
	return cp.Client.GetKlines(ctx, symbol, interval, count)
}
