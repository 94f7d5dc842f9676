// Package auxdata fetches the auxiliary market context used by the filter:
// funding rate, open interest, BTC dominance, ETH/BTC ratio, fear & greed
// index, and recent news headlines. Every field is optional; a failed
// sub-fetch leaves its field absent and records a note instead of failing
// the whole call.
package auxdata

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-signal-engine/internal/market"
)

const (
	subFetchTimeout  = 5 * time.Second
	defaultGlobalURL = "https://api.coingecko.com/api/v3/global"
	defaultFngURL    = "https://api.alternative.me/fng/?limit=1"
	defaultNewsURL   = "https://cointelegraph.com/rss"
	maxNewsItems     = 10
)

// NewsItem is a single headline from the news feed.
type NewsItem struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Context carries the optional auxiliary fields. Nil means unavailable and
// the consuming criterion passes with an "unavailable" note.
type Context struct {
	FundingRate     *float64   `json:"funding_rate,omitempty"`
	OpenInterestUSD *float64   `json:"open_interest_usd,omitempty"`
	BTCDominancePct *float64   `json:"btc_dominance_pct,omitempty"`
	ETHBTCRatio     *float64   `json:"eth_btc_ratio,omitempty"`
	FearGreedScore  *int       `json:"fear_greed_score,omitempty"`
	NewsItems       []NewsItem `json:"news_items,omitempty"`
	FetchedAt       time.Time  `json:"fetched_at"`
	Notes           []string   `json:"notes,omitempty"`
}

// FuturesDataSource supplies the exchange-side auxiliary fields.
type FuturesDataSource interface {
	GetFundingRate(ctx context.Context, symbol string) (*market.FundingRate, error)
	GetOpenInterest(ctx context.Context, symbol string) (*market.OpenInterest, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Provider assembles the auxiliary context from independent upstream calls.
type Provider struct {
	futures   FuturesDataSource
	globalURL string
	fngURL    string
	newsURL   string
	client    *http.Client
	logger    zerolog.Logger
}

// NewProvider creates a provider. Empty URLs select the public defaults.
func NewProvider(futures FuturesDataSource, globalURL, fngURL, newsURL string, logger zerolog.Logger) *Provider {
	if globalURL == "" {
		globalURL = defaultGlobalURL
	}
	if fngURL == "" {
		fngURL = defaultFngURL
	}
	if newsURL == "" {
		newsURL = defaultNewsURL
	}
	return &Provider{
		futures:   futures,
		globalURL: globalURL,
		fngURL:    fngURL,
		newsURL:   newsURL,
		client:    &http.Client{Timeout: subFetchTimeout},
		logger:    logger.With().Str("component", "auxdata").Logger(),
	}
}

// GetAux fetches every field concurrently. Individual failures set notes;
// the call itself only fails when the parent context is done.
func (p *Provider) GetAux(ctx context.Context, symbol string) *Context {
	aux := &Context{FetchedAt: time.Now().UTC()}

	var mu sync.Mutex
	var wg sync.WaitGroup
	note := func(format string, args ...interface{}) {
		mu.Lock()
		aux.Notes = append(aux.Notes, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	run := func(name string, fetch func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subCtx, cancel := context.WithTimeout(ctx, subFetchTimeout)
			defer cancel()
			if err := fetch(subCtx); err != nil {
				p.logger.Debug().Err(err).Str("field", name).Msg("aux fetch failed")
				note("%s unavailable: %v", name, err)
			}
		}()
	}

	// A nil futures source (mock mode) leaves the exchange-side fields
	// unavailable rather than failing.
	if p.futures != nil {
		run("funding_rate", func(c context.Context) error {
			fr, err := p.futures.GetFundingRate(c, symbol)
			if err != nil {
				return err
			}
			mu.Lock()
			aux.FundingRate = &fr.FundingRate
			mu.Unlock()
			return nil
		})

		run("open_interest", func(c context.Context) error {
			oi, err := p.futures.GetOpenInterest(c, symbol)
			if err != nil {
				return err
			}
			price, err := p.futures.GetPrice(c, symbol)
			if err != nil {
				return err
			}
			usd := oi.OpenInterest * price
			mu.Lock()
			aux.OpenInterestUSD = &usd
			mu.Unlock()
			return nil
		})
	}

	run("btc_dominance", func(c context.Context) error {
		dom, ethBtc, err := p.fetchGlobal(c)
		if err != nil {
			return err
		}
		mu.Lock()
		aux.BTCDominancePct = &dom
		aux.ETHBTCRatio = &ethBtc
		mu.Unlock()
		return nil
	})

	run("fear_greed", func(c context.Context) error {
		score, err := p.fetchFearGreed(c)
		if err != nil {
			return err
		}
		mu.Lock()
		aux.FearGreedScore = &score
		mu.Unlock()
		return nil
	})

	run("news", func(c context.Context) error {
		items, err := p.fetchNews(c)
		if err != nil {
			return err
		}
		mu.Lock()
		aux.NewsItems = items
		mu.Unlock()
		return nil
	})

	wg.Wait()
	return aux
}

// globalResponse is the CoinGecko /global wire format (fields we read).
type globalResponse struct {
	Data struct {
		MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
	} `json:"data"`
}

func (p *Provider) fetchGlobal(ctx context.Context) (dominance, ethBtc float64, err error) {
	body, err := p.getJSON(ctx, p.globalURL)
	if err != nil {
		return 0, 0, err
	}

	var global globalResponse
	if err := json.Unmarshal(body, &global); err != nil {
		return 0, 0, fmt.Errorf("%w: global data: %v", market.ErrUpstreamMalformed, err)
	}

	btc, okBTC := global.Data.MarketCapPercentage["btc"]
	eth, okETH := global.Data.MarketCapPercentage["eth"]
	if !okBTC {
		return 0, 0, fmt.Errorf("%w: missing btc dominance", market.ErrUpstreamMalformed)
	}
	ratio := 0.0
	if okETH && btc > 0 {
		ratio = eth / btc
	}
	return btc, ratio, nil
}

// fngResponse is the alternative.me wire format.
type fngResponse struct {
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
	} `json:"data"`
}

func (p *Provider) fetchFearGreed(ctx context.Context) (int, error) {
	body, err := p.getJSON(ctx, p.fngURL)
	if err != nil {
		return 0, err
	}

	var fng fngResponse
	if err := json.Unmarshal(body, &fng); err != nil {
		return 0, fmt.Errorf("%w: fear/greed: %v", market.ErrUpstreamMalformed, err)
	}
	if len(fng.Data) == 0 {
		return 0, fmt.Errorf("%w: empty fear/greed data", market.ErrUpstreamMalformed)
	}

	score, err := strconv.Atoi(fng.Data[0].Value)
	if err != nil || score < 0 || score > 100 {
		return 0, fmt.Errorf("%w: fear/greed value %q", market.ErrUpstreamMalformed, fng.Data[0].Value)
	}
	return score, nil
}

// rssFeed is the subset of RSS 2.0 we parse from news feeds.
type rssFeed struct {
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title   string `xml:"title"`
			Link    string `xml:"link"`
			PubDate string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

func (p *Provider) fetchNews(ctx context.Context) ([]NewsItem, error) {
	body, err := p.getJSON(ctx, p.newsURL)
	if err != nil {
		return nil, err
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("%w: rss: %v", market.ErrUpstreamMalformed, err)
	}

	items := make([]NewsItem, 0, maxNewsItems)
	for _, it := range feed.Channel.Items {
		published, _ := time.Parse(time.RFC1123Z, it.PubDate)
		items = append(items, NewsItem{
			Title:       it.Title,
			Source:      feed.Channel.Title,
			URL:         it.Link,
			PublishedAt: published,
		})
		if len(items) >= maxNewsItems {
			break
		}
	}
	return items, nil
}

func (p *Provider) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
