package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL    = "https://api.binance.com"
	defaultFuturesURL = "https://fapi.binance.com"
	requestTimeout    = 10 * time.Second
	retryBackoff      = 500 * time.Millisecond
)

// Client fetches market data from the Binance public REST API.
// All endpoints used are public and work without credentials.
type Client struct {
	baseURL    string
	futuresURL string
	httpClient *http.Client
	limiter    *RateLimiter
	logger     zerolog.Logger
}

// NewClient creates a REST client. Empty URLs select the public defaults.
func NewClient(baseURL, futuresURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if futuresURL == "" {
		futuresURL = defaultFuturesURL
	}
	return &Client{
		baseURL:    baseURL,
		futuresURL: futuresURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    NewRateLimiter(1200, time.Minute),
		logger:     logger.With().Str("component", "market_client").Logger(),
	}
}

// GetKlines fetches limit closed candles for symbol at interval and returns
// them as a validated Series. The most recent (still open) bar is dropped so
// the last bar is always a closed bar.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) (*Series, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	// Request one extra so we still have `limit` bars after dropping the open one.
	params.Set("limit", strconv.Itoa(limit+1))

	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", c.baseURL, params.Encode())
	body, err := c.get(ctx, endpoint, 2)
	if err != nil {
		return nil, err
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("%w: parsing klines: %v", ErrUpstreamMalformed, err)
	}
	if len(rawKlines) == 0 {
		return nil, fmt.Errorf("%w: no klines for %s %s", ErrInsufficientData, symbol, interval)
	}

	candles := make([]Candle, 0, len(rawKlines))
	for i, raw := range rawKlines {
		candle, err := parseKline(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: kline row %d: %v", ErrUpstreamMalformed, i, err)
		}
		candles = append(candles, candle)
	}

	// Drop the in-progress bar: its close time is in the future.
	now := time.Now().UnixMilli()
	if candles[len(candles)-1].CloseTime > now {
		candles = candles[:len(candles)-1]
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	if len(candles) < limit {
		return nil, fmt.Errorf("%w: got %d of %d bars for %s %s",
			ErrInsufficientData, len(candles), limit, symbol, interval)
	}

	return NewSeries(symbol, interval, candles)
}

// FundingRate holds the latest perpetual funding rate for a symbol.
type FundingRate struct {
	Symbol      string  `json:"symbol"`
	FundingRate float64 `json:"fundingRate,string"`
	FundingTime int64   `json:"fundingTime"`
}

// GetFundingRate fetches the most recent funding rate from the futures API.
func (c *Client) GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", "1")

	endpoint := fmt.Sprintf("%s/fapi/v1/fundingRate?%s", c.futuresURL, params.Encode())
	body, err := c.get(ctx, endpoint, 1)
	if err != nil {
		return nil, err
	}

	var rates []FundingRate
	if err := json.Unmarshal(body, &rates); err != nil {
		return nil, fmt.Errorf("%w: parsing funding rate: %v", ErrUpstreamMalformed, err)
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("%w: no funding data for %s", ErrInsufficientData, symbol)
	}
	return &rates[0], nil
}

// OpenInterest holds the current open interest for a futures symbol.
type OpenInterest struct {
	Symbol       string  `json:"symbol"`
	OpenInterest float64 `json:"openInterest,string"`
	Time         int64   `json:"time"`
}

// GetOpenInterest fetches the current open interest from the futures API.
func (c *Client) GetOpenInterest(ctx context.Context, symbol string) (*OpenInterest, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	endpoint := fmt.Sprintf("%s/fapi/v1/openInterest?%s", c.futuresURL, params.Encode())
	body, err := c.get(ctx, endpoint, 1)
	if err != nil {
		return nil, err
	}

	var oi OpenInterest
	if err := json.Unmarshal(body, &oi); err != nil {
		return nil, fmt.Errorf("%w: parsing open interest: %v", ErrUpstreamMalformed, err)
	}
	return &oi, nil
}

// TickerPrice holds the latest trade price for a symbol.
type TickerPrice struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price,string"`
}

// GetPrice fetches the latest price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	endpoint := fmt.Sprintf("%s/api/v3/ticker/price?%s", c.baseURL, params.Encode())
	body, err := c.get(ctx, endpoint, 1)
	if err != nil {
		return 0, err
	}

	var ticker TickerPrice
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, fmt.Errorf("%w: parsing ticker: %v", ErrUpstreamMalformed, err)
	}
	return ticker.Price, nil
}

// get performs a GET with rate limiting and at most one retry on retryable
// failures. weight is the Binance request weight of the endpoint.
func (c *Client) get(ctx context.Context, endpoint string, weight int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx, weight); err != nil {
			return nil, err
		}

		body, err := c.doGet(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("retrying request")
	}
	return nil, lastErr
}

func (c *Client) doGet(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp.StatusCode, string(body))
	}
	return body, nil
}

// parseKline decodes one raw kline row. Binance sends the timestamps as
// numbers and the prices and volume as strings.
func parseKline(raw []interface{}) (Candle, error) {
	if len(raw) < 7 {
		return Candle{}, fmt.Errorf("has %d of 7 fields", len(raw))
	}
	openTime, ok := raw[0].(float64)
	if !ok {
		return Candle{}, fmt.Errorf("open time is %T, not a number", raw[0])
	}
	closeTime, ok := raw[6].(float64)
	if !ok {
		return Candle{}, fmt.Errorf("close time is %T, not a number", raw[6])
	}

	candle := Candle{OpenTime: int64(openTime), CloseTime: int64(closeTime)}
	for _, field := range []struct {
		name string
		idx  int
		dst  *float64
	}{
		{"open", 1, &candle.Open},
		{"high", 2, &candle.High},
		{"low", 3, &candle.Low},
		{"close", 4, &candle.Close},
		{"volume", 5, &candle.Volume},
	} {
		v, err := parseFloat(raw[field.idx])
		if err != nil {
			return Candle{}, fmt.Errorf("%s: %v", field.name, err)
		}
		*field.dst = v
	}
	return candle, nil
}

func parseFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", t)
		}
		return f, nil
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
