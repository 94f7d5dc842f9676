package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultStreamURL   = "wss://stream.binance.com:9443/stream"
	streamBufferSize   = 500
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = time.Minute
)

// combinedStreamMessage is the envelope of the Binance combined stream.
type combinedStreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// klineEvent is a kline update from the websocket stream.
type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// StreamStats tracks websocket stream activity.
type StreamStats struct {
	Subscriptions   int       `json:"subscriptions"`
	UpdatesReceived int64     `json:"updates_received"`
	Reconnects      int64     `json:"reconnects"`
	LastUpdateTime  time.Time `json:"last_update_time"`
}

// Stream maintains rolling buffers of closed candles fed by the Binance
// kline websocket. Buffers are seeded from REST on subscription so a
// consumer can read a full window without waiting for bars to accumulate.
type Stream struct {
	url      string
	upstream Provider
	logger   zerolog.Logger

	mu      sync.RWMutex
	buffers map[string][]Candle // "SYMBOL:interval" -> candles, ascending
	subs    []string            // stream names, e.g. "btcusdt@kline_15m"

	updates    int64
	reconnects int64
	lastUpdate time.Time
}

// NewStream creates a stream manager. upstream seeds buffers on Subscribe.
func NewStream(url string, upstream Provider, logger zerolog.Logger) *Stream {
	if url == "" {
		url = defaultStreamURL
	}
	return &Stream{
		url:      url,
		upstream: upstream,
		logger:   logger.With().Str("component", "kline_stream").Logger(),
		buffers:  make(map[string][]Candle),
	}
}

// Subscribe registers a (symbol, interval) pair and seeds its buffer from
// the REST provider. Must be called before Run.
func (s *Stream) Subscribe(ctx context.Context, symbol, interval string) error {
	seed, err := s.upstream.GetCandles(ctx, symbol, interval, streamBufferSize)
	if err != nil {
		return fmt.Errorf("seeding %s %s: %w", symbol, interval, err)
	}

	key := bufferKey(symbol, interval)
	s.mu.Lock()
	s.buffers[key] = append([]Candle(nil), seed.Candles...)
	s.subs = append(s.subs, fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval))
	s.mu.Unlock()

	s.logger.Info().Str("symbol", symbol).Str("interval", interval).Msg("subscribed to kline stream")
	return nil
}

// Run connects and consumes kline events until ctx is done, reconnecting
// with exponential backoff on failures.
func (s *Stream) Run(ctx context.Context) {
	delay := reconnectBaseDelay
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()
		s.logger.Warn().Err(err).Dur("backoff", delay).Msg("stream disconnected, reconnecting")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	s.mu.RLock()
	streams := strings.Join(s.subs, "/")
	s.mu.RUnlock()
	if streams == "" {
		return fmt.Errorf("no subscriptions")
	}

	url := fmt.Sprintf("%s?streams=%s", s.url, streams)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing stream: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg combinedStreamMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		var ev klineEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.EventType != "kline" {
			continue
		}
		if ev.Kline.Closed {
			s.append(ev)
		}
	}
}

func (s *Stream) append(ev klineEvent) {
	candle := Candle{
		OpenTime:  ev.Kline.OpenTime,
		Open:      parseStreamFloat(ev.Kline.Open),
		High:      parseStreamFloat(ev.Kline.High),
		Low:       parseStreamFloat(ev.Kline.Low),
		Close:     parseStreamFloat(ev.Kline.Close),
		Volume:    parseStreamFloat(ev.Kline.Volume),
		CloseTime: ev.Kline.CloseTime,
	}
	key := bufferKey(ev.Symbol, ev.Kline.Interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.buffers[key]
	if !ok {
		return
	}
	// Ignore out-of-order or duplicate bars.
	if len(buf) > 0 && candle.OpenTime <= buf[len(buf)-1].OpenTime {
		return
	}
	buf = append(buf, candle)
	if len(buf) > streamBufferSize {
		buf = buf[len(buf)-streamBufferSize:]
	}
	s.buffers[key] = buf
	s.updates++
	s.lastUpdate = time.Now()
}

// GetCandles serves from the stream buffer when it holds enough bars,
// falling back to the REST provider otherwise. Implements Provider.
func (s *Stream) GetCandles(ctx context.Context, symbol, interval string, count int) (*Series, error) {
	key := bufferKey(symbol, interval)

	s.mu.RLock()
	buf, ok := s.buffers[key]
	s.mu.RUnlock()

	if ok && len(buf) >= count {
		candles := append([]Candle(nil), buf[len(buf)-count:]...)
		return NewSeries(symbol, interval, candles)
	}
	return s.upstream.GetCandles(ctx, symbol, interval, count)
}

// Stats returns a snapshot of stream counters.
func (s *Stream) Stats() StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StreamStats{
		Subscriptions:   len(s.subs),
		UpdatesReceived: s.updates,
		Reconnects:      s.reconnects,
		LastUpdateTime:  s.lastUpdate,
	}
}

func bufferKey(symbol, interval string) string {
	return strings.ToUpper(symbol) + ":" + interval
}

func parseStreamFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
