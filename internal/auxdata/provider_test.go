package auxdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"trading-signal-engine/internal/market"
)

// mockFutures returns canned exchange data or errors per field.
type mockFutures struct {
	funding    float64
	fundingErr error
	oi         float64
	oiErr      error
	price      float64
}

func (m *mockFutures) GetFundingRate(_ context.Context, symbol string) (*market.FundingRate, error) {
	if m.fundingErr != nil {
		return nil, m.fundingErr
	}
	return &market.FundingRate{Symbol: symbol, FundingRate: m.funding}, nil
}

func (m *mockFutures) GetOpenInterest(_ context.Context, symbol string) (*market.OpenInterest, error) {
	if m.oiErr != nil {
		return nil, m.oiErr
	}
	return &market.OpenInterest{Symbol: symbol, OpenInterest: m.oi}, nil
}

func (m *mockFutures) GetPrice(_ context.Context, _ string) (float64, error) {
	return m.price, nil
}

func newTestServer(t *testing.T, fngValue string, dominance float64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/global", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"data":{"market_cap_percentage":{"btc":%f,"eth":18.2}}}`, dominance)
	})
	mux.HandleFunc("/fng/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"data":[{"value":%q,"value_classification":"Fear"}]}`, fngValue)
	})
	mux.HandleFunc("/rss", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>Test Feed</title>`+
			`<item><title>BTC rallies</title><link>https://example.com/1</link>`+
			`<pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate></item></channel></rss>`)
	})
	return httptest.NewServer(mux)
}

func TestGetAuxAllFieldsPresent(t *testing.T) {
	srv := newTestServer(t, "20", 54.3)
	defer srv.Close()

	futures := &mockFutures{funding: 0.0001, oi: 1000, price: 50000}
	p := NewProvider(futures, srv.URL+"/global", srv.URL+"/fng/", srv.URL+"/rss", zerolog.Nop())

	aux := p.GetAux(context.Background(), "BTCUSDT")

	if aux.FundingRate == nil || *aux.FundingRate != 0.0001 {
		t.Errorf("funding rate = %v, want 0.0001", aux.FundingRate)
	}
	if aux.OpenInterestUSD == nil || *aux.OpenInterestUSD != 1000*50000 {
		t.Errorf("open interest USD = %v, want 50000000", aux.OpenInterestUSD)
	}
	if aux.BTCDominancePct == nil || *aux.BTCDominancePct != 54.3 {
		t.Errorf("dominance = %v, want 54.3", aux.BTCDominancePct)
	}
	if aux.FearGreedScore == nil || *aux.FearGreedScore != 20 {
		t.Errorf("fear/greed = %v, want 20", aux.FearGreedScore)
	}
	if len(aux.NewsItems) != 1 || aux.NewsItems[0].Title != "BTC rallies" {
		t.Errorf("news items = %+v", aux.NewsItems)
	}
	if len(aux.Notes) != 0 {
		t.Errorf("unexpected notes: %v", aux.Notes)
	}
}

func TestGetAuxPartialFailure(t *testing.T) {
	srv := newTestServer(t, "20", 54.3)
	defer srv.Close()

	futures := &mockFutures{
		fundingErr: errors.New("upstream down"),
		oi:         1000,
		price:      50000,
	}
	p := NewProvider(futures, srv.URL+"/global", srv.URL+"/fng/", srv.URL+"/rss", zerolog.Nop())

	aux := p.GetAux(context.Background(), "BTCUSDT")

	if aux.FundingRate != nil {
		t.Error("funding rate should be absent on fetch failure")
	}
	if aux.FearGreedScore == nil {
		t.Error("independent fields must still be fetched")
	}
	if len(aux.Notes) == 0 {
		t.Error("expected a note recording the failed field")
	}
}

func TestGetAuxMalformedUpstream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{not json`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	futures := &mockFutures{funding: 0.0001, oi: 1, price: 1}
	p := NewProvider(futures, srv.URL, srv.URL, srv.URL, zerolog.Nop())

	aux := p.GetAux(context.Background(), "BTCUSDT")

	if aux.BTCDominancePct != nil || aux.FearGreedScore != nil {
		t.Error("malformed upstream fields must be absent")
	}
	// Exchange-side fields are unaffected.
	if aux.FundingRate == nil {
		t.Error("funding rate should be present")
	}
}
