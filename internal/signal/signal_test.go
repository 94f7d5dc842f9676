package signal

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trading-signal-engine/internal/auxdata"
	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/filter"
	"trading-signal-engine/internal/market"
	"trading-signal-engine/internal/ml"
	"trading-signal-engine/internal/mtf"
	"trading-signal-engine/internal/regime"
)

var testNow = time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)

type fakeLoader struct {
	views map[string]*mtf.View
}

func (f *fakeLoader) Load(_ context.Context, symbol string) (*mtf.View, error) {
	v, ok := f.views[symbol]
	if !ok {
		return nil, market.ErrSymbolUnknown
	}
	return v, nil
}

type fakeAux struct{ ctx *auxdata.Context }

func (f *fakeAux) GetAux(context.Context, string) *auxdata.Context { return f.ctx }

type fakeRegime struct {
	adj regime.Adjustment
	err error
}

func (f *fakeRegime) Assess(context.Context, string) (regime.Adjustment, error) {
	return f.adj, f.err
}

type stubPredictor struct {
	prob float64
	err  error
}

func (s stubPredictor) Predict(context.Context, ml.Features) (float64, string, error) {
	return s.prob, "stub", s.err
}

func trendView(t *testing.T, symbol string) *mtf.View {
	t.Helper()
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	view := &mtf.View{Symbol: symbol, Series: make(map[string]*market.Series)}
	for _, tf := range mtf.Timeframes {
		period, err := market.IntervalDuration(tf)
		if err != nil {
			t.Fatal(err)
		}
		start := end.Add(-250 * period)
		view.Series[tf] = market.GenerateSeries(symbol, tf, start, 250, market.TrendBars(100, 0.5, 1, 1000))
	}
	return view
}

// passingSet is a criterion set that always accepts, to isolate the
// pipeline stages around the filter.
func passingSet(tier filter.Tier, _ criteria.Profile) *filter.Filter {
	set := make([]criteria.Criterion, 20)
	for i := range set {
		set[i] = criteria.Criterion{
			Name: "always_pass",
			Eval: func(*criteria.Input) criteria.Result {
				return criteria.Result{Name: "always_pass", Passed: true, Message: "ok"}
			},
		}
	}
	return filter.New(tier, set)
}

func newTestGenerator(t *testing.T, opts ...Option) *Generator {
	t.Helper()
	loader := &fakeLoader{views: map[string]*mtf.View{"BTCUSDT": trendView(t, "BTCUSDT")}}
	validator := ml.NewValidator(stubPredictor{prob: 0.9}, zerolog.Nop())
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithFilterFactory(passingSet),
	}
	return NewGenerator(loader, &fakeAux{ctx: &auxdata.Context{}}, validator, zerolog.Nop(), append(base, opts...)...)
}

func TestGenerateAcceptedBuy(t *testing.T) {
	g := newTestGenerator(t)
	sig, err := g.Generate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig.Direction != criteria.Buy {
		t.Fatalf("direction = %s, want BUY", sig.Direction)
	}
	if err := sig.Validate(); err != nil {
		t.Errorf("signal contract: %v", err)
	}
	if sig.StopLoss >= sig.EntryPrice || sig.TakeProfit1 <= sig.EntryPrice {
		t.Errorf("BUY levels: entry %.2f, SL %.2f, TP1 %.2f", sig.EntryPrice, sig.StopLoss, sig.TakeProfit1)
	}
	if sig.Plan == nil || len(sig.Plan.Tranches) != 3 {
		t.Error("signal must carry a tranche plan")
	}
	if sig.ConfidencePct != 100 {
		t.Errorf("confidence = %.1f, want 100 for a clean 20/20", sig.ConfidencePct)
	}
	if sig.ID == "" {
		t.Error("signal must carry an ID")
	}
	if !sig.GeneratedAt.Equal(testNow) {
		t.Errorf("generated_at = %s, want injected clock %s", sig.GeneratedAt, testNow)
	}
}

func TestGenerateHoldOnFilterReject(t *testing.T) {
	g := newTestGenerator(t, WithFilterFactory(filter.NewForProfile))
	// Flat bars cannot satisfy the trend criteria at ULTRA.
	g.loader.(*fakeLoader).views["FLATUSDT"] = flatView(t, "FLATUSDT")

	sig, err := g.Generate(context.Background(), "FLATUSDT")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig.Direction != criteria.Hold {
		t.Errorf("direction = %s, want HOLD", sig.Direction)
	}
	if err := sig.Validate(); err != nil {
		t.Errorf("HOLD contract: %v", err)
	}
	if len(sig.Diagnostics.Criteria) != 20 {
		t.Errorf("diagnostics must carry all criterion results, got %d", len(sig.Diagnostics.Criteria))
	}
}

func flatView(t *testing.T, symbol string) *mtf.View {
	t.Helper()
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	view := &mtf.View{Symbol: symbol, Series: make(map[string]*market.Series)}
	for _, tf := range mtf.Timeframes {
		period, err := market.IntervalDuration(tf)
		if err != nil {
			t.Fatal(err)
		}
		start := end.Add(-250 * period)
		view.Series[tf] = market.GenerateSeries(symbol, tf, start, 250, market.FlatBars(100, 1000))
	}
	return view
}

func TestGenerateMLRejectionHolds(t *testing.T) {
	g := newTestGenerator(t)
	g.validator = ml.NewValidator(stubPredictor{prob: 0.2}, zerolog.Nop())

	sig, err := g.Generate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig.Direction != criteria.Hold {
		t.Errorf("direction = %s, want HOLD after ml rejection", sig.Direction)
	}
	if _, ok := sig.Tags["ml_rejected"]; !ok {
		t.Errorf("tags = %v, want ml_rejected", sig.Tags)
	}
}

func TestGenerateMLUnavailableApproves(t *testing.T) {
	g := newTestGenerator(t)
	g.validator = ml.NewValidator(stubPredictor{err: errors.New("offline")}, zerolog.Nop())

	sig, err := g.Generate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig.Direction != criteria.Buy {
		t.Errorf("direction = %s, want BUY despite predictor outage", sig.Direction)
	}
	if sig.Tags["ml_unavailable"] != "true" {
		t.Errorf("tags = %v, want ml_unavailable", sig.Tags)
	}
}

func TestRegimeFlipsConfidenceAndSize(t *testing.T) {
	riskOn := &fakeRegime{adj: regime.Adjustment{
		Regime: regime.RiskOn, ConfidenceMultiplier: 1.2, SizeMultiplier: 1.5, StopDistanceMultiplier: 0.8,
	}}
	riskOff := &fakeRegime{adj: regime.Adjustment{
		Regime: regime.RiskOff, ConfidenceMultiplier: 0.8, SizeMultiplier: 0.5, StopDistanceMultiplier: 2.0,
	}}

	on, err := newTestGenerator(t, WithRegimeSource(riskOn)).Generate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("risk-on Generate: %v", err)
	}
	off, err := newTestGenerator(t, WithRegimeSource(riskOff)).Generate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("risk-off Generate: %v", err)
	}

	if on.Tags["regime"] != "RISK_ON" || off.Tags["regime"] != "RISK_OFF" {
		t.Errorf("regime tags = %q / %q", on.Tags["regime"], off.Tags["regime"])
	}
	if on.Tags["regime_size_mult"] == off.Tags["regime_size_mult"] {
		t.Error("size multipliers must differ across regimes")
	}
	if on.ConfidencePct <= off.ConfidencePct {
		t.Errorf("risk-on confidence %.1f must exceed risk-off %.1f", on.ConfidencePct, off.ConfidencePct)
	}
	// Wider stop distance under risk-off.
	onDist := on.EntryPrice - on.StopLoss
	offDist := off.EntryPrice - off.StopLoss
	if offDist <= onDist {
		t.Errorf("risk-off stop distance %.4f must exceed risk-on %.4f", offDist, onDist)
	}
}

func TestSignalJSONRoundTrip(t *testing.T) {
	g := newTestGenerator(t)
	sig, err := g.Generate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	data, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Signal
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(*sig, decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, *sig)
	}
}

func TestGenerateManyPreservesOrder(t *testing.T) {
	g := newTestGenerator(t)
	g.loader.(*fakeLoader).views["ETHUSDT"] = trendView(t, "ETHUSDT")

	symbols := []string{"BTCUSDT", "MISSING", "ETHUSDT"}
	out := g.GenerateMany(context.Background(), symbols, 2)

	if len(out) != 3 {
		t.Fatalf("outcome count = %d", len(out))
	}
	for i, symbol := range symbols {
		if out[i].Symbol != symbol {
			t.Errorf("outcome %d symbol = %s, want %s", i, out[i].Symbol, symbol)
		}
	}
	if out[0].Err != nil || out[2].Err != nil {
		t.Errorf("loaded symbols must succeed: %v / %v", out[0].Err, out[2].Err)
	}
	if !errors.Is(out[1].Err, market.ErrSymbolUnknown) {
		t.Errorf("missing symbol err = %v, want ErrSymbolUnknown", out[1].Err)
	}
}

func TestValidateContract(t *testing.T) {
	hold := &Signal{Symbol: "X", Direction: criteria.Hold}
	if err := hold.Validate(); err != nil {
		t.Errorf("clean HOLD: %v", err)
	}
	hold.StopLoss = 95
	if err := hold.Validate(); err == nil {
		t.Error("HOLD with a stop must fail")
	}

	buy := &Signal{Symbol: "X", Direction: criteria.Buy, EntryPrice: 100, StopLoss: 97, TakeProfit1: 103}
	if err := buy.Validate(); err != nil {
		t.Errorf("clean BUY: %v", err)
	}
	buy.StopLoss = 103
	if err := buy.Validate(); err == nil {
		t.Error("BUY with stop above entry must fail")
	}
}
