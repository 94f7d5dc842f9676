package signal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trading-signal-engine/internal/auxdata"
	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/filter"
	"trading-signal-engine/internal/ml"
	"trading-signal-engine/internal/mtf"
	"trading-signal-engine/internal/planner"
	"trading-signal-engine/internal/regime"
)

// PipelineBudget bounds one full signal evaluation, fetches included.
const PipelineBudget = 30 * time.Second

// Clock is injected so session-dependent evaluation is testable.
type Clock func() time.Time

// ViewLoader assembles the multi-timeframe view for a symbol.
type ViewLoader interface {
	Load(ctx context.Context, symbol string) (*mtf.View, error)
}

// AuxSource fetches the optional auxiliary context.
type AuxSource interface {
	GetAux(ctx context.Context, symbol string) *auxdata.Context
}

// RegimeSource classifies the market regime for a symbol.
type RegimeSource interface {
	Assess(ctx context.Context, symbol string) (regime.Adjustment, error)
}

// Generator runs the full pipeline for one symbol per call. Safe for
// concurrent use: each call owns its own view and signal state.
type Generator struct {
	loader    ViewLoader
	aux       AuxSource
	regimes   RegimeSource
	validator *ml.Validator
	planner   *planner.Planner
	winRates  ml.WinRateSource
	tier      filter.Tier
	filters   FilterFactory
	clock     Clock
	logger    zerolog.Logger
}

// FilterFactory builds the filter used for a profile. The default uses the
// standard twenty criteria at the generator's tier.
type FilterFactory func(tier filter.Tier, profile criteria.Profile) *filter.Filter

// Option mutates a generator at construction.
type Option func(*Generator)

// WithClock injects a deterministic clock.
func WithClock(c Clock) Option {
	return func(g *Generator) { g.clock = c }
}

// WithTier overrides the default ULTRA tier.
func WithTier(t filter.Tier) Option {
	return func(g *Generator) { g.tier = t }
}

// WithRegimeSource wires the correlation regime adjuster.
func WithRegimeSource(r RegimeSource) Option {
	return func(g *Generator) { g.regimes = r }
}

// WithWinRates wires historical pair win rates into ML features.
func WithWinRates(w ml.WinRateSource) Option {
	return func(g *Generator) { g.winRates = w }
}

// WithPlanner overrides the default execution planner.
func WithPlanner(p *planner.Planner) Option {
	return func(g *Generator) { g.planner = p }
}

// WithFilterFactory overrides how filters are composed per profile.
func WithFilterFactory(f FilterFactory) Option {
	return func(g *Generator) { g.filters = f }
}

// NewGenerator wires the pipeline. Loader and aux source are required;
// regime and win-rate sources are optional.
func NewGenerator(loader ViewLoader, aux AuxSource, validator *ml.Validator, logger zerolog.Logger, opts ...Option) *Generator {
	g := &Generator{
		loader:    loader,
		aux:       aux,
		validator: validator,
		planner:   planner.New(),
		tier:      filter.TierUltra,
		filters:   filter.NewForProfile,
		clock:     time.Now,
		logger:    logger.With().Str("component", "signal_generator").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate evaluates a symbol and returns its Signal. BUY is tested first,
// then SELL; if neither passes the filter the result is a HOLD carrying the
// better-scoring direction's diagnostics.
func (g *Generator) Generate(ctx context.Context, symbol string) (*Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, PipelineBudget)
	defer cancel()

	view, err := g.loader.Load(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load view for %s: %w", symbol, err)
	}
	aux := g.aux.GetAux(ctx, symbol)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := g.clock().UTC()
	profile := criteria.DefaultProfile(symbol)
	f := g.filters(g.tier, profile)

	var (
		chosen   *criteria.Input
		decision filter.Decision
		best     filter.Decision
	)
	for _, dir := range []criteria.Direction{criteria.Buy, criteria.Sell} {
		in := criteria.NewInput(view, aux, dir, now, profile)
		d := f.Evaluate(in)
		if d.Accepted {
			chosen, decision = in, d
			break
		}
		if d.Score > best.Score {
			best = d
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if chosen == nil {
		sig := &Signal{
			ID:          uuid.NewString(),
			Symbol:      symbol,
			Direction:   criteria.Hold,
			GeneratedAt: now,
			Diagnostics: best,
		}
		g.logger.Info().Str("symbol", symbol).Int("score", best.Score).Msg("filter rejected, holding")
		return sig, nil
	}

	return g.finalize(ctx, chosen, decision, now)
}

// finalize applies regime adjustment, ML validation and execution planning
// to an accepted directional candidate.
func (g *Generator) finalize(ctx context.Context, in *criteria.Input, decision filter.Decision, now time.Time) (*Signal, error) {
	symbol := in.View.Symbol
	sig := &Signal{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Direction:   in.Direction,
		GeneratedAt: now,
		Diagnostics: decision,
	}

	confidence := 100 * float64(decision.Score) / float64(decision.Total)
	stopMult := 1.0

	if g.regimes != nil {
		adj, err := g.regimes.Assess(ctx, symbol)
		if err != nil {
			g.logger.Warn().Err(err).Str("symbol", symbol).Msg("regime unavailable, using neutral")
			sig.Tag("regime", string(regime.Neutral))
		} else {
			confidence *= adj.ConfidenceMultiplier
			stopMult = adj.StopDistanceMultiplier
			sig.Tag("regime", string(adj.Regime))
			sig.Tag("regime_confidence_mult", fmt.Sprintf("%.2f", adj.ConfidenceMultiplier))
			sig.Tag("regime_size_mult", fmt.Sprintf("%.2f", adj.SizeMultiplier))
			sig.Tag("regime_stop_mult", fmt.Sprintf("%.2f", adj.StopDistanceMultiplier))
		}
	}
	sig.ConfidencePct = math.Min(confidence, 100)

	verdict := g.validator.Validate(ctx, ml.BuildFeatures(in, decision, g.winRates))
	sig.Tag("ml_probability", fmt.Sprintf("%.3f", verdict.Probability))
	if verdict.Unavailable {
		sig.Tag("ml_unavailable", "true")
	} else if !verdict.Approved {
		sig.Direction = criteria.Hold
		sig.Tag("ml_rejected", verdict.Rationale)
		g.logger.Info().Str("symbol", symbol).Float64("probability", verdict.Probability).
			Msg("ml validator rejected, holding")
		return sig, nil
	}

	entry := in.LastPrice()
	atr := in.ATRH1()
	stopDistance := in.Profile.StopATRMult * atr * stopMult
	stop := entry - stopDistance
	if in.Direction == criteria.Sell {
		stop = entry + stopDistance
	}

	plan, err := g.planner.Build(symbol, in.Direction, entry, stop, atr)
	if err != nil {
		return nil, fmt.Errorf("plan %s %s: %w", in.Direction, symbol, err)
	}
	sig.Plan = plan
	sig.EntryPrice = entry
	sig.StopLoss = stop
	sig.TakeProfit1 = plan.TP(1)
	sig.TakeProfit2 = plan.TP(2)
	sig.TakeProfit3 = plan.TP(3)

	if err := sig.Validate(); err != nil {
		return nil, err
	}
	g.logger.Info().
		Str("symbol", symbol).
		Str("direction", string(sig.Direction)).
		Float64("confidence", sig.ConfidencePct).
		Msg("signal generated")
	return sig, nil
}

// Outcome pairs a symbol with its result for batch evaluation.
type Outcome struct {
	Symbol string
	Signal *Signal
	Err    error
}

// GenerateMany evaluates symbols concurrently with a bounded worker pool.
// Results preserve the input symbol order.
func (g *Generator) GenerateMany(ctx context.Context, symbols []string, workers int) []Outcome {
	if workers <= 0 {
		workers = 4
	}
	if workers > len(symbols) {
		workers = len(symbols)
	}

	out := make([]Outcome, len(symbols))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				sig, err := g.Generate(ctx, symbols[i])
				out[i] = Outcome{Symbol: symbols[i], Signal: sig, Err: err}
			}
		}()
	}
	for i := range symbols {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}
