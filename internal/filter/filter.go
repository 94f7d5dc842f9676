// Package filter combines criterion results into an accept/reject decision.
// A Filter is a pure function of its inputs: the same view, auxiliary
// context and direction always produce the same Decision.
package filter

import (
	"fmt"

	"trading-signal-engine/internal/criteria"
)

// Tier selects how many criteria must pass.
type Tier string

const (
	TierUltra Tier = "ULTRA" // every criterion must pass
	TierElite Tier = "ELITE" // at most three misses
)

// Threshold returns the minimum passing score for a tier over total
// criteria.
func (t Tier) Threshold(total int) int {
	switch t {
	case TierElite:
		return total - 3
	default:
		return total
	}
}

// Decision is the aggregated outcome of one filter evaluation.
type Decision struct {
	Accepted       bool              `json:"accepted"`
	Criteria       []criteria.Result `json:"criteria"`
	Score          int               `json:"score"`
	Total          int               `json:"total"`
	Tier           Tier              `json:"tier"`
	OverallMessage string            `json:"overall_message"`
}

// Filter evaluates a criterion set at a tier. Compose different filters by
// passing different sets.
type Filter struct {
	tier Tier
	set  []criteria.Criterion
}

// New creates a filter for a tier over a criterion set.
func New(tier Tier, set []criteria.Criterion) *Filter {
	return &Filter{tier: tier, set: set}
}

// NewForProfile creates a filter with the standard twenty criteria for a
// symbol profile.
func NewForProfile(tier Tier, profile criteria.Profile) *Filter {
	return New(tier, criteria.Set(profile))
}

// Evaluate runs every criterion in declared order and aggregates. The
// returned criteria list preserves declaration order.
func (f *Filter) Evaluate(in *criteria.Input) Decision {
	results := make([]criteria.Result, 0, len(f.set))
	score := 0
	for _, c := range f.set {
		res := c.Eval(in)
		if res.Passed {
			score++
		}
		results = append(results, res)
	}

	total := len(f.set)
	threshold := f.tier.Threshold(total)
	accepted := score >= threshold

	var msg string
	if accepted {
		msg = fmt.Sprintf("%s filter accepted %s %s: %d/%d criteria passed",
			f.tier, in.View.Symbol, in.Direction, score, total)
	} else {
		msg = fmt.Sprintf("%s filter rejected %s %s: %d/%d criteria passed, need %d",
			f.tier, in.View.Symbol, in.Direction, score, total, threshold)
	}

	return Decision{
		Accepted:       accepted,
		Criteria:       results,
		Score:          score,
		Total:          total,
		Tier:           f.tier,
		OverallMessage: msg,
	}
}

// FailedCriteria lists the names of criteria that did not pass.
func (d Decision) FailedCriteria() []string {
	var out []string
	for _, c := range d.Criteria {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}
