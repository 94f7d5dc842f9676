package filter

import (
	"fmt"
	"testing"
	"time"

	"trading-signal-engine/internal/auxdata"
	"trading-signal-engine/internal/criteria"
	"trading-signal-engine/internal/market"
	"trading-signal-engine/internal/mtf"
)

// fixedSet builds a criterion set with the given pass/fail pattern.
func fixedSet(passes []bool) []criteria.Criterion {
	set := make([]criteria.Criterion, len(passes))
	for i, p := range passes {
		name := fmt.Sprintf("criterion_%02d", i)
		passed := p
		set[i] = criteria.Criterion{
			Name: name,
			Eval: func(*criteria.Input) criteria.Result {
				return criteria.Result{Name: name, Passed: passed, Message: "fixed"}
			},
		}
	}
	return set
}

func testInput(t *testing.T) *criteria.Input {
	t.Helper()
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	view := &mtf.View{Symbol: "BTCUSDT", Series: make(map[string]*market.Series)}
	for _, tf := range mtf.Timeframes {
		period, _ := market.IntervalDuration(tf)
		start := end.Add(-250 * period)
		view.Series[tf] = market.GenerateSeries("BTCUSDT", tf, start, 250, market.FlatBars(100, 1000))
	}
	return criteria.NewInput(view, &auxdata.Context{}, criteria.Buy, end, criteria.DefaultProfile("BTCUSDT"))
}

func TestUltraTierRequiresAllCriteria(t *testing.T) {
	passes := make([]bool, 20)
	for i := range passes {
		passes[i] = true
	}

	f := New(TierUltra, fixedSet(passes))
	d := f.Evaluate(testInput(t))
	if !d.Accepted {
		t.Errorf("20/20 should accept at ULTRA: %s", d.OverallMessage)
	}
	if d.Score != 20 || d.Total != 20 {
		t.Errorf("score/total = %d/%d, want 20/20", d.Score, d.Total)
	}

	passes[7] = false
	d = New(TierUltra, fixedSet(passes)).Evaluate(testInput(t))
	if d.Accepted {
		t.Error("19/20 must reject at ULTRA")
	}
}

func TestEliteTierAllowsThreeMisses(t *testing.T) {
	passes := make([]bool, 20)
	for i := range passes {
		passes[i] = i >= 3 // first three fail
	}

	d := New(TierElite, fixedSet(passes)).Evaluate(testInput(t))
	if !d.Accepted {
		t.Errorf("17/20 should accept at ELITE: %s", d.OverallMessage)
	}

	passes[3] = false // fourth miss
	d = New(TierElite, fixedSet(passes)).Evaluate(testInput(t))
	if d.Accepted {
		t.Error("16/20 must reject at ELITE")
	}
}

func TestDecisionPreservesCriterionOrder(t *testing.T) {
	passes := make([]bool, 20)
	d := New(TierElite, fixedSet(passes)).Evaluate(testInput(t))

	if len(d.Criteria) != 20 {
		t.Fatalf("criteria count = %d, want 20", len(d.Criteria))
	}
	for i, c := range d.Criteria {
		want := fmt.Sprintf("criterion_%02d", i)
		if c.Name != want {
			t.Errorf("criteria[%d] = %s, want %s", i, c.Name, want)
		}
	}
}

func TestFailedCriteriaNames(t *testing.T) {
	passes := make([]bool, 5)
	passes[0], passes[2], passes[4] = true, true, true

	d := New(TierElite, fixedSet(passes)).Evaluate(testInput(t))
	failed := d.FailedCriteria()
	if len(failed) != 2 || failed[0] != "criterion_01" || failed[1] != "criterion_03" {
		t.Errorf("failed criteria = %v", failed)
	}
}

func TestFilterIsDeterministic(t *testing.T) {
	f := NewForProfile(TierUltra, criteria.DefaultProfile("BTCUSDT"))

	a := f.Evaluate(testInput(t))
	b := f.Evaluate(testInput(t))

	if a.Accepted != b.Accepted || a.Score != b.Score || a.OverallMessage != b.OverallMessage {
		t.Error("identical inputs must produce identical decisions")
	}
	for i := range a.Criteria {
		if a.Criteria[i] != b.Criteria[i] {
			t.Errorf("criterion %d differs: %+v vs %+v", i, a.Criteria[i], b.Criteria[i])
		}
	}
}
