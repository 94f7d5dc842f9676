package api

import (
	"sort"
	"sync"
	"time"

	"trading-signal-engine/internal/backtest"
)

// Run statuses mirror the database constants so the API reads the same
// with or without persistence.
const (
	runRunning  = "RUNNING"
	runFinished = "FINISHED"
	runFailed   = "FAILED"
)

// run is the in-memory record of a backtest execution.
type run struct {
	ID         string            `json:"id"`
	Symbol     string            `json:"symbol"`
	Interval   string            `json:"interval"`
	Status     string            `json:"status"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Summary    *backtest.Metrics `json:"summary,omitempty"`

	tearsheet *backtest.Tearsheet
}

// runStore keeps runs in memory; the database, when enabled, is the
// durable copy.
type runStore struct {
	mu   sync.RWMutex
	runs map[string]*run
}

func newRunStore() *runStore {
	return &runStore{runs: make(map[string]*run)}
}

func (rs *runStore) create(id, symbol, interval string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.runs[id] = &run{
		ID:        id,
		Symbol:    symbol,
		Interval:  interval,
		Status:    runRunning,
		StartedAt: time.Now().UTC(),
	}
}

func (rs *runStore) finish(id string, ts *backtest.Tearsheet) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.runs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	r.Status = runFinished
	r.FinishedAt = &now
	r.Summary = &ts.Summary
	r.tearsheet = ts
}

func (rs *runStore) fail(id string, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.runs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	r.Status = runFailed
	r.FinishedAt = &now
	r.Error = err.Error()
}

func (rs *runStore) get(id string) (*run, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.runs[id]
	return r, ok
}

func (rs *runStore) list() []*run {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*run, 0, len(rs.runs))
	for _, r := range rs.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
