package orchestrator

import "sync/atomic"

// Metrics captures lightweight runtime counters for observability.
type Metrics struct {
	stored       atomic.Int64
	searched     atomic.Int64
	deduplicated atomic.Int64
	drained      atomic.Int64
	failed       atomic.Int64
	cleaned      atomic.Int64
}

func (m *Metrics) IncStored(n int)       { m.stored.Add(int64(n)) }
func (m *Metrics) IncSearched()          { m.searched.Add(1) }
func (m *Metrics) IncDeduplicated(n int) { m.deduplicated.Add(int64(n)) }
func (m *Metrics) IncDrained(n int)      { m.drained.Add(int64(n)) }
func (m *Metrics) IncFailed(n int)       { m.failed.Add(int64(n)) }
func (m *Metrics) IncCleaned(n int)      { m.cleaned.Add(int64(n)) }

// MetricsSnapshot is a point in time copy of the counters.
type MetricsSnapshot struct {
	Stored       int64 `json:"stored"`
	Searched     int64 `json:"searched"`
	Deduplicated int64 `json:"deduplicated"`
	Drained      int64 `json:"drained"`
	Failed       int64 `json:"failed"`
	Cleaned      int64 `json:"cleaned"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Stored:       m.stored.Load(),
		Searched:     m.searched.Load(),
		Deduplicated: m.deduplicated.Load(),
		Drained:      m.drained.Load(),
		Failed:       m.failed.Load(),
		Cleaned:      m.cleaned.Load(),
	}
}
