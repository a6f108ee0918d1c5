// Package observability tracks per-phase timing and row counts for
// reconciliation runs, feeding the status API and stale-run alerting.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Phase names used by the reconciliation engine.
const (
	PhaseRead     = "read"
	PhaseClassify = "classify"
	PhaseLink     = "link"
	PhaseResolve  = "resolve"
	PhaseProject  = "project"
	PhaseAudit    = "audit"
	PhaseSnapshot = "snapshot"
)

// PhaseStats accumulates timing and row counts per pipeline phase. Safe for
// concurrent use; classify workers report from multiple goroutines.
type PhaseStats struct {
	mu     sync.RWMutex
	phases map[string]*PhaseRecord
}

// PhaseRecord holds the accumulated measurements for one phase.
type PhaseRecord struct {
	Phase      string        `json:"phase"`
	Rows       int64         `json:"rows"`
	Duration   time.Duration `json:"duration"`
	Executions int64         `json:"executions"`
	LastRun    time.Time     `json:"last_run"`
}

// NewPhaseStats creates an empty tracker.
func NewPhaseStats() *PhaseStats {
	return &PhaseStats{phases: make(map[string]*PhaseRecord)}
}

// Record accumulates one phase execution.
func (p *PhaseStats) Record(phase string, rows int64, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.phases[phase]
	if !ok {
		rec = &PhaseRecord{Phase: phase}
		p.phases[phase] = rec
	}
	rec.Rows += rows
	rec.Duration += d
	rec.Executions++
	rec.LastRun = time.Now()
}

// Timed runs fn and records its duration under phase, with the row count fn
// reports.
func (p *PhaseStats) Timed(phase string, fn func() (int64, error)) error {
	start := time.Now()
	rows, err := fn()
	p.Record(phase, rows, time.Since(start))
	return err
}

// Snapshot returns a copy of all phase records in pipeline order, unknown
// phases last by name.
func (p *PhaseStats) Snapshot() []PhaseRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]PhaseRecord, 0, len(p.phases))
	for _, rec := range p.phases {
		out = append(out, *rec)
	}
	order := map[string]int{
		PhaseRead: 0, PhaseClassify: 1, PhaseLink: 2, PhaseResolve: 3,
		PhaseProject: 4, PhaseAudit: 5, PhaseSnapshot: 6,
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := order[out[i].Phase]
		oj, jok := order[out[j].Phase]
		switch {
		case iok && jok:
			return oi < oj
		case iok:
			return true
		case jok:
			return false
		default:
			return out[i].Phase < out[j].Phase
		}
	})
	return out
}

// Rows returns the accumulated row count for a phase, 0 when unrecorded.
func (p *PhaseStats) Rows(phase string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if rec, ok := p.phases[phase]; ok {
		return rec.Rows
	}
	return 0
}
