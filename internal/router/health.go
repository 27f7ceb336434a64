package router

import (
	"sync"
	"sync/atomic"
	"time"
)

// observation is the CAS-swapped "latest attempt" view for a model.
// Successes/failures are monotonic atomics and order-independent; last_ok
// and last_latency must reflect the most recent attempt by wall clock, so
// a stale concurrent update must lose.
type observation struct {
	ok        bool
	latencyMS int64
	at        time.Time
}

// ModelHealth accumulates per-model routing telemetry. Counters are never
// reset by the router itself.
type ModelHealth struct {
	successes atomic.Uint64
	failures  atomic.Uint64
	last      atomic.Pointer[observation]
}

func (h *ModelHealth) record(ok bool, latencyMS int64, at time.Time) {
	if ok {
		h.successes.Add(1)
	} else {
		h.failures.Add(1)
	}

	next := &observation{ok: ok, latencyMS: latencyMS, at: at}
	for {
		cur := h.last.Load()
		if cur != nil && cur.at.After(at) {
			// a newer observation already landed
			return
		}
		if h.last.CompareAndSwap(cur, next) {
			return
		}
	}
}

// HealthEntry is a point-in-time copy of one model's stats.
type HealthEntry struct {
	Model         string
	Successes     uint64
	Failures      uint64
	LastOK        bool
	LastLatencyMS *int64
	UpdatedAt     *time.Time
}

// HealthStats is an arena of per-model health counters. The map is guarded
// by a mutex only for entry creation; the hot path mutates atomics.
type HealthStats struct {
	mu    sync.RWMutex
	stats map[string]*ModelHealth
}

func NewHealthStats() *HealthStats {
	return &HealthStats{stats: make(map[string]*ModelHealth)}
}

func (s *HealthStats) entry(model string) *ModelHealth {
	s.mu.RLock()
	h, ok := s.stats[model]
	s.mu.RUnlock()
	if ok {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.stats[model]; ok {
		return h
	}
	h = &ModelHealth{}
	s.stats[model] = h
	return h
}

// RecordSuccess notes a successful upstream call.
func (s *HealthStats) RecordSuccess(model string, latency time.Duration) {
	s.entry(model).record(true, latency.Milliseconds(), time.Now())
}

// RecordFailure notes an exhausted candidate.
func (s *HealthStats) RecordFailure(model string, latency time.Duration) {
	s.entry(model).record(false, latency.Milliseconds(), time.Now())
}

// Get returns a copy of one model's stats.
func (s *HealthStats) Get(model string) (HealthEntry, bool) {
	s.mu.RLock()
	h, ok := s.stats[model]
	s.mu.RUnlock()
	if !ok {
		return HealthEntry{}, false
	}
	return snapshotEntry(model, h), true
}

// Snapshot copies all model stats.
func (s *HealthStats) Snapshot() []HealthEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HealthEntry, 0, len(s.stats))
	for model, h := range s.stats {
		out = append(out, snapshotEntry(model, h))
	}
	return out
}

func snapshotEntry(model string, h *ModelHealth) HealthEntry {
	e := HealthEntry{
		Model:     model,
		Successes: h.successes.Load(),
		Failures:  h.failures.Load(),
	}
	if obs := h.last.Load(); obs != nil {
		e.LastOK = obs.ok
		lat := obs.latencyMS
		at := obs.at
		e.LastLatencyMS = &lat
		e.UpdatedAt = &at
	}
	return e
}
