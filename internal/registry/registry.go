// Package registry tracks the router's view of the worker fleet: identity,
// URL, current load, and liveness via heartbeat recency. It is the
// "many-worker view" that the dispatch and cachemap packages consult but
// do not own.
package registry

import (
	"sync"
	"time"
)

// Worker is the router's record of one fleet member.
type Worker struct {
	ID             string
	URL            string
	CurrentLoad    float64
	LastHeartbeat  time.Time
	Healthy        bool
	SpeculativeAdd float64 // outstanding speculative load addend, corrected by next heartbeat
}

// EffectiveLoad is CurrentLoad plus any outstanding speculative addend not
// yet corrected by an authoritative heartbeat (§4.5, §9).
func (w Worker) EffectiveLoad() float64 {
	return w.CurrentLoad + w.SpeculativeAdd
}

// Registry is the router's shared, mutex-guarded worker table (§5: a
// single coarse lock is acceptable for the sizes contemplated).
type Registry struct {
	mu             sync.RWMutex
	workers        map[string]*Worker
	staleAfter     time.Duration
	rrCtr          uint64
	now            func() time.Time
}

// New creates a Registry. staleAfter is the staleness window past which a
// worker without a fresh heartbeat is excluded from Live (§3
// Worker lifecycle).
func New(staleAfter time.Duration) *Registry {
	return &Registry{
		workers:    make(map[string]*Worker),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Heartbeat registers a worker on first receipt and otherwise updates its
// load, URL (if given), and heartbeat timestamp. A heartbeat also
// re-marks a previously unhealthy worker as healthy — "excluded from
// routing until it re-registers" (§7).
func (r *Registry) Heartbeat(id, url string, load float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		w = &Worker{ID: id}
		r.workers[id] = w
	}
	if url != "" {
		w.URL = url
	}
	w.CurrentLoad = load
	w.SpeculativeAdd = 0 // corrected by this authoritative heartbeat (§9)
	w.LastHeartbeat = r.now()
	w.Healthy = true
}

// MarkUnhealthy excludes a worker from routing after an invariant
// violation report (§7), until its next heartbeat.
func (r *Registry) MarkUnhealthy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.Healthy = false
	}
}

// InflateLoad adds a speculative load estimate to a worker immediately
// after a dispatch decision, ahead of the next heartbeat correcting it
// (§4.5 anti-stampede, §9).
func (r *Registry) InflateLoad(id string, addend float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.SpeculativeAdd += addend
	}
}

// Load returns a worker's effective current load, implementing
// cachemap.LoadLookup.
func (r *Registry) Load(id string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return 0, false
	}
	return w.EffectiveLoad(), true
}

// URL returns a worker's registered URL, if known.
func (r *Registry) URL(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok || w.URL == "" {
		return "", false
	}
	return w.URL, true
}

// Live returns the IDs of workers considered live: healthy and heartbeat
// within staleAfter of now.
func (r *Registry) Live() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	ids := make([]string, 0, len(r.workers))
	for id, w := range r.workers {
		if !w.Healthy {
			continue
		}
		if r.staleAfter > 0 && now.Sub(w.LastHeartbeat) > r.staleAfter {
			continue
		}
		ids = append(ids, id)
	}
	sortStrings(ids)
	return ids
}

// Next returns the next worker in round-robin order across the currently
// live set, or ("", false) if no workers are live (§4.5, §7
// no_workers_available).
func (r *Registry) Next() (string, bool) {
	live := r.Live()
	if len(live) == 0 {
		return "", false
	}
	r.mu.Lock()
	r.rrCtr++
	idx := (r.rrCtr - 1) % uint64(len(live))
	r.mu.Unlock()
	return live[idx], true
}

// LeastLoaded returns the live worker with minimum effective load,
// rotating round-robin across ties.
func (r *Registry) LeastLoaded() (string, bool) {
	live := r.Live()
	if len(live) == 0 {
		return "", false
	}
	r.mu.RLock()
	minLoad := 0.0
	tied := make([]string, 0, len(live))
	for _, id := range live {
		w := r.workers[id]
		load := w.EffectiveLoad()
		switch {
		case len(tied) == 0 || load < minLoad:
			minLoad = load
			tied = tied[:0]
			tied = append(tied, id)
		case load == minLoad:
			tied = append(tied, id)
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	r.rrCtr++
	idx := (r.rrCtr - 1) % uint64(len(tied))
	r.mu.Unlock()
	return tied[idx], true
}

// SetClock overrides the registry's time source; test-only seam.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
