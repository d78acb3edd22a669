package dispatch

import (
	"github.com/kvrouter/kvrouter/internal/apperrors"
	"github.com/kvrouter/kvrouter/internal/cachemap"
	"github.com/kvrouter/kvrouter/internal/registry"
)

// CacheStatus is the outcome §4.5 attaches to a dispatch decision.
type CacheStatus string

const (
	StatusHit  CacheStatus = "HIT"
	StatusMiss CacheStatus = "MISS"
)

// Strategy picks a worker for a hashed request. Grounded on the teacher's
// RoutingPolicy interface (sim/routing.go), generalized from a
// simulation-time scoring function to a live selection call against
// shared router state.
type Strategy interface {
	Select(sequence []string) (workerID string, status CacheStatus, matchLength int, err error)
}

// CacheAware consults the Global Cache Map for the longest matching
// prefix; on a miss (match_length == 0) it falls through to LeastLoaded
// semantics, per §4.5.
type CacheAware struct {
	Map      *cachemap.Map
	Registry *registry.Registry
}

func (s *CacheAware) Select(sequence []string) (string, CacheStatus, int, error) {
	live := make(map[string]struct{})
	for _, id := range s.Registry.Live() {
		live[id] = struct{}{}
	}
	liveLoad := func(id string) (float64, bool) {
		if _, ok := live[id]; !ok {
			return 0, false
		}
		return s.Registry.Load(id)
	}
	workerID, matchLength := s.Map.LongestPrefixMatch(sequence, liveLoad)
	if _, isLive := live[workerID]; matchLength > 0 && isLive {
		return workerID, StatusHit, matchLength, nil
	}
	fallback := &LeastLoaded{Registry: s.Registry}
	return fallback.Select(sequence)
}

// RoundRobin cycles through live workers, ignoring cache state entirely.
type RoundRobin struct {
	Registry *registry.Registry
}

func (s *RoundRobin) Select(sequence []string) (string, CacheStatus, int, error) {
	workerID, ok := s.Registry.Next()
	if !ok {
		return "", StatusMiss, 0, apperrors.ErrNoWorkersAvailable
	}
	return workerID, StatusMiss, 0, nil
}

// LeastLoaded picks the minimum-load live worker, rotating across ties.
type LeastLoaded struct {
	Registry *registry.Registry
}

func (s *LeastLoaded) Select(sequence []string) (string, CacheStatus, int, error) {
	workerID, ok := s.Registry.LeastLoaded()
	if !ok {
		return "", StatusMiss, 0, apperrors.ErrNoWorkersAvailable
	}
	return workerID, StatusMiss, 0, nil
}
