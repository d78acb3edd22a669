package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvrouter/kvrouter/internal/apperrors"
	"github.com/kvrouter/kvrouter/internal/blockhash"
	"github.com/kvrouter/kvrouter/internal/cachemap"
	"github.com/kvrouter/kvrouter/internal/registry"
)

func newTestDispatcher(strategy StrategyKind) (*Dispatcher, *registry.Registry, *cachemap.Map) {
	m := cachemap.New()
	reg := registry.New(0)
	d := New(blockhash.New(16, blockhash.AlgoSHA256), m, reg, strategy, 50.0, false)
	return d, reg, m
}

// Scenario 1: MISS then HIT.
func TestDispatch_MissThenHit(t *testing.T) {
	d, reg, _ := newTestDispatcher(StrategyCacheAware)
	reg.Heartbeat("w1", "", 0)
	reg.Heartbeat("w2", "", 0)

	prompt := "the quick brown fox jumps over the lazy dog and then runs far away into the woods"

	first, err := d.Dispatch(context.Background(), prompt, 0)
	require.NoError(t, err)
	assert.Equal(t, "MISS", first.CacheStatus)
	assert.Equal(t, 0, first.MatchLength)
	assert.Contains(t, []string{"w1", "w2"}, first.AssignedWorker)

	second, err := d.Dispatch(context.Background(), prompt, 0)
	require.NoError(t, err)
	assert.Equal(t, "HIT", second.CacheStatus)
	assert.Equal(t, first.AssignedWorker, second.AssignedWorker)
	assert.Equal(t, len(first.BlockHashes), second.MatchLength)
}

// Scenario 2: longest-prefix wins.
func TestDispatch_LongestPrefixWins(t *testing.T) {
	d, reg, m := newTestDispatcher(StrategyCacheAware)
	reg.Heartbeat("w1", "", 0)
	reg.Heartbeat("w2", "", 0)
	m.AddBlockSequence("w1", []string{"h1", "h2"})
	m.AddBlockSequence("w2", []string{"h1", "h2", "h3"})

	resp, err := selectDirect(d, []string{"h1", "h2", "h3", "h4"})
	require.NoError(t, err)
	assert.Equal(t, "w2", resp.AssignedWorker)
	assert.Equal(t, 3, resp.MatchLength)
	assert.Equal(t, "HIT", resp.CacheStatus)
}

// selectDirect exercises the strategy + speculative-update path without
// going through the tokenizer, so tests can supply exact hash sequences.
func selectDirect(d *Dispatcher, hashes []string) (dispatchResult, error) {
	workerID, status, matchLength, err := d.strategyFor().Select(hashes)
	if err != nil {
		return dispatchResult{}, err
	}
	d.Map.AddBlockSequence(workerID, hashes)
	d.Registry.InflateLoad(workerID, d.SpeculativeAddend)
	return dispatchResult{AssignedWorker: workerID, CacheStatus: string(status), MatchLength: matchLength}, nil
}

type dispatchResult struct {
	AssignedWorker string
	CacheStatus    string
	MatchLength    int
}

// Scenario 3: speculative anti-stampede.
func TestDispatch_SpeculativeUpdatePreventsStampede(t *testing.T) {
	d, reg, _ := newTestDispatcher(StrategyCacheAware)
	for _, id := range []string{"w1", "w2", "w3", "w4", "w5"} {
		reg.Heartbeat(id, "", 0)
	}

	prompt := "identical fresh prompt repeated many times over to fill a full cache block with enough words for sixteen tokens"

	first, err := d.Dispatch(context.Background(), prompt, 0)
	require.NoError(t, err)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		resp, err := d.Dispatch(context.Background(), prompt, 0)
		require.NoError(t, err)
		seen[resp.AssignedWorker]++
		assert.Equal(t, "HIT", resp.CacheStatus)
	}
	assert.Equal(t, 4, seen[first.AssignedWorker], "all four follow-ups land on the worker the first request sped up")
}

// Scenario 4: eviction then miss, routed by the least-loaded fallback.
func TestDispatch_EvictionThenMissFallsBackToLeastLoaded(t *testing.T) {
	d, reg, m := newTestDispatcher(StrategyCacheAware)
	reg.Heartbeat("w1", "", 0)
	reg.Heartbeat("w2", "", 5.0)
	m.AddBlockSequence("w1", []string{"h1"})

	m.RemoveBlock("w1", "h1")

	resp, err := selectDirect(d, []string{"h1"})
	require.NoError(t, err)
	assert.Equal(t, "MISS", resp.CacheStatus)
	assert.Equal(t, "w1", resp.AssignedWorker, "w1 is least loaded once the block is gone from the map")
}

// Scenario 5: round-robin distribution.
func TestDispatch_RoundRobinDistributesEvenly(t *testing.T) {
	d, reg, _ := newTestDispatcher(StrategyRoundRobin)
	reg.Heartbeat("w1", "", 0)
	reg.Heartbeat("w2", "", 0)
	reg.Heartbeat("w3", "", 0)

	seen := map[string]int{}
	for i := 0; i < 9; i++ {
		resp, err := d.Dispatch(context.Background(), "distinct prompt number", 0)
		require.NoError(t, err)
		seen[resp.AssignedWorker]++
	}
	assert.Equal(t, 3, seen["w1"])
	assert.Equal(t, 3, seen["w2"])
	assert.Equal(t, 3, seen["w3"])
}

// Scenario 6: least-loaded with ties.
func TestDispatch_LeastLoadedTiesDistributeAcrossAllWorkers(t *testing.T) {
	d, reg, _ := newTestDispatcher(StrategyLeastLoaded)
	reg.Heartbeat("w1", "", 0)
	reg.Heartbeat("w2", "", 0)
	reg.Heartbeat("w3", "", 0)

	seen := map[string]int{}
	for i := 0; i < 30; i++ {
		resp, err := d.Dispatch(context.Background(), "another distinct prompt", 0)
		require.NoError(t, err)
		seen[resp.AssignedWorker]++
	}
	for w, n := range seen {
		assert.LessOrEqualf(t, n, 11, "worker %s got %d of 30, tolerance is ceil(30/3)+1", w, n)
	}
	assert.Len(t, seen, 3)
}

func TestDispatch_NoWorkersAvailable(t *testing.T) {
	d, _, _ := newTestDispatcher(StrategyCacheAware)
	_, err := d.Dispatch(context.Background(), "anything", 0)
	assert.Error(t, err)
}

// A worker's 413 (over-capacity admission) must surface as
// apperrors.ErrRequestTooLarge, not be flattened into a generic
// bad-gateway like every other non-200 worker response.
func TestDispatch_ProxyModeRelaysWorkerRequestTooLarge(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "request_too_large", http.StatusRequestEntityTooLarge)
	}))
	defer worker.Close()

	m := cachemap.New()
	reg := registry.New(0)
	reg.Heartbeat("w1", worker.URL, 0)
	d := New(blockhash.New(16, blockhash.AlgoSHA256), m, reg, StrategyCacheAware, 50.0, true)

	_, err := d.Dispatch(context.Background(), "a prompt too large for this worker's cache", 0)
	assert.ErrorIs(t, err, apperrors.ErrRequestTooLarge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, apperrors.StatusFor(err))
}

func TestDispatch_ShortPromptIsMissWithEmptyHashes(t *testing.T) {
	d, reg, _ := newTestDispatcher(StrategyCacheAware)
	reg.Heartbeat("w1", "", 0)

	resp, err := d.Dispatch(context.Background(), "one two three", 0)
	require.NoError(t, err)
	assert.Empty(t, resp.BlockHashes)
	assert.Equal(t, "MISS", resp.CacheStatus)
	assert.Equal(t, "w1", resp.AssignedWorker)
}
