package cachemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLongestPrefixMatch_NoMatch(t *testing.T) {
	m := New()
	worker, depth := m.LongestPrefixMatch([]string{"h1", "h2"}, nil)
	assert.Empty(t, worker)
	assert.Equal(t, 0, depth)
}

func TestAddAndLongestPrefixMatch_ExactWorker(t *testing.T) {
	m := New()
	m.AddBlockSequence("w1", []string{"h1", "h2"})

	worker, depth := m.LongestPrefixMatch([]string{"h1", "h2", "h3"}, nil)
	assert.Equal(t, "w1", worker)
	assert.Equal(t, 2, depth)
}

func TestLongestPrefixMatch_LongestPrefixWins(t *testing.T) {
	m := New()
	m.AddBlockSequence("w1", []string{"h1", "h2"})
	m.AddBlockSequence("w2", []string{"h1", "h2", "h3"})

	worker, depth := m.LongestPrefixMatch([]string{"h1", "h2", "h3", "h4"}, nil)
	assert.Equal(t, "w2", worker)
	assert.Equal(t, 3, depth)
}

func TestLongestPrefixMatch_TieBreaksLeastLoaded(t *testing.T) {
	m := New()
	m.AddBlockSequence("w1", []string{"h1"})
	m.AddBlockSequence("w2", []string{"h1"})

	loads := func(id string) (float64, bool) {
		if id == "w2" {
			return 1.0, true
		}
		return 5.0, true
	}
	worker, depth := m.LongestPrefixMatch([]string{"h1"}, loads)
	assert.Equal(t, "w2", worker)
	assert.Equal(t, 1, depth)
}

func TestLongestPrefixMatch_LoadTieRotatesRoundRobin(t *testing.T) {
	m := New()
	m.AddBlockSequence("w1", []string{"h1"})
	m.AddBlockSequence("w2", []string{"h1"})
	loads := func(id string) (float64, bool) { return 0, true }

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		w, _ := m.LongestPrefixMatch([]string{"h1"}, loads)
		seen[w]++
	}
	assert.Equal(t, 2, seen["w1"])
	assert.Equal(t, 2, seen["w2"])
}

func TestRemoveBlock_PrunesEmptyNodesUpward(t *testing.T) {
	m := New()
	m.AddBlockSequence("w1", []string{"h1", "h2"})

	m.RemoveBlock("w1", "h2")
	assert.Empty(t, m.WorkersForHash("h2"))
	// h1 still holds w1
	assert.Contains(t, m.WorkersForHash("h1"), "w1")

	m.RemoveBlock("w1", "h1")
	assert.Empty(t, m.WorkersForHash("h1"))

	worker, depth := m.LongestPrefixMatch([]string{"h1", "h2"}, nil)
	assert.Empty(t, worker)
	assert.Equal(t, 0, depth)
}

func TestRemoveBlock_UnknownIsNoop(t *testing.T) {
	m := New()
	assert.NotPanics(t, func() {
		m.RemoveBlock("ghost", "nohash")
	})
}

func TestRemoveBlock_Idempotent(t *testing.T) {
	m := New()
	m.AddBlockSequence("w1", []string{"h1"})
	m.RemoveBlock("w1", "h1")
	assert.NotPanics(t, func() {
		m.RemoveBlock("w1", "h1")
	})
	assert.Empty(t, m.WorkersForHash("h1"))
}

func TestSyncWorkerState_RemovesStaleAddsFresh(t *testing.T) {
	m := New()
	m.AddBlockSequence("w1", []string{"h1", "h2"})

	m.SyncWorkerState("w1", map[string]struct{}{"h3": {}}, [][]string{{"h3"}})

	assert.Empty(t, m.WorkersForHash("h1"))
	assert.Empty(t, m.WorkersForHash("h2"))
	assert.Contains(t, m.WorkersForHash("h3"), "w1")
}

func TestSyncWorkerState_Idempotent(t *testing.T) {
	m := New()
	authoritative := map[string]struct{}{"h1": {}, "h2": {}}
	seqs := [][]string{{"h1", "h2"}}

	m.SyncWorkerState("w1", authoritative, seqs)
	firstMatch, firstDepth := m.LongestPrefixMatch([]string{"h1", "h2"}, nil)

	m.SyncWorkerState("w1", authoritative, seqs)
	secondMatch, secondDepth := m.LongestPrefixMatch([]string{"h1", "h2"}, nil)

	assert.Equal(t, firstMatch, secondMatch)
	assert.Equal(t, firstDepth, secondDepth)
	assert.Equal(t, 2, secondDepth)
}

func TestSyncWorkerState_SetsOnlyDegradesToMembership(t *testing.T) {
	m := New()
	m.SyncWorkerState("w1", map[string]struct{}{"h5": {}}, nil)
	assert.Contains(t, m.WorkersForHash("h5"), "w1")
}

func TestReverseIndexCoherentWithTrie(t *testing.T) {
	m := New()
	m.AddBlockSequence("w1", []string{"h1", "h2", "h3"})
	m.AddBlockSequence("w2", []string{"h1", "h2"})

	for _, h := range []string{"h1", "h2", "h3"} {
		node, ok := m.rev[h]
		assert.True(t, ok)
		for w := range node.workers {
			assert.Contains(t, m.WorkersForHash(h), w)
		}
	}
}
