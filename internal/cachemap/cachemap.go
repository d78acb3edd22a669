// Package cachemap implements the router-side Global Cache Map: a prefix
// trie plus a reverse (block hash → trie node) index that together answer
// "which worker holds the longest matching cached prefix of this request".
//
// The teacher's nearest precedent is sim.PrefixCacheIndex, a per-instance
// LRU set of block hashes used purely for scoring. This module generalizes
// that idea into the shared trie the spec requires: a single structure
// whose nodes carry the *set* of workers reaching that depth, so
// longest-prefix-match is a real trie walk with candidate-set
// intersection, not N independent per-worker lookups.
package cachemap

import "sync"

// LoadLookup resolves a worker's current load for tie-breaking among
// equally-matching candidates. The Global Cache Map does not own load
// data — it is reported by the registry — so this is injected.
type LoadLookup func(workerID string) (load float64, ok bool)

// Map is the router's shared, process-local view of which workers hold
// which cached block sequences. A single RWMutex guards both the trie and
// the reverse index (§5: "a single coarse lock is acceptable for the
// sizes contemplated").
//
// Block hashes here are cumulative (blockhash.Hasher digests the entire
// prefix up to and including each block), so a given hash value denotes
// exactly one trie node regardless of which worker or request produced
// it. That makes the reverse index a direct hash → *trieNode map rather
// than a hash → worker-set approximation, giving RemoveBlock true O(1)
// node lookup as specified in §4.4.
type Map struct {
	mu    sync.RWMutex
	root  *trieNode
	rev   map[string]*trieNode // block hash -> the node it was inserted at
	rrCtr uint64               // round-robin pointer for load ties
}

// New creates an empty Global Cache Map.
func New() *Map {
	return &Map{
		root: newTrieNode(nil, ""),
		rev:  make(map[string]*trieNode),
	}
}

// AddBlockSequence records that worker holds the ordered block sequence,
// extending the trie path and updating the reverse index for every hash
// touched.
func (m *Map) AddBlockSequence(workerID string, sequence []string) {
	if len(sequence) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.root
	for _, hash := range sequence {
		child, ok := node.children[hash]
		if !ok {
			child = newTrieNode(node, hash)
			node.children[hash] = child
			m.rev[hash] = child
		}
		child.workers[workerID] = struct{}{}
		node = child
	}
}

// LongestPrefixMatch walks the trie one hash at a time, intersecting the
// running candidate set with each node's worker set, stopping when the
// candidate set empties or the sequence is exhausted. Among the final
// candidates it picks the least-loaded, round-robining across load ties.
// Returns ("", 0) if no prefix matches at all.
func (m *Map) LongestPrefixMatch(sequence []string, loads LoadLookup) (workerID string, matchLength int) {
	m.mu.Lock() // round-robin tiebreak mutates state, so a write lock throughout
	defer m.mu.Unlock()

	node := m.root
	var running map[string]struct{}
	depth := 0
	for _, hash := range sequence {
		child, ok := node.children[hash]
		if !ok {
			break
		}
		next := make(map[string]struct{})
		for w := range child.workers {
			if _, keep := running[w]; running == nil || keep {
				next[w] = struct{}{}
			}
		}
		if len(next) == 0 {
			break
		}
		running = next
		node = child
		depth++
	}
	if depth == 0 {
		return "", 0
	}

	candidates := make([]string, 0, len(running))
	for w := range running {
		candidates = append(candidates, w)
	}
	return m.pickLeastLoaded(candidates, loads), depth
}

// pickLeastLoaded selects the least-loaded worker among candidates,
// round-robining across ties on load (and across all candidates when no
// load data is available at all). Candidates are sorted first so the
// round-robin pointer advances deterministically regardless of map
// iteration order.
func (m *Map) pickLeastLoaded(candidates []string, loads LoadLookup) string {
	sortStrings(candidates)

	if loads == nil {
		return m.rotate(candidates)
	}

	minLoad := 0.0
	tied := candidates[:0:0]
	for _, w := range candidates {
		load, ok := loads(w)
		if !ok {
			continue
		}
		switch {
		case len(tied) == 0 || load < minLoad:
			minLoad = load
			tied = append(tied[:0], w)
		case load == minLoad:
			tied = append(tied, w)
		}
	}
	if len(tied) == 0 {
		// No candidate had known load; fall back to plain round-robin.
		return m.rotate(candidates)
	}
	return m.rotate(tied)
}

func (m *Map) rotate(pool []string) string {
	m.rrCtr++
	return pool[(m.rrCtr-1)%uint64(len(pool))]
}

// RemoveBlock removes workerID from the trie node for hash — found in
// O(1) via the reverse index — and prunes any node left with no workers
// and no children, walking up through parents as pruning cascades. A
// remove for a hash the worker never held, or that has already been
// removed, is a no-op (§8 idempotence).
func (m *Map) RemoveBlock(workerID, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.rev[hash]
	if !ok {
		return
	}
	if _, present := node.workers[workerID]; !present {
		return
	}
	delete(node.workers, workerID)
	m.pruneUpward(node, hash)
}

// pruneUpward removes now-empty nodes starting at node and walking toward
// the root, stopping as soon as a node still has workers or children.
func (m *Map) pruneUpward(node *trieNode, hash string) {
	for node != nil && node.parent != nil && node.empty() {
		parent := node.parent
		delete(parent.children, node.parentKey)
		delete(m.rev, node.parentKey)
		node = parent
	}
	_ = hash
}

// SyncWorkerState replaces the router's belief about workerID with the
// given authoritative set of resident hashes (§4.4 anti-entropy). It
// computes stale = current − authoritative and applies RemoveBlock for
// each, then adds any given ordered sequences (needed to reconstruct
// trie structure — a bare set cannot reconstruct positional prefixes).
// If sequences is empty, every authoritative hash is recorded through
// addMembershipByHashOnly: on the hash's existing trie node if there is
// one, otherwise as a single-hash root-level entry — a degraded,
// non-positional membership check rather than a true prefix match (§9
// open question).
func (m *Map) SyncWorkerState(workerID string, authoritative map[string]struct{}, sequences [][]string) {
	for h := range m.workerHashes(workerID) {
		if _, ok := authoritative[h]; !ok {
			m.RemoveBlock(workerID, h)
		}
	}
	for _, seq := range sequences {
		m.AddBlockSequence(workerID, seq)
	}
	if len(sequences) == 0 {
		for h := range authoritative {
			m.addMembershipByHashOnly(workerID, h)
		}
	}
}

// addMembershipByHashOnly records workerID against hash without
// positional context. If a real trie node already exists for hash (from
// some sequence, possibly reported by another worker), membership is
// added there directly so the existing position is preserved; otherwise
// a degraded root-level entry is created.
func (m *Map) addMembershipByHashOnly(workerID, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if node, ok := m.rev[hash]; ok {
		node.workers[workerID] = struct{}{}
		return
	}
	child := newTrieNode(m.root, hash)
	m.root.children[hash] = child
	m.rev[hash] = child
	child.workers[workerID] = struct{}{}
}

// workerHashes returns every hash currently attributed to workerID,
// scanning the reverse index. O(number of distinct hashes known
// router-wide); acceptable for anti-entropy, which already runs on a
// multi-second period (§4.6).
func (m *Map) workerHashes(workerID string) map[string]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]struct{})
	for h, node := range m.rev {
		if _, ok := node.workers[workerID]; ok {
			out[h] = struct{}{}
		}
	}
	return out
}

// WorkersForHash returns the set of workers the reverse index currently
// attributes hash to. Exposed for consistency-invariant testing (§8).
func (m *Map) WorkersForHash(hash string) map[string]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]struct{})
	node, ok := m.rev[hash]
	if !ok {
		return out
	}
	for w := range node.workers {
		out[w] = struct{}{}
	}
	return out
}

func sortStrings(s []string) {
	// small-N insertion sort: candidate sets are bounded by live worker
	// count, never large enough to warrant sort.Strings' overhead, and
	// avoiding the import keeps this file's dependency surface minimal.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
