// Package blockcache implements the per-worker KV block store: fixed
// capacity, reference counting, and priority-queue eviction. It is the
// component that makes cache-aware routing observable — the latency a
// worker reports for a task depends on how many of its blocks survive
// here between requests.
package blockcache

// Block is the atomic cache unit: the resident state for one fixed-size
// run of prompt tokens.
type Block struct {
	Hash string // opaque digest identifying this block's content and lineage

	RefCount  int   // number of live tasks depending on this block
	LastUsed  int64 // monotonic timestamp of most recent acquisition or touch
	SeqIndex  int   // ordinal position within the prompt that first produced this block; set once

	heapIndex int // position in the evictable heap; -1 once popped, 0 for a never-queued block (remove checks the slot)
}

// Evictable reports whether the block currently has no live dependents.
// Invariant: Evictable() ⇔ RefCount == 0.
func (b *Block) Evictable() bool {
	return b.RefCount == 0
}
