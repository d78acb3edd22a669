package blockcache

import "container/heap"

// evictableQueue is a min-priority queue over evictable blocks, ordered by
// (LastUsed ascending, SeqIndex descending, Hash ascending) — the tie-break
// specified in §4.2: among blocks last used at the same time, the one
// deeper into the prompt is evicted first because it protects a shorter,
// more broadly shared prefix.
//
// Grounded on the teacher's cluster.EventHeap: a container/heap.Interface
// wrapper with a deterministic Less, generalized here to block eviction
// ordering instead of event-timestamp ordering.
type evictableQueue struct {
	blocks []*Block
}

func newEvictableQueue() *evictableQueue {
	q := &evictableQueue{}
	heap.Init(q)
	return q
}

func (q *evictableQueue) Len() int { return len(q.blocks) }

func (q *evictableQueue) Less(i, j int) bool {
	bi, bj := q.blocks[i], q.blocks[j]
	if bi.LastUsed != bj.LastUsed {
		return bi.LastUsed < bj.LastUsed
	}
	if bi.SeqIndex != bj.SeqIndex {
		return bi.SeqIndex > bj.SeqIndex // larger sequence index evicted first
	}
	return bi.Hash < bj.Hash
}

func (q *evictableQueue) Swap(i, j int) {
	q.blocks[i], q.blocks[j] = q.blocks[j], q.blocks[i]
	q.blocks[i].heapIndex = i
	q.blocks[j].heapIndex = j
}

func (q *evictableQueue) Push(x any) {
	b := x.(*Block)
	b.heapIndex = len(q.blocks)
	q.blocks = append(q.blocks, b)
}

func (q *evictableQueue) Pop() any {
	old := q.blocks
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.heapIndex = -1
	q.blocks = old[:n-1]
	return b
}

// push inserts a block into the queue.
func (q *evictableQueue) push(b *Block) {
	heap.Push(q, b)
}

// remove detaches a block from the queue given its last known heap index.
// No-op if the block is not currently queued.
func (q *evictableQueue) remove(b *Block) {
	if b.heapIndex < 0 || b.heapIndex >= len(q.blocks) || q.blocks[b.heapIndex] != b {
		return
	}
	heap.Remove(q, b.heapIndex)
}

// popEvictable pops blocks until it finds one that is still genuinely
// evictable (RefCount == 0), discarding stale entries along the way. Stale
// entries occur when a block's RefCount transitions 0→1 without an
// explicit removal keeping heap and truth in lockstep at all times (§9).
// Returns nil if the queue holds no valid evictable block.
func (q *evictableQueue) popEvictable() *Block {
	for q.Len() > 0 {
		b := heap.Pop(q).(*Block)
		if b.Evictable() {
			return b
		}
		// stale: RefCount was bumped without a corresponding remove(); drop it.
	}
	return nil
}
