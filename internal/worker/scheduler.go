package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kvrouter/kvrouter/internal/apperrors"
	"github.com/kvrouter/kvrouter/internal/blockcache"
)

// DecodeTokenPolicy resolves how many tokens to generate for a task. The
// real inference engine is out of scope (§1); the contract only requires
// a positive integer. FixedDecodeTokens is the default; a small-model
// stand-in is a declared seam, not implemented here (§4.3).
type DecodeTokenPolicy interface {
	DecodeTokens(requestID string, blockHashes []string) int
}

// FixedDecodeTokens always returns the same decode length.
type FixedDecodeTokens int

func (f FixedDecodeTokens) DecodeTokens(string, []string) int {
	if f <= 0 {
		return 1
	}
	return int(f)
}

// Scheduler admits one Task per inbound request against a worker's block
// cache, computes its latency, and tracks current_load as the sum of
// remaining estimated latency across active tasks (§4.3). All mutations
// are serialized by mu, matching §5 ("Worker-side Block Cache is owned by
// its worker process; all mutations... are serialized per worker").
type Scheduler struct {
	mu sync.Mutex

	Cache      *blockcache.Cache
	Latency    LatencyConfig
	BlockSize  int
	DecodeFunc DecodeTokenPolicy

	active map[string]*activeTask
	now    func() time.Time
}

type activeTask struct {
	task        *Task
	remainingMS float64
	admittedAt  time.Time
}

// NewScheduler creates a Scheduler backed by cache, using cfg for latency
// constants and blockSize tokens per block.
func NewScheduler(cache *blockcache.Cache, cfg LatencyConfig, blockSize int, decodeFunc DecodeTokenPolicy) *Scheduler {
	if decodeFunc == nil {
		decodeFunc = FixedDecodeTokens(64)
	}
	return &Scheduler{
		Cache:      cache,
		Latency:    cfg,
		BlockSize:  blockSize,
		DecodeFunc: decodeFunc,
		active:     make(map[string]*activeTask),
		now:        time.Now,
	}
}

// ErrDuplicateRequest is returned when Admit is called twice for the same
// request ID without an intervening Complete.
var ErrDuplicateRequest = fmt.Errorf("worker: request already admitted")

// Admit allocates blocks for requestID's block-hash sequence, computes the
// piecewise latency of §4.3, and adds the task to current_load. Returns
// apperrors.ErrRequestTooLarge if the sequence exceeds cache capacity.
func (s *Scheduler) Admit(requestID string, blockHashes []string, totalTokens int) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.active[requestID]; dup {
		return nil, ErrDuplicateRequest
	}

	numCached, _, err := s.Cache.Allocate(blockHashes)
	if err != nil {
		if errors.Is(err, blockcache.ErrCapacityExceeded) {
			return nil, fmt.Errorf("%w: %d blocks requested", apperrors.ErrRequestTooLarge, len(blockHashes))
		}
		return nil, err
	}

	decodeTokens := s.DecodeFunc.DecodeTokens(requestID, blockHashes)
	if decodeTokens <= 0 {
		decodeTokens = 1
	}

	blocksToCompute := len(blockHashes) - numCached
	prefillMS := s.Latency.PrefillBaseMS + float64(blocksToCompute)*s.Latency.PrefillPerBlockMS

	// Cache-miss-within-decode (§4.3): full blocks the decode phase
	// produces beyond the admitted prompt are charged at the prefill
	// per-block rate, folded into the same prefill_ms term so the whole
	// model stays one piecewise formula rather than two code paths.
	extraBlocks := 0
	if s.BlockSize > 0 {
		extraBlocks = decodeTokens / s.BlockSize
	}
	prefillMS += float64(extraBlocks) * s.Latency.PrefillPerBlockMS

	decodeMS := float64(decodeTokens) * s.Latency.DecodePerTokenMS

	task := &Task{
		RequestID:          requestID,
		BlockHashes:        blockHashes,
		TotalTokens:        totalTokens,
		NumCachedAtIngress: numCached,
		DecodeTokens:       decodeTokens,
		BlocksToCompute:    blocksToCompute,
		State:              StateRunning,
		PrefillMS:          prefillMS,
		DecodeMS:           decodeMS,
	}

	s.active[requestID] = &activeTask{
		task:        task,
		remainingMS: task.TotalLatencyMS(),
		admittedAt:  s.now(),
	}
	return task, nil
}

// Complete releases requestID's blocks back to the cache and removes it
// from current_load accounting. Completing an unknown or already-completed
// request is a no-op.
func (s *Scheduler) Complete(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.active[requestID]
	if !ok {
		return
	}
	at.task.State = StateComplete
	s.Cache.Release(at.task.BlockHashes)
	delete(s.active, requestID)
}

// CurrentLoad reports the sum of remaining estimated latency across
// active tasks, in milliseconds (§4.3: "monotonically non-increasing
// between admissions"). Remaining latency is estimated by wall-clock
// elapsed since admission, floored at zero.
func (s *Scheduler) CurrentLoad() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	total := 0.0
	for _, at := range s.active {
		elapsed := float64(now.Sub(at.admittedAt).Milliseconds())
		remaining := at.remainingMS - elapsed
		if remaining < 0 {
			remaining = 0
		}
		total += remaining
	}
	return total
}

// ActiveCount returns the number of in-flight tasks.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Hashes returns the block hashes currently resident in the underlying
// cache, satisfying protocol.LoadSource for the worker's sync report.
func (s *Scheduler) Hashes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Cache.Hashes()
}

// SetClock overrides the scheduler's time source; test-only seam.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
