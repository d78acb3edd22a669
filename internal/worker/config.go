// Package worker implements the per-worker Scheduler: task admission
// against the block cache, the piecewise prefill/decode latency model, and
// current_load accounting.
package worker

// LatencyConfig groups the latency-model constants of §4.3. All are
// configuration knobs, not invariants — an operator may retune them per
// deployment.
type LatencyConfig struct {
	PrefillBaseMS     float64
	PrefillPerBlockMS float64
	DecodePerTokenMS  float64
}

// DefaultLatencyConfig returns the reference configuration's constants.
func DefaultLatencyConfig() LatencyConfig {
	return LatencyConfig{
		PrefillBaseMS:     5.0,
		PrefillPerBlockMS: 2.5,
		DecodePerTokenMS:  15.0,
	}
}

// DefaultBlockCapacity is the reference N_BLOCKS configuration.
const DefaultBlockCapacity = 924
