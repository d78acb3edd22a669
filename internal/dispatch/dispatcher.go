// Package dispatch implements the router's request path: hash the
// prompt, pick a worker via the configured Strategy, apply the
// speculative update that prevents a thundering herd, and either return
// the decision (simulation mode) or forward the request and relay the
// worker's response (proxy mode).
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kvrouter/kvrouter/internal/apperrors"
	"github.com/kvrouter/kvrouter/internal/blockhash"
	"github.com/kvrouter/kvrouter/internal/cachemap"
	"github.com/kvrouter/kvrouter/internal/protocol"
	"github.com/kvrouter/kvrouter/internal/registry"
)

// StrategyKind names the enum §4.5 configures the dispatcher with.
type StrategyKind string

const (
	StrategyCacheAware  StrategyKind = "cache_aware"
	StrategyRoundRobin  StrategyKind = "round_robin"
	StrategyLeastLoaded StrategyKind = "least_loaded"
)

// SpeculativeAddend is the default anti-stampede load estimate applied
// to a worker immediately after it is chosen (§4.5, §9). It is a
// configuration knob, not a fixed constant.
const SpeculativeAddend = 50.0

// Dispatcher orchestrates one request through hashing, strategy
// selection, speculative update, and optional proxy forwarding.
type Dispatcher struct {
	Hasher   *blockhash.Hasher
	Map      *cachemap.Map
	Registry *registry.Registry

	Strategy          StrategyKind
	SpeculativeAddend float64
	ProxyMode         bool

	HTTPClient *http.Client
}

// New constructs a Dispatcher with the corpus's usual HTTP client
// timeout default and the given speculative addend (0 selects
// SpeculativeAddend).
func New(hasher *blockhash.Hasher, m *cachemap.Map, reg *registry.Registry, strategy StrategyKind, speculativeAddend float64, proxyMode bool) *Dispatcher {
	if speculativeAddend == 0 {
		speculativeAddend = SpeculativeAddend
	}
	return &Dispatcher{
		Hasher:            hasher,
		Map:               m,
		Registry:          reg,
		Strategy:          strategy,
		SpeculativeAddend: speculativeAddend,
		ProxyMode:         proxyMode,
		HTTPClient:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *Dispatcher) strategyFor() Strategy {
	switch d.Strategy {
	case StrategyRoundRobin:
		return &RoundRobin{Registry: d.Registry}
	case StrategyLeastLoaded:
		return &LeastLoaded{Registry: d.Registry}
	default:
		return &CacheAware{Map: d.Map, Registry: d.Registry}
	}
}

// Dispatch runs the full request path for one prompt. ctx carries the
// caller's deadline (§5 "Cancellation and timeouts"); a proxy-mode
// forward that misses the deadline returns apperrors.ErrTimeout.
func (d *Dispatcher) Dispatch(ctx context.Context, prompt string, maxTokens int) (protocol.CompletionResponse, error) {
	tokens := blockhash.Tokenize(prompt)
	result, err := d.Hasher.HashTokens(tokens)
	if err != nil {
		if !errors.Is(err, blockhash.ErrEmptyInput) {
			return protocol.CompletionResponse{}, fmt.Errorf("dispatch: hash prompt: %w", err)
		}
		result = blockhash.Result{}
	}

	if len(d.Registry.Live()) == 0 {
		return protocol.CompletionResponse{}, apperrors.ErrNoWorkersAvailable
	}

	workerID, status, matchLength, err := d.strategyFor().Select(result.BlockHashes)
	if err != nil {
		return protocol.CompletionResponse{}, err
	}

	// Speculative update (§4.5 step 3): make this decision visible to the
	// very next concurrent request before any response comes back, and
	// inflate load so a burst of identical requests doesn't scatter.
	if len(result.BlockHashes) > 0 {
		d.Map.AddBlockSequence(workerID, result.BlockHashes)
	}
	d.Registry.InflateLoad(workerID, d.SpeculativeAddend)

	resp := protocol.CompletionResponse{
		AssignedWorker: workerID,
		Status:         "simulated",
		BlockHashes:    result.BlockHashes,
		MatchLength:    matchLength,
		CacheStatus:    string(status),
	}

	if !d.ProxyMode {
		return resp, nil
	}

	forwarded, err := d.forward(ctx, workerID, prompt, maxTokens)
	if err != nil {
		return protocol.CompletionResponse{}, err
	}
	resp.Status = "forwarded"
	resp.Forwarded = forwarded
	return resp, nil
}

func (d *Dispatcher) forward(ctx context.Context, workerID, prompt string, maxTokens int) (*protocol.WorkerCompletionResponse, error) {
	url, ok := d.Registry.URL(workerID)
	if !ok {
		return nil, fmt.Errorf("dispatch: no url registered for worker %s: %w", workerID, apperrors.ErrWorkerUnreachable)
	}

	body, err := json.Marshal(protocol.CompletionRequest{Prompt: prompt, MaxTokens: maxTokens})
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal forward request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dispatch: build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dispatch: forward to %s: %w", workerID, apperrors.ErrTimeout)
		}
		return nil, fmt.Errorf("dispatch: forward to %s: %w", workerID, apperrors.ErrWorkerUnreachable)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		return nil, fmt.Errorf("dispatch: worker %s: %w", workerID, apperrors.ErrRequestTooLarge)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dispatch: worker %s returned status %d: %w", workerID, resp.StatusCode, apperrors.ErrWorkerUnreachable)
	}

	var out protocol.WorkerCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("dispatch: decode worker response: %w", err)
	}
	return &out, nil
}
