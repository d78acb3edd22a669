package worker

import (
	"time"

	"github.com/kvrouter/kvrouter/internal/blockcache"
	"github.com/kvrouter/kvrouter/internal/blockhash"
	"github.com/kvrouter/kvrouter/internal/protocol"
)

// Config groups the knobs needed to stand up one worker node (§6
// "configuration knobs").
type Config struct {
	ID              string
	URL             string
	RouterURL       string
	BlockSize       int
	BlockCapacity   int
	Latency         LatencyConfig
	DecodeFunc      DecodeTokenPolicy
	HashAlgo        blockhash.Algo
	HeartbeatPeriod time.Duration
	SyncPeriod      time.Duration
}

// Node bundles a worker's Scheduler, HTTP surface, and Reporter — the
// three pieces a `kvrouter worker` process needs, wired together so that
// cache evictions push immediately to the router (§4.6 fast path) and
// the periodic loops report from the same live Scheduler state.
type Node struct {
	Scheduler *Scheduler
	Server    *Server
	Reporter  *protocol.Reporter
}

// NewNode constructs a fully-wired worker Node from cfg.
func NewNode(cfg Config) *Node {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = blockhash.DefaultBlockSize
	}
	if cfg.BlockCapacity <= 0 {
		cfg.BlockCapacity = DefaultBlockCapacity
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = time.Second
	}
	if cfg.SyncPeriod <= 0 {
		cfg.SyncPeriod = 5 * time.Second
	}

	cache := blockcache.New(cfg.BlockCapacity)
	scheduler := NewScheduler(cache, cfg.Latency, cfg.BlockSize, cfg.DecodeFunc)
	hasher := blockhash.New(cfg.BlockSize, cfg.HashAlgo)
	server := NewServer(scheduler, hasher)
	reporter := protocol.NewReporter(cfg.ID, cfg.URL, cfg.RouterURL, cfg.HeartbeatPeriod, cfg.SyncPeriod, scheduler)

	cache.OnEvict = func(hash string) {
		reporter.ReportEviction(hash)
	}

	return &Node{Scheduler: scheduler, Server: server, Reporter: reporter}
}

// Start launches the Node's background reporting loops. The HTTP server
// itself is started by the caller (cmd), since listener lifecycle is a
// process-level concern.
func (n *Node) Start() {
	n.Reporter.Start()
}

// Stop signals the Node's background loops to exit, without waiting for
// them (see protocol.Reporter.Stop).
func (n *Node) Stop() {
	n.Reporter.Stop()
}
