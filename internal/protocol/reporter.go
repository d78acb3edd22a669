package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LoadSource supplies the values a Reporter pushes upstream.
type LoadSource interface {
	CurrentLoad() float64
	Hashes() []string
}

// Reporter drives a worker's half of the Consistency Protocol (§4.6):
// periodic heartbeat and sync loops plus immediate, best-effort eviction
// pushes, all against a router base URL. Loops run on their own
// goroutines and stop deterministically when stopCh closes, following
// the ticker/stopCh shape used elsewhere in this corpus for background
// work.
type Reporter struct {
	WorkerID  string
	WorkerURL string
	RouterURL string

	HeartbeatPeriod time.Duration
	SyncPeriod      time.Duration

	Source LoadSource
	Client *http.Client

	stopCh chan struct{}
}

// NewReporter constructs a Reporter with the corpus's usual HTTP client
// timeout defaults.
func NewReporter(workerID, workerURL, routerURL string, heartbeatPeriod, syncPeriod time.Duration, source LoadSource) *Reporter {
	return &Reporter{
		WorkerID:        workerID,
		WorkerURL:       workerURL,
		RouterURL:       routerURL,
		HeartbeatPeriod: heartbeatPeriod,
		SyncPeriod:      syncPeriod,
		Source:          source,
		Client:          &http.Client{Timeout: 5 * time.Second},
		stopCh:          make(chan struct{}),
	}
}

// Start launches the heartbeat and sync loops. Safe to call once.
func (r *Reporter) Start() {
	go r.loop(r.HeartbeatPeriod, r.sendHeartbeat)
	go r.loop(r.SyncPeriod, r.sendSync)
}

// Stop signals both background loops to exit. It returns without waiting
// for them, so a report already in progress may finish after Stop returns.
func (r *Reporter) Stop() {
	close(r.stopCh)
}

func (r *Reporter) loop(period time.Duration, do func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			do()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reporter) sendHeartbeat() {
	msg := HeartbeatMessage{
		WorkerID:    r.WorkerID,
		CurrentLoad: r.Source.CurrentLoad(),
		WorkerURL:   r.WorkerURL,
	}
	if err := r.post("/internal/heartbeat", msg); err != nil {
		logrus.WithError(err).WithField("worker_id", r.WorkerID).Warn("heartbeat report failed, will retry next period")
	}
}

func (r *Reporter) sendSync() {
	msg := SyncMessage{
		WorkerID:     r.WorkerID,
		CachedHashes: r.Source.Hashes(),
	}
	if err := r.post("/internal/sync", msg); err != nil {
		logrus.WithError(err).WithField("worker_id", r.WorkerID).Warn("sync report failed, will retry next period")
	}
}

// ReportEviction pushes a single evicted block hash immediately,
// best-effort. Failures are logged and dropped; the next sync corrects
// the router's view (§7 "transient network error").
func (r *Reporter) ReportEviction(blockHash string) {
	msg := EvictionMessage{WorkerID: r.WorkerID, BlockHash: blockHash}
	if err := r.post("/internal/evict", msg); err != nil {
		logrus.WithError(err).WithField("worker_id", r.WorkerID).Warn("eviction report failed, dropping (best-effort)")
	}
}

func (r *Reporter) post(path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("protocol: marshal %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.Client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.RouterURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("protocol: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("protocol: send %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("protocol: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
