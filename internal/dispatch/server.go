package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/kvrouter/kvrouter/internal/apperrors"
	"github.com/kvrouter/kvrouter/internal/cachemap"
	"github.com/kvrouter/kvrouter/internal/protocol"
	"github.com/kvrouter/kvrouter/internal/registry"
)

// Server exposes the router's external interfaces (§6): the
// client-facing completions endpoint and the three internal protocol
// endpoints workers push to. Built on the standard library's
// http.ServeMux — no third-party HTTP framework appears anywhere in
// this corpus, so there is nothing to generalize from here (DESIGN.md).
type Server struct {
	Dispatcher *Dispatcher
	Registry   *registry.Registry
	Map        *cachemap.Map
}

// NewServer constructs a Server; Handler builds its ServeMux.
func NewServer(d *Dispatcher, reg *registry.Registry, m *cachemap.Map) *Server {
	return &Server{Dispatcher: d, Registry: reg, Map: m}
}

// Handler builds the router's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/completions", s.handleCompletions)
	mux.HandleFunc("/internal/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/internal/evict", s.handleEvict)
	mux.HandleFunc("/internal/sync", s.handleSync)
	return mux
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req protocol.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	resp, err := s.Dispatcher.Dispatch(r.Context(), req.Prompt, req.MaxTokens)
	if err != nil {
		logrus.WithError(err).WithField("prompt_len", len(req.Prompt)).Warn("dispatch failed")
		http.Error(w, err.Error(), apperrors.StatusFor(err))
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var msg protocol.HeartbeatMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "malformed heartbeat", http.StatusBadRequest)
		return
	}
	s.Registry.Heartbeat(msg.WorkerID, msg.WorkerURL, msg.CurrentLoad)
	writeJSON(w, protocol.AckResponse{OK: true})
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	var msg protocol.EvictionMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "malformed eviction", http.StatusBadRequest)
		return
	}
	s.Map.RemoveBlock(msg.WorkerID, msg.BlockHash)
	writeJSON(w, protocol.AckResponse{OK: true})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var msg protocol.SyncMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "malformed sync", http.StatusBadRequest)
		return
	}
	authoritative := make(map[string]struct{}, len(msg.CachedHashes))
	for _, h := range msg.CachedHashes {
		authoritative[h] = struct{}{}
	}
	s.Map.SyncWorkerState(msg.WorkerID, authoritative, msg.Sequences)
	writeJSON(w, protocol.AckResponse{OK: true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("failed to encode response body")
	}
}
