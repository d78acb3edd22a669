package worker

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kvrouter/kvrouter/internal/apperrors"
	"github.com/kvrouter/kvrouter/internal/blockhash"
	"github.com/kvrouter/kvrouter/internal/protocol"
)

// Server is a worker's proxy-mode HTTP surface (§6): it accepts a
// forwarded completion request, admits it to the local Scheduler, and
// blocks for the modeled latency before responding — standing in for
// the real inference engine, which is out of scope (§1).
type Server struct {
	Scheduler *Scheduler
	Hasher    *blockhash.Hasher

	// Sleep is the modeled-latency wait function; overridable in tests so
	// they don't block for real milliseconds.
	Sleep func(d time.Duration)
}

// NewServer wires a worker's HTTP surface around an already-configured
// Scheduler and Hasher.
func NewServer(scheduler *Scheduler, hasher *blockhash.Hasher) *Server {
	return &Server{Scheduler: scheduler, Hasher: hasher, Sleep: time.Sleep}
}

// Handler builds the worker's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/completions", s.handleCompletions)
	return mux
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req protocol.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	tokens := blockhash.Tokenize(req.Prompt)
	result, err := s.Hasher.HashTokens(tokens)
	if err != nil {
		result = blockhash.Result{}
	}

	requestID := uuid.NewString()
	task, err := s.Scheduler.Admit(requestID, result.BlockHashes, result.TotalTokens)
	if err != nil {
		logrus.WithError(err).WithField("request_id", requestID).Warn("admission failed")
		http.Error(w, err.Error(), apperrors.StatusFor(err))
		return
	}

	s.Sleep(time.Duration(task.TotalLatencyMS()) * time.Millisecond)
	s.Scheduler.Complete(requestID)

	writeJSON(w, protocol.WorkerCompletionResponse{
		RequestID:        requestID,
		CompletionTokens: task.DecodeTokens,
		PrefillMS:        task.PrefillMS,
		DecodeMS:         task.DecodeMS,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("failed to encode response body")
	}
}
