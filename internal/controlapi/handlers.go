package controlapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cortexmesh/cortex-id/internal/registry"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("GET /registry", s.handleRegistry)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	var req sendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	msg := registry.CommunicatorMessage{
		Sender:    "API_Interface",
		Payload:   req.Query,
		Timestamp: uint64(time.Now().UnixMilli()),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode message")
		return
	}

	if err := s.runtime.Inject(r.Context(), payload); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to publish message: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, sendResponse{Response: "Message envoyé avec succès"})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	data, err := s.registry.SnapshotJSON(time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to render registry snapshot")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg})
}
