package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

const defaultHistoryLimit = 20

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleStatus handles GET /v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.status.CurrentRun()
	if !ok {
		writeJSON(w, http.StatusOK, StatusResponse{})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Active: !snap.Stage.IsTerminal(),
		Run:    &snap,
	})
}

// handleHistory handles GET /v1/history?n=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.histories == nil {
		s.writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	n := defaultHistoryLimit
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}

	runs, err := s.histories.Recent(r.Context(), n)
	if err != nil {
		s.logger.Error("failed to read run history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read run history")
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Runs: runs})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
