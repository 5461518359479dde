package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mankinLew/milleu-agent/apimodels"
	"github.com/mankinLew/milleu-agent/internal/workflow"
)

const anonymousUser = "anonymous"

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var in workflow.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	if strings.TrimSpace(in.InputAsText) == "" {
		writeError(w, http.StatusBadRequest, "input_as_text is required")
		return
	}

	result, err := s.runner.Run(r.Context(), in)
	if err != nil {
		slog.Error("Workflow request failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, err.Error())
		return
	}

	slog.Debug("Workflow request completed", "run_id", result.RunID, "outcome", result.Kind.String())
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req apimodels.SessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
			return
		}
	}
	user := anonymousUser
	if req.UserID != nil && *req.UserID != "" {
		user = *req.UserID
	}

	secret, err := s.sessions.CreateSession(r.Context(), user)
	if err != nil {
		slog.Error("Chat session request failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, apimodels.SessionResponse{ClientSecret: secret})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apimodels.HealthResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apimodels.ErrorResponse{Error: msg})
}
