package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"portablebrain/internal/device"
)

type executionRequest struct {
	UserRequest   string `json:"user_request"`
	MaxIterations *int   `json:"max_iterations,omitempty"`
}

func (s *Server) handleOrchestratedExecution(w http.ResponseWriter, r *http.Request) {
	var req executionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserRequest) == "" {
		s.writeError(w, http.StatusBadRequest, "user_request is required")
		return
	}
	maxIterations := 0
	if req.MaxIterations != nil {
		if *req.MaxIterations < 1 {
			s.writeError(w, http.StatusBadRequest, "max_iterations must be at least 1")
			return
		}
		maxIterations = *req.MaxIterations
	}

	result, err := s.orch.Run(r.Context(), req.UserRequest, maxIterations)
	if err != nil {
		s.logger.Error("orchestrated execution failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleNoContextExecution(w http.ResponseWriter, r *http.Request) {
	var req executionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserRequest) == "" {
		s.writeError(w, http.StatusBadRequest, "user_request is required")
		return
	}

	result, err := s.execution.Execute(r.Context(), req.UserRequest, "")
	if err != nil {
		s.logger.Error("no-context execution failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleDirectExecution forwards the raw request to the device, bypassing
// both agents. Useful for calibrating how much the memory layer helps.
func (s *Server) handleDirectExecution(w http.ResponseWriter, r *http.Request) {
	var req executionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserRequest) == "" {
		s.writeError(w, http.StatusBadRequest, "user_request is required")
		return
	}

	result, err := s.driver.ExecuteCommand(r.Context(), req.UserRequest, device.ExecOptions{
		Timeout: s.cfg.GetCommandTimeout(),
	})
	if err != nil {
		s.logger.Error("direct execution failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
