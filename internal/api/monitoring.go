package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"portablebrain/internal/tracker"
	"portablebrain/internal/types"
)

func (s *Server) handleMonitoringStart(w http.ResponseWriter, r *http.Request) {
	interval := s.cfg.GetPollInterval()
	if raw := r.URL.Query().Get("poll_interval"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "poll_interval must be a number of seconds")
			return
		}
		if secs <= 0 {
			s.writeError(w, http.StatusBadRequest, "poll_interval must be positive")
			return
		}
		interval = time.Duration(secs * float64(time.Second))
	}

	if err := s.tracker.Start(interval); err != nil {
		if errors.Is(err, tracker.ErrAlreadyRunning) {
			s.writeError(w, http.StatusConflict, "monitoring is already running")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("monitoring started", zap.Duration("poll_interval", interval))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":                "started",
		"poll_interval_seconds": interval.Seconds(),
	})
}

func (s *Server) handleMonitoringStop(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.Stop(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleMonitoringPause(w http.ResponseWriter, _ *http.Request) {
	wasRunning := s.tracker.Pause()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "paused",
		"was_running": wasRunning,
	})
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if n < 0 {
		return 0
	}
	return n
}

func (s *Server) handleGetObservations(w http.ResponseWriter, r *http.Request) {
	obs := s.tracker.Observations(queryLimit(r))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"observations": obs,
		"count":        len(obs),
	})
}

func (s *Server) handleGetStateChanges(w http.ResponseWriter, r *http.Request) {
	changeType := types.ChangeType(r.URL.Query().Get("change_type"))
	switch changeType {
	case "", types.ChangeAppSwitch, types.ChangeChanged:
	default:
		s.writeError(w, http.StatusBadRequest, "change_type must be APP_SWITCH or CHANGED")
		return
	}

	changes := s.tracker.StateChanges(queryLimit(r), changeType)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"state_changes": changes,
		"count":         len(changes),
	})
}

func (s *Server) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps := s.tracker.StateSnapshots(queryLimit(r))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

func (s *Server) handleMonitoringOverview(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.MonitoringOverview())
}
