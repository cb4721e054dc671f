package api

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"portablebrain/internal/store"
)

func (s *Server) handleRetrievalTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserRequest string `json:"user_request"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserRequest) == "" {
		s.writeError(w, http.StatusBadRequest, "user_request is required")
		return
	}

	out, err := s.retrieval.Retrieve(r.Context(), req.UserRequest)
	if err != nil {
		s.logger.Error("retrieval test failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query        string `json:"query"`
		Limit        int    `json:"limit"`
		Metric       string `json:"metric"`
		DisableCache bool   `json:"disable_cache"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}

	start := time.Now()
	results, err := s.retriever.FindSemanticallySimilar(
		r.Context(), req.Query, req.Limit, store.DistanceMetric(req.Metric), req.DisableCache)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"query":      req.Query,
		"results":    results,
		"count":      len(results),
		"elapsed_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

func (s *Server) handleFindPersonByName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name                string  `json:"name"`
		SimilarityThreshold float64 `json:"similarity_threshold"`
		Limit               int     `json:"limit"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}

	start := time.Now()
	matches, err := s.retriever.FindPersonByName(r.Context(), req.Name, req.SimilarityThreshold, req.Limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":       req.Name,
		"results":    matches,
		"count":      len(matches),
		"elapsed_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	})
}
