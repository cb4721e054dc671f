// Package api exposes the HTTP surface: monitoring lifecycle, the execution
// and retrieval test endpoints, and the health probe.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"portablebrain/internal/agent"
	"portablebrain/internal/config"
	"portablebrain/internal/device"
	"portablebrain/internal/embedding"
	"portablebrain/internal/retriever"
	"portablebrain/internal/store"
	"portablebrain/internal/tracker"
)

type orchestratorRunner interface {
	Run(ctx context.Context, userRequest string, maxIterations int) (*agent.Result, error)
}

type retrievalRunner interface {
	Retrieve(ctx context.Context, prompt string) (*agent.MemoryRetrievalOutput, error)
}

type executionRunner interface {
	Execute(ctx context.Context, userRequest, contextSummary string) (*agent.ExecutionResult, error)
}

type llmPinger interface {
	Ping(ctx context.Context) error
}

// Server wires the HTTP handlers to the service components.
type Server struct {
	cfg       *config.Config
	tracker   *tracker.Tracker
	orch      orchestratorRunner
	retrieval retrievalRunner
	execution executionRunner
	retriever *retriever.Retriever
	store     *store.Store
	driver    device.Driver
	engine    embedding.Engine
	llm       llmPinger
	logger    *zap.Logger
}

// Deps collects the server's dependencies.
type Deps struct {
	Config    *config.Config
	Tracker   *tracker.Tracker
	Orch      orchestratorRunner
	Retrieval retrievalRunner
	Execution executionRunner
	Retriever *retriever.Retriever
	Store     *store.Store
	Driver    device.Driver
	Engine    embedding.Engine
	LLM       llmPinger
	Logger    *zap.Logger
}

// New creates the server.
func New(d Deps) *Server {
	return &Server{
		cfg:       d.Config,
		tracker:   d.Tracker,
		orch:      d.Orch,
		retrieval: d.Retrieval,
		execution: d.Execution,
		retriever: d.Retriever,
		store:     d.Store,
		driver:    d.Driver,
		engine:    d.Engine,
		llm:       d.LLM,
		logger:    d.Logger,
	}
}

// Router builds the chi router. The request timeout applies everywhere
// except the orchestrated execution route, which carries its own iteration
// budget and can legitimately run for minutes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	timeout := middleware.Timeout(s.cfg.GetRequestTimeout())

	r.Group(func(r chi.Router) {
		r.Use(timeout)

		r.Route("/monitoring/background-tasks", func(r chi.Router) {
			r.Post("/start", s.handleMonitoringStart)
			r.Post("/stop", s.handleMonitoringStop)
			r.Post("/pause", s.handleMonitoringPause)
			r.Get("/get-observations", s.handleGetObservations)
			r.Get("/get-recent-state-changes", s.handleGetStateChanges)
			r.Get("/get-state-snapshots", s.handleGetSnapshots)
			r.Get("/monitoring-overview", s.handleMonitoringOverview)
		})

		r.Route("/execution-test", func(r chi.Router) {
			r.Post("/no-context-execution-test", s.handleNoContextExecution)
			r.Post("/direct-droidrun-execution-test", s.handleDirectExecution)
		})

		r.Route("/retrieval-test", func(r chi.Router) {
			r.Post("/retrieval-test", s.handleRetrievalTest)
			r.Post("/semantic-search", s.handleSemanticSearch)
			r.Post("/find-person-by-name", s.handleFindPersonByName)
		})

		r.Get("/health", s.handleHealth)
	})

	r.Post("/execution-test/orchestrated-execution-test", s.handleOrchestratedExecution)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encoding failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
