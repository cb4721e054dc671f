package api

import (
	"net/http"

	"portablebrain/internal/embedding"
)

type healthCheck struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// handleHealth probes each dependency. The LLM ping costs a real generation
// call, so it only runs when health_check_llm is enabled.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]healthCheck{}
	healthy := true

	fail := func(name, detail string) {
		checks[name] = healthCheck{Status: "error", Detail: detail}
		healthy = false
	}

	if err := s.store.Ping(ctx); err != nil {
		fail("store", err.Error())
	} else {
		checks["store"] = healthCheck{Status: "ok"}
	}

	if info, err := s.driver.Ping(ctx); err != nil {
		fail("device", err.Error())
	} else {
		checks["device"] = healthCheck{Status: "ok", Detail: info.Version}
	}

	if hc, ok := s.engine.(embedding.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			fail("embedding", err.Error())
		} else {
			checks["embedding"] = healthCheck{Status: "ok"}
		}
	} else if s.engine.Dimensions() <= 0 {
		fail("embedding", "engine reports no dimensions")
	} else {
		checks["embedding"] = healthCheck{Status: "ok"}
	}

	if s.cfg.Server.HealthCheckLLM {
		if err := s.llm.Ping(ctx); err != nil {
			fail("llm", err.Error())
		} else {
			checks["llm"] = healthCheck{Status: "ok"}
		}
	} else {
		checks["llm"] = healthCheck{Status: "skipped"}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	s.writeJSON(w, status, map[string]any{
		"status":     overall,
		"monitoring": s.tracker.Running(),
		"checks":     checks,
	})
}
