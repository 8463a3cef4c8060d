package api

import (
	"net/http"
	"time"
)

// healthResponse follows the health+json convention: status is pass or
// fail, with per-dependency detail in checks.
type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Uptime  string            `json:"uptime,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// handleLiveness reports that the process is alive. It never checks
// dependencies; a failing broker must not get the process restarted.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "pass",
		Version: s.version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReadiness runs each registered dependency check and reports 503
// if any fails, so load balancers stop routing traffic here.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checkers))
	ready := true

	for name, checker := range s.checkers {
		if checker == nil {
			continue
		}
		if err := checker.HealthCheck(r.Context()); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "pass"
	}

	status := http.StatusOK
	resp := healthResponse{Status: "pass", Checks: checks}
	if !ready {
		status = http.StatusServiceUnavailable
		resp.Status = "fail"
	}
	writeJSON(w, status, resp)
}

// handleStartup reports whether initial startup completed. The boot
// sequence loads the entity cache before the listener comes up, so once
// this endpoint answers at all, startup is done.
func (s *Server) handleStartup(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "pass",
		Version: s.version,
		Checks:  map[string]string{"entity_cache": "pass"},
	})
}
