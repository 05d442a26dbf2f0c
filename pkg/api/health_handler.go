package api

import (
	"encoding/json"
	"net/http"

	"github.com/aminofox/hlsproxy/pkg/analytics"
)

// version is the proxy's semantic version, reported by GET /health.
const version = "1.0.0"

// healthResponse is the GET /health JSON body: status/version are
// always present, components is populated once a checker registers.
type healthResponse struct {
	Status     string                           `json:"status"`
	Version    string                           `json:"version"`
	Components map[string]analytics.HealthCheck `json:"components,omitempty"`
}

// handleHealth serves GET /health: runs every registered readiness
// check and reports "ok" only when all of them pass.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := analytics.GetHealthSummary(s.health)

	status := "ok"
	httpStatus := http.StatusOK
	if summary.OverallStatus != analytics.HealthStatusHealthy && summary.OverallStatus != analytics.HealthStatusUnknown {
		status = string(summary.OverallStatus)
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(healthResponse{
		Status:     status,
		Version:    version,
		Components: summary.Components,
	})
}
