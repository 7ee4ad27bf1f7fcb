package api

import (
	"net/http"

	"github.com/torsentry/torsentry/internal/metrics"
)

// registerRoutes sets up all API routes using Go 1.22+ method-based routing
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health & status
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/schedule", s.handleSchedule)

	// Proxy and scans
	mux.HandleFunc("GET /api/proxy", s.handleProxy)
	mux.HandleFunc("GET /api/scan", s.handleScan)
	mux.HandleFunc("GET /api/network/directory", s.handleDirectoryStats)

	// Monitored traffic
	mux.HandleFunc("GET /api/browse", s.handleTrafficStats)
	mux.HandleFunc("POST /api/browse", s.handleBrowse)
	mux.HandleFunc("POST /api/traffic/reset", s.handleTrafficReset)

	// Analysis
	mux.HandleFunc("GET /api/fingerprints", s.handleFingerprints)
	mux.HandleFunc("GET /api/threats", s.handleThreats)

	// Evidence
	mux.HandleFunc("GET /api/evidence", s.handleEvidenceReport)
	mux.HandleFunc("POST /api/evidence", s.handleAppendEvidence)
	mux.HandleFunc("GET /api/evidence/verify", s.handleVerifyEvidence)
	mux.HandleFunc("GET /api/evidence/query", s.handleQueryEvidence)

	// Live feed and metrics
	mux.HandleFunc("GET /api/live", s.live.handle)
	mux.Handle("GET /metrics", metrics.Handler(s.app.Registry))
}
