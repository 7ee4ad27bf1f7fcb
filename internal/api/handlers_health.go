package api

import (
	"net/http"
)

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns the current system status without probing anything
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	a := s.app
	status := StatusDTO{
		Proxy:          a.Connector.Last(),
		Cycles:         a.Orchestrator.Runs(),
		ChainLength:    a.Ledger.Len(),
		ChainValid:     a.Ledger.Verify().Valid,
		ThreatSummary:  a.Threats.Summary(),
		TrafficSamples: a.Monitor.Stats().Count,
		Signing:        a.Signer != nil && a.Signer.CanSign(),
		Mirror:         a.Mirror != nil,
	}
	if last := a.Orchestrator.Last(); last != nil {
		t := last.StartedAt
		status.LastCycle = &t
	}
	if s.scheduler != nil {
		st := s.scheduler.Status()
		status.Scheduler = &st
	}
	jsonResponse(w, http.StatusOK, status)
}

// handleSchedule reports the cycle scheduler
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		jsonResponse(w, http.StatusOK, map[string]interface{}{
			"enabled":  false,
			"schedule": s.app.Config.Scan.Schedule,
		})
		return
	}
	st := s.scheduler.Status()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"status":  st,
	})
}
