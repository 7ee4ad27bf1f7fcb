package api

import (
	"net/http"
)

// handleProxy runs discovery and the verification probe
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	res := s.app.Connector.Verify(r.Context())
	status := http.StatusOK
	if !res.Connected {
		status = http.StatusServiceUnavailable
	}
	jsonResponse(w, status, res)
}

// handleScan runs one full analysis cycle
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	snap, err := s.app.Orchestrator.RunCycle(r.Context())
	if err != nil {
		writeError(w, "scan", err)
		return
	}
	jsonResponse(w, http.StatusOK, snap)
}

// handleDirectoryStats fetches each directory URL through the proxy
func (s *Server) handleDirectoryStats(w http.ResponseWriter, r *http.Request) {
	res := s.app.Connector.Verify(r.Context())
	if err := res.Err(); err != nil && !res.Connected {
		writeError(w, "directory stats", err)
		return
	}
	jsonResponse(w, http.StatusOK, s.app.Scanner.DirectoryStats(r.Context()))
}
