package api

import (
	"net/http"

	"github.com/torsentry/torsentry/internal/traffic"
)

// handleTrafficStats returns window stats and browsing patterns
func (s *Server) handleTrafficStats(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, TrafficDTO{
		Stats:    s.app.Monitor.Stats(),
		Patterns: s.app.Monitor.Patterns(),
	})
}

// handleBrowse verifies the proxy, then performs a monitored fetch
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	var body BrowseBody
	if err := decodeAndValidate(w, r, &body); err != nil {
		writeError(w, "browse", err)
		return
	}

	res := s.app.Connector.Verify(r.Context())
	if !res.Connected {
		writeError(w, "browse", res.Err())
		return
	}

	sample, _, err := s.app.Monitor.Record(r.Context(), body.URL, traffic.WithMethod(body.Method))
	if err != nil {
		writeError(w, "browse", err)
		return
	}

	jsonResponse(w, http.StatusOK, BrowseDTO{
		Sample:   sample,
		Proxy:    res,
		Stats:    s.app.Monitor.Stats(),
		Patterns: s.app.Monitor.Patterns(),
	})
}

// handleTrafficReset clears the traffic window
func (s *Server) handleTrafficReset(w http.ResponseWriter, r *http.Request) {
	s.app.Monitor.Reset()
	jsonResponse(w, http.StatusOK, map[string]string{"status": "reset"})
}
