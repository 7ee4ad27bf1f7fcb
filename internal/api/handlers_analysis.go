package api

import (
	"net/http"
)

// handleFingerprints returns the recent fingerprint history
func (s *Server) handleFingerprints(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.app.Engine.Report())
}

// handleThreats returns the threat summary and active events
func (s *Server) handleThreats(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, ThreatsDTO{
		Summary: s.app.Threats.Summary(),
		Active:  s.app.Threats.Active(),
		Catalog: s.app.Threats.Catalog(),
	})
}
