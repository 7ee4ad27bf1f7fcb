package api

import (
	"net/http"
	"time"

	"github.com/torsentry/torsentry/internal/ledger"
)

// handleEvidenceReport verifies the chain and returns the recent blocks
func (s *Server) handleEvidenceReport(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.app.Ledger.Report())
}

// handleAppendEvidence appends operator-submitted evidence
func (s *Server) handleAppendEvidence(w http.ResponseWriter, r *http.Request) {
	var body EvidenceBody
	if err := decodeAndValidate(w, r, &body); err != nil {
		writeError(w, "append evidence", err)
		return
	}

	block, err := s.app.Ledger.Append(r.Context(), ledger.ManualPayload{Label: body.Type, Data: body.Data})
	if err != nil {
		writeError(w, "append evidence", err)
		return
	}
	jsonResponse(w, http.StatusCreated, block)
}

// handleVerifyEvidence checks every block and link
func (s *Server) handleVerifyEvidence(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.app.Ledger.Verify())
}

// handleQueryEvidence filters by payload type or by time range
func (s *Server) handleQueryEvidence(w http.ResponseWriter, r *http.Request) {
	var blocks []ledger.Block

	if kind := r.URL.Query().Get("type"); kind != "" {
		blocks = s.app.Ledger.ByType(kind)
	} else {
		start, err := timeParam(r, "start", time.Time{})
		if err != nil {
			writeError(w, "query evidence", err)
			return
		}
		end, err := timeParam(r, "end", time.Now().UTC())
		if err != nil {
			writeError(w, "query evidence", err)
			return
		}
		if end.Before(start) {
			jsonError(w, http.StatusBadRequest, "end must not be before start")
			return
		}
		blocks = s.app.Ledger.ByTimeRange(start, end)
	}

	if blocks == nil {
		blocks = []ledger.Block{}
	}
	jsonResponse(w, http.StatusOK, EvidenceQueryDTO{Count: len(blocks), Blocks: blocks})
}
