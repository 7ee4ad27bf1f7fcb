package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/logging"
	"github.com/torsentry/torsentry/internal/proxy"
	"github.com/torsentry/torsentry/internal/traffic"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// Tried lists the proxy addresses probed before giving up
	Tried []string `json:"tried,omitempty"`
}

func jsonResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("encode response failed", logging.Err(err))
	}
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, ErrorResponse{Error: message})
}

// writeError maps an operation error to a status code. Messages are
// sanitized; the full error is logged.
func writeError(w http.ResponseWriter, op string, err error) {
	var ce *proxy.ConnectivityError
	var re *traffic.RequestError
	var ve ValidationError

	switch {
	case errors.As(err, &ce):
		jsonResponse(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: apperrors.SanitizeString(ce.Reason),
			Code:  "proxy_unavailable",
			Tried: ce.Tried,
		})
		return
	case errors.As(err, &ve):
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: ve.Message, Code: "invalid_request"})
		return
	case errors.Is(err, apperrors.ErrInvalidURL):
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: apperrors.SanitizeError(err), Code: "invalid_url"})
		return
	case errors.Is(err, apperrors.ErrUnknownPayload):
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: apperrors.SanitizeError(err), Code: "unknown_payload"})
		return
	case errors.Is(err, apperrors.ErrCycleCanceled):
		jsonResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: apperrors.SanitizeError(err), Code: "cycle_canceled"})
		return
	case errors.As(err, &re):
		jsonResponse(w, http.StatusBadGateway, ErrorResponse{Error: apperrors.SanitizeError(err), Code: "request_failed"})
		return
	}

	logging.Error(op+" failed", logging.Err(err))
	jsonResponse(w, http.StatusInternalServerError, ErrorResponse{Error: apperrors.GenericError(op)})
}
