package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// BrowseBody is the request body for a monitored fetch
type BrowseBody struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
}

func (b *BrowseBody) Validate() error {
	b.URL = strings.TrimSpace(b.URL)
	if err := required("url", b.URL); err != nil {
		return err
	}
	switch strings.ToUpper(b.Method) {
	case "":
		b.Method = http.MethodGet
	case http.MethodGet, http.MethodHead:
		b.Method = strings.ToUpper(b.Method)
	default:
		return ValidationError{Field: "method", Message: "method must be GET or HEAD"}
	}
	return nil
}

// EvidenceBody is the request body for manual evidence
type EvidenceBody struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (b *EvidenceBody) Validate() error {
	b.Type = strings.TrimSpace(b.Type)
	if err := required("type", b.Type); err != nil {
		return err
	}
	if err := maxLen("type", b.Type, 128); err != nil {
		return err
	}
	if len(b.Data) > 0 && !json.Valid(b.Data) {
		return ValidationError{Field: "data", Message: "data must be valid JSON"}
	}
	return nil
}
