package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// Validator interface for request body validation
type Validator interface {
	Validate() error
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// decodeAndValidate decodes JSON body and validates it
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v Validator) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ValidationError{Message: "invalid request body"}
	}
	return v.Validate()
}

// required returns an error if value is empty
func required(field, value string) error {
	if value == "" {
		return ValidationError{Field: field, Message: field + " is required"}
	}
	return nil
}

// maxLen returns an error if value is longer than n bytes
func maxLen(field, value string, n int) error {
	if len(value) > n {
		return ValidationError{Field: field, Message: fmt.Sprintf("%s must be at most %d bytes", field, n)}
	}
	return nil
}
