package api

import (
	"net/http"
	"strconv"
	"time"
)

// GetQueryParam extracts a query parameter with a default value.
func GetQueryParam(r *http.Request, name, defaultValue string) string {
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue
	}
	return value
}

// timeParam parses an RFC 3339 or unix-millisecond query parameter. A
// missing parameter returns def.
func timeParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, ValidationError{Field: name, Message: name + " must be RFC 3339 or unix milliseconds"}
	}
	return t, nil
}
