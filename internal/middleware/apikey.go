package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyFromHeader returns the key from X-API-Key or an Authorization
// bearer token.
func APIKeyFromHeader(h http.Header) string {
	if key := h.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(h.Get("Authorization"), "Bearer "); ok {
		return token
	}
	return ""
}

// ValidAPIKey compares in constant time. An empty expected key accepts
// everything.
func ValidAPIKey(expected, got string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// RequireAPIKey rejects mutating requests that lack the key. GET, HEAD,
// and OPTIONS pass through.
func RequireAPIKey(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if !ValidAPIKey(expected, APIKeyFromHeader(r.Header)) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
