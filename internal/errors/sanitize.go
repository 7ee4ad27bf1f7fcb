package errors

import (
	"regexp"
	"strings"
)

// Patterns that should be redacted from error messages
var sensitivePatterns = []*regexp.Regexp{
	// File paths (Unix and Windows)
	regexp.MustCompile(`(?i)(/home/[^\s:]+|/Users/[^\s:]+|/root/[^\s:]+|/etc/[^\s:]+|/var/[^\s:]+)`),
	regexp.MustCompile(`(?i)([A-Z]:\\[^\s:]+)`),

	// Credentials embedded in proxy or target URLs
	regexp.MustCompile(`(?i)([a-z][a-z0-9+.-]*://)[^\s/@:]+:[^\s/@]+@`),

	// Passwords and API keys in URLs or strings
	regexp.MustCompile(`(?i)(password|passwd|pwd|secret|api[_-]?key|token|bearer)[=:]["']?[^\s"'&]+`),

	// Environment variables that might contain secrets
	regexp.MustCompile(`(?i)(TORSENTRY_KEY_PASSPHRASE|REDIS_PASSWORD|API_KEY)[=][^\s]+`),

	// IP addresses (internal)
	regexp.MustCompile(`(?i)(192\.168\.\d+\.\d+|10\.\d+\.\d+\.\d+|172\.(1[6-9]|2[0-9]|3[0-1])\.\d+\.\d+)`),
}

// Keywords whose assigned values are redacted
var keywordPatterns = func() []*regexp.Regexp {
	keywords := []string{"password", "secret", "passphrase", "token", "credentials"}
	out := make([]*regexp.Regexp, len(keywords))
	for i, kw := range keywords {
		out[i] = regexp.MustCompile(`(?i)` + kw + `[=:]["']?[^\s"']+`)
	}
	return out
}()

// SanitizeError removes sensitive information from error messages
// for display to clients. Internal logging should use the original error.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString removes sensitive information from a string
func SanitizeString(s string) string {
	result := s

	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}

	for _, re := range keywordPatterns {
		result = re.ReplaceAllStringFunc(result, func(m string) string {
			key := m[:strings.IndexAny(m, "=:")]
			return key + "=[REDACTED]"
		})
	}

	return result
}

// SafeError carries a sanitized message while errors.Is and errors.As still
// see the original.
type SafeError struct {
	Original error
	Message  string
}

func (e *SafeError) Error() string {
	return e.Message
}

func (e *SafeError) Unwrap() error {
	return e.Original
}

// NewSafeError sanitizes err for clients. Nil stays nil.
func NewSafeError(err error) *SafeError {
	if err == nil {
		return nil
	}
	return &SafeError{
		Original: err,
		Message:  SanitizeString(err.Error()),
	}
}

// GenericError returns a generic error message suitable for clients
// when the actual error should not be exposed
func GenericError(operation string) string {
	if operation == "" {
		return "internal error"
	}
	return operation + " failed"
}
