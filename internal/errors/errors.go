// Package errors provides sentinel errors for torsentry.
package errors

import "errors"

// Configuration errors
var (
	// ErrNotInitialized is returned when no config.json exists yet.
	ErrNotInitialized = errors.New("torsentry not initialized")

	// ErrInvalidConfig is returned when a loaded config fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Connectivity errors
var (
	// ErrProxyUnavailable is returned when no candidate proxy port accepted a
	// connection. Fatal to the current cycle.
	ErrProxyUnavailable = errors.New("anonymizing proxy unavailable")

	// ErrProxyDegraded marks a proxy port that accepted a connection but failed
	// end-to-end verification. Callers treat it as a warning.
	ErrProxyDegraded = errors.New("anonymizing proxy found but not verified")
)

// Traffic errors
var (
	// ErrInvalidURL is returned when a monitored request has an unusable URL.
	ErrInvalidURL = errors.New("invalid request url")

	// ErrRequestFailed is wrapped by every failed monitored request.
	ErrRequestFailed = errors.New("monitored request failed")
)

// Evidence errors
var (
	// ErrLedgerLocked is returned when another process holds the ledger file.
	ErrLedgerLocked = errors.New("evidence ledger is locked by another process")

	// ErrUnknownPayload is returned for an evidence payload with no registered kind.
	ErrUnknownPayload = errors.New("unknown evidence payload type")

	// ErrCorruptLedger is returned when a persisted ledger cannot be parsed.
	ErrCorruptLedger = errors.New("persisted evidence ledger is corrupt")
)

// Cycle errors
var (
	// ErrCycleCanceled is returned when a caller abandons a cycle while waiting
	// for the previous one to finish.
	ErrCycleCanceled = errors.New("scan cycle canceled before start")
)
