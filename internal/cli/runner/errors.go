// Package runner provides an interceptor-based command execution framework for CLI commands.
// It mirrors the pattern used by Connect-RPC interceptors, providing consistent middleware
// semantics for CLI command handlers.
package runner

import (
	"errors"
	"fmt"

	apperrors "github.com/torsentry/torsentry/internal/errors"
)

// Standard errors returned by interceptors
var (
	// ErrNotInitialized is returned when no config file exists
	ErrNotInitialized = fmt.Errorf("%w - run 'torsentry init' first", apperrors.ErrNotInitialized)

	// ErrNoSigningKey is returned when a command needs a ledger signing key
	ErrNoSigningKey = errors.New("no signing key configured - run 'torsentry init --sign'")

	// ErrNoLedgerFile is returned when a command needs a persistent ledger
	ErrNoLedgerFile = errors.New("no ledger file configured - evidence is kept in memory only")
)
