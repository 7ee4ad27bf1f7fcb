package runner

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/torsentry/torsentry/internal/app"
	"github.com/torsentry/torsentry/internal/config"
	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/logging"
)

// Interceptor is a function that wraps command execution.
// It mirrors the Connect-RPC interceptor pattern for CLI commands.
type Interceptor func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error

// RequireConfig ensures the configuration is loaded before executing the command.
func RequireConfig() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if ctx.ConfigErr != nil {
			if errors.Is(ctx.ConfigErr, apperrors.ErrNotInitialized) {
				return ErrNotInitialized
			}
			return ctx.ConfigErr
		}
		if ctx.Config == nil {
			return ErrNotInitialized
		}
		return next()
	}
}

// DefaultsIfMissing substitutes the built-in defaults when no config file
// exists. Other load errors still fail.
func DefaultsIfMissing(configDir func() string) Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if ctx.Config == nil && (ctx.ConfigErr == nil || errors.Is(ctx.ConfigErr, apperrors.ErrNotInitialized)) {
			cfg := config.Default()
			if dir := configDir(); dir != "" {
				cfg.ConfigDir = dir
			}
			logging.Debug("no config file, using defaults", logging.String("dir", cfg.ConfigDir))
			ctx.Config, ctx.ConfigErr = cfg, nil
		}
		if ctx.ConfigErr != nil {
			return ctx.ConfigErr
		}
		return next()
	}
}

// RequireSigningKey ensures ledger signing is configured.
// Implicitly requires config to be loaded.
func RequireSigningKey() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if err := RequireConfig()(ctx, cmd, args, func() error { return nil }); err != nil {
			return err
		}
		if !ctx.HasSigningKey() {
			return ErrNoSigningKey
		}
		return next()
	}
}

// RequireLedgerFile ensures evidence is persisted to disk.
// Implicitly requires config to be loaded.
func RequireLedgerFile() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		if err := RequireConfig()(ctx, cmd, args, func() error { return nil }); err != nil {
			return err
		}
		if !ctx.HasLedgerFile() {
			return ErrNoLedgerFile
		}
		return next()
	}
}

// VerifyOnly builds the app with the public key only, so read-only commands
// need no passphrase.
func VerifyOnly() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		ctx.AddAppOptions(app.VerifyOnly())
		return next()
	}
}

// WithLogging logs command execution, mirroring the gRPC loggingInterceptor.
func WithLogging() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		logging.Debug("CLI command", logging.String("cmd", cmd.CommandPath()))
		err := next()
		if err != nil {
			logging.Debug("CLI error", logging.String("cmd", cmd.CommandPath()), logging.Err(err))
		}
		return err
	}
}

// AllowUninitialized marks that this command can run without initialization.
// This is a no-op interceptor that documents intent.
func AllowUninitialized() Interceptor {
	return func(ctx *CommandContext, cmd *cobra.Command, args []string, next func() error) error {
		return next()
	}
}
