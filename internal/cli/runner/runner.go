package runner

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/torsentry/torsentry/internal/config"
)

// ConfigProvider is a function that returns the current config and any load error.
// This allows the runner to be decoupled from the global config state.
type ConfigProvider func() (*config.Config, error)

// CommandRunner chains interceptors for CLI command execution.
// It mirrors Connect-RPC's interceptor pattern.
type CommandRunner struct {
	interceptors   []Interceptor
	configProvider ConfigProvider
	factory        AppFactory
}

// NewRunner creates a new CommandRunner with the given config provider.
func NewRunner(provider ConfigProvider) *CommandRunner {
	return &CommandRunner{
		configProvider: provider,
	}
}

// Use adds interceptors to the chain. Returns self for chaining.
func (r *CommandRunner) Use(interceptors ...Interceptor) *CommandRunner {
	r.interceptors = append(r.interceptors, interceptors...)
	return r
}

// WithAppFactory replaces app.New, mainly for tests.
func (r *CommandRunner) WithAppFactory(f AppFactory) *CommandRunner {
	r.factory = f
	return r
}

// Clone creates a copy of this runner with its own interceptor chain.
// The config provider is shared.
func (r *CommandRunner) Clone() *CommandRunner {
	cloned := &CommandRunner{
		interceptors:   make([]Interceptor, len(r.interceptors)),
		configProvider: r.configProvider,
		factory:        r.factory,
	}
	copy(cloned.interceptors, r.interceptors)
	return cloned
}

// CommandFunc is the signature for command handler functions.
type CommandFunc func(ctx *CommandContext, cmd *cobra.Command, args []string) error

// Wrap creates a cobra.RunE function with the interceptor chain applied.
// An app built during the command is closed afterwards.
func (r *CommandRunner) Wrap(fn CommandFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, cfgErr := r.configProvider()
		ctx := NewContext(cfg, cfgErr)
		if r.factory != nil {
			ctx.factory = r.factory
		}
		defer func() {
			err = errors.Join(err, ctx.Close())
		}()

		chain := func() error { return fn(ctx, cmd, args) }

		// Wrap in reverse order so first interceptor runs first
		for i := len(r.interceptors) - 1; i >= 0; i-- {
			interceptor := r.interceptors[i]
			next := chain
			chain = func() error { return interceptor(ctx, cmd, args, next) }
		}

		return chain()
	}
}

// Builder helps construct runners with common interceptor patterns.
type Builder struct {
	provider  ConfigProvider
	configDir func() string
}

// NewBuilder creates a new runner builder. configDir names the directory
// used when commands fall back to defaults.
func NewBuilder(provider ConfigProvider, configDir func() string) *Builder {
	if configDir == nil {
		configDir = func() string { return "" }
	}
	return &Builder{provider: provider, configDir: configDir}
}

// Base creates a runner with just logging.
func (b *Builder) Base() *CommandRunner {
	return NewRunner(b.provider).Use(WithLogging())
}

// Config creates a runner that requires config to be loaded.
func (b *Builder) Config() *CommandRunner {
	return NewRunner(b.provider).Use(
		WithLogging(),
		RequireConfig(),
	)
}

// Defaults creates a runner that works with or without a config file.
func (b *Builder) Defaults() *CommandRunner {
	return NewRunner(b.provider).Use(
		WithLogging(),
		DefaultsIfMissing(b.configDir),
	)
}

// Ledger creates a runner for read-only commands over a persisted ledger.
func (b *Builder) Ledger() *CommandRunner {
	return NewRunner(b.provider).Use(
		WithLogging(),
		RequireLedgerFile(),
		VerifyOnly(),
	)
}

// Signed creates a runner that requires a signing key.
func (b *Builder) Signed() *CommandRunner {
	return NewRunner(b.provider).Use(
		WithLogging(),
		RequireSigningKey(),
	)
}

// Uninitialized creates a runner that can run without initialization.
func (b *Builder) Uninitialized() *CommandRunner {
	return NewRunner(b.provider).Use(
		WithLogging(),
		AllowUninitialized(),
	)
}
