package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/torsentry/torsentry/internal/app"
	"github.com/torsentry/torsentry/internal/config"
)

// AppFactory builds the application for a command.
type AppFactory func(ctx context.Context, cfg *config.Config, opts ...app.Option) (*app.App, error)

// CommandContext provides shared dependencies to command handlers.
// Dependencies are lazily initialized on first access to avoid unnecessary work.
type CommandContext struct {
	// Config is the loaded configuration (may be nil if not initialized)
	Config *config.Config

	// ConfigErr is the error from loading config, if any
	ConfigErr error

	factory AppFactory
	appOpts []app.Option

	appOnce sync.Once
	app     *app.App
	appErr  error
}

// NewContext creates a new CommandContext with the given config.
func NewContext(cfg *config.Config, cfgErr error) *CommandContext {
	return &CommandContext{
		Config:    cfg,
		ConfigErr: cfgErr,
		factory:   app.New,
	}
}

// AddAppOptions appends options used when the app is first built.
func (c *CommandContext) AddAppOptions(opts ...app.Option) {
	c.appOpts = append(c.appOpts, opts...)
}

// App returns the lazily-built application. The runner closes it after the
// command returns.
func (c *CommandContext) App(ctx context.Context) (*app.App, error) {
	c.appOnce.Do(func() {
		if c.Config == nil {
			c.appErr = ErrNotInitialized
			return
		}
		c.app, c.appErr = c.factory(ctx, c.Config, c.appOpts...)
	})
	return c.app, c.appErr
}

// Close releases the application if it was built.
func (c *CommandContext) Close() error {
	if c.app == nil {
		return nil
	}
	return c.app.Close()
}

// SaveConfig saves the configuration with standardized error wrapping.
func (c *CommandContext) SaveConfig() error {
	if c.Config == nil {
		return ErrNotInitialized
	}
	if err := c.Config.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// HasConfig returns true if config is loaded successfully.
func (c *CommandContext) HasConfig() bool {
	return c.Config != nil && c.ConfigErr == nil
}

// HasSigningKey returns true if ledger signing is configured.
func (c *CommandContext) HasSigningKey() bool {
	return c.Config != nil && c.Config.Ledger.SignBlocks && len(c.Config.Ledger.PublicKey) > 0
}

// HasLedgerFile returns true if evidence is persisted.
func (c *CommandContext) HasLedgerFile() bool {
	return c.Config != nil && c.Config.LedgerPath() != ""
}
