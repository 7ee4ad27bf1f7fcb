package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/torsentry/torsentry/internal/cli/runner"
	"github.com/torsentry/torsentry/internal/config"
	"github.com/torsentry/torsentry/internal/logging"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	// App state
	cfg    *config.Config
	cfgErr error

	// Global flags
	configDir string
	logLevel  string
	jsonLogs  bool

	runners = runner.NewBuilder(
		func() (*config.Config, error) { return cfg, cfgErr },
		func() string { return configDir },
	)
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "torsentry",
	Short: "Tor traffic telemetry and tamper-evident anomaly evidence",
	Long: `torsentry verifies a local Tor proxy, routes monitored requests through
it, fingerprints the resulting traffic, and commits every scan cycle to a
hash-chained evidence ledger that can be verified later.`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() {
	if err := ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// ExecuteContext runs the CLI with ctx as the base context
func ExecuteContext(ctx context.Context) error {
	defer func() { _ = logging.Sync() }()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the version string
func SetVersion(v string) {
	Version = v
	rootCmd.Version = v
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Version = Version

	f := rootCmd.PersistentFlags()
	f.StringVar(&configDir, "config-dir", "", "Config directory (default: ~/.torsentry or TORSENTRY_CONFIG_DIR)")
	f.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: from config)")
	f.BoolVar(&jsonLogs, "json-logs", false, "Emit JSON log lines")
}

func initConfig() {
	cfg, cfgErr = config.Load(configDir)
}

// initLogging applies the config's logging section, then the flags.
func initLogging() {
	lc := logging.DefaultConfig()
	if cfg != nil {
		lc = cfg.Logging
	}
	if logLevel != "" {
		lc.Level = logLevel
	}
	if jsonLogs {
		lc.JSON = true
	}
	if err := logging.Init(lc); err != nil {
		_ = logging.Init(logging.DefaultConfig())
		logging.Warn("Invalid logging config, using defaults", logging.Err(err))
	}
}
