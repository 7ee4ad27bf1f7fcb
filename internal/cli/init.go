package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/torsentry/torsentry/internal/app"
	"github.com/torsentry/torsentry/internal/cli/runner"
	"github.com/torsentry/torsentry/internal/config"
	"github.com/torsentry/torsentry/internal/crypto"
	"github.com/torsentry/torsentry/internal/logging"
	"github.com/torsentry/torsentry/internal/scheduler"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file (optionally with a ledger signing key)",
	Long: `Create the torsentry config directory and config file.

With --sign an Ed25519 key pair is generated and every evidence block is
signed. If TORSENTRY_KEY_PASSPHRASE is set the private key is sealed with
it; otherwise it is stored in the config file as-is.`,
	Example: `  # Persisted, unsigned ledger with defaults
  torsentry init

  # Signed ledger, key sealed with a passphrase
  TORSENTRY_KEY_PASSPHRASE=... torsentry init --sign

  # Mirror evidence to Redis and require an API key for writes
  torsentry init --redis localhost:6379 --generate-api-key`,
	RunE: runners.Uninitialized().Wrap(runInit),
}

func init() {
	f := initCmd.Flags()
	f.Bool("force", false, "Overwrite an existing config")
	f.Bool("sign", false, "Generate a signing key and sign evidence blocks")
	f.String("ledger-file", "evidence.jsonl", "Ledger file, relative to the config dir")
	f.Bool("in-memory", false, "Keep evidence in memory only")
	f.String("schedule", "", "Scan schedule (e.g. \"every 10m\", hourly, \"*/15 * * * *\")")
	f.String("listen", "", "API listen address")
	f.String("redis", "", "Mirror evidence and traffic to this Redis address")
	f.String("api-key", "", "API key required for writes and RPCs")
	f.Bool("generate-api-key", false, "Generate a random API key")
	rootCmd.AddCommand(initCmd)
}

func runInit(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	force := flags.Bool("force")
	sign := flags.Bool("sign")
	ledgerFile := flags.String("ledger-file")
	inMemory := flags.Bool("in-memory")
	schedule := flags.String("schedule")
	listen := flags.String("listen")
	redisAddr := flags.String("redis")
	apiKey := flags.String("api-key")
	generateKey := flags.Bool("generate-api-key")
	if err := flags.Err(); err != nil {
		return err
	}

	dir := configDir
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	if config.Exists(dir) && !force {
		return fmt.Errorf("already initialized in %s - use --force to overwrite", dir)
	}

	c := config.Default()
	c.ConfigDir = dir
	if !inMemory {
		c.Ledger.Path = ledgerFile
	}
	if schedule != "" {
		if _, err := scheduler.ParseSchedule(schedule); err != nil {
			return err
		}
		c.Scan.Schedule = schedule
	}
	if listen != "" {
		c.API.ListenAddr = listen
	}
	if redisAddr != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = redisAddr
	}
	if generateKey && apiKey == "" {
		apiKey = uuid.NewString()
	}
	c.API.APIKey = apiKey

	p := out(cmd)
	var keyID string
	if sign {
		pub, priv, err := crypto.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("generate signing key: %w", err)
		}
		c.Ledger.SignBlocks = true
		c.Ledger.PublicKey = pub
		keyID = crypto.KeyID(pub)

		if passphrase := os.Getenv(app.PassphraseEnv); passphrase != "" {
			sealed, err := crypto.Seal(priv, passphrase)
			if err != nil {
				return fmt.Errorf("seal signing key: %w", err)
			}
			c.Ledger.SealedKey = sealed
		} else {
			c.Ledger.PrivateKey = priv
			p.Warning("Signing key stored unsealed; set %s to seal it", app.PassphraseEnv)
		}
	}

	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	logging.Debug("config written", logging.String("dir", dir))

	p.Success("Initialized torsentry in %s", dir)
	p.Info("Config:    %s", filepath.Join(dir, "config.json"))
	if c.LedgerPath() != "" {
		p.Info("Ledger:    %s", c.LedgerPath())
	} else {
		p.Info("Ledger:    in memory")
	}
	p.Info("Schedule:  %s", c.Scan.Schedule)
	if keyID != "" {
		p.Info("Key ID:    %s (sealed: %s)", keyID, yesNo(c.Ledger.SealedKey != nil))
	}
	if c.Redis.Enabled {
		p.Info("Redis:     %s", c.Redis.Addr)
	}
	if generateKey {
		p.Info("API key:   %s", apiKey)
	}
	return nil
}
