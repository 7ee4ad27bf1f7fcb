package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/torsentry/torsentry/internal/app"
	"github.com/torsentry/torsentry/internal/cli/runner"
	"github.com/torsentry/torsentry/internal/config"
	"github.com/torsentry/torsentry/internal/crypto"
	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/scheduler"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and ledger status",
	Long:  `Display the torsentry configuration and the state of the evidence ledger without probing the network.`,
	RunE:  runners.Base().Wrap(runStatus),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	if ctx.ConfigErr != nil && !errors.Is(ctx.ConfigErr, apperrors.ErrNotInitialized) {
		return ctx.ConfigErr
	}
	if !ctx.HasConfig() {
		return showUninitialized(cmd)
	}
	return showStatus(ctx, cmd)
}

func showUninitialized(cmd *cobra.Command) error {
	p := out(cmd)
	p.Info("torsentry status: not initialized")
	p.Info("")
	p.Info("To get started:")
	p.Info("  torsentry init            # persisted ledger, defaults")
	p.Info("  torsentry init --sign     # signed evidence blocks")
	p.Info("Commands such as scan and serve also run on defaults without init.")
	return nil
}

func showStatus(ctx *runner.CommandContext, cmd *cobra.Command) error {
	c := ctx.Config
	p := out(cmd)
	p.Header("torsentry status")

	p.Info("Config dir: %s", c.ConfigDir)
	p.Info("Proxy:      %s ports %v", c.Proxy.Host, c.Proxy.CandidatePorts)
	printSchedule(p, c)
	p.Info("API:        %s (key required: %s)", c.ResolveListenAddr(), yesNo(c.ResolveAPIKey() != ""))
	if c.Redis.Enabled {
		p.Info("Redis:      %s (prefix %s)", c.Redis.Addr, c.Redis.Prefix)
	} else {
		p.Info("Redis:      disabled")
	}

	if ctx.HasSigningKey() {
		p.Info("Signing:    key %s (sealed: %s)", crypto.KeyID(c.Ledger.PublicKey), yesNo(c.Ledger.SealedKey != nil))
	} else {
		p.Info("Signing:    disabled")
	}

	if !ctx.HasLedgerFile() {
		p.Info("Ledger:     in memory")
		return nil
	}

	ctx.AddAppOptions(app.VerifyOnly())
	a, err := ctx.App(cmd.Context())
	if err != nil {
		p.Warning("Ledger:     %s (%v)", c.LedgerPath(), err)
		return nil
	}
	v := a.Ledger.Verify()
	p.Info("Ledger:     %s", c.LedgerPath())
	p.Info("Blocks:     %d (%d signed)", v.BlockCount, v.SignedBlocks)
	if v.Valid {
		p.Info("Integrity:  intact")
	} else {
		p.Warning("Integrity:  compromised (%s)", v.Reason)
	}
	return nil
}

func printSchedule(p printer, c *config.Config) {
	sched, err := scheduler.ParseSchedule(c.Scan.Schedule)
	if err != nil {
		p.Warning("Schedule:   %s (invalid: %v)", c.Scan.Schedule, err)
		return
	}
	p.Info("Schedule:   %s (next run %s)", sched.String(), sched.NextRun(time.Now()).Format("2006-01-02 15:04:05"))
}
