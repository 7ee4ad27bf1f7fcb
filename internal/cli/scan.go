package cli

import (
	"github.com/spf13/cobra"

	"github.com/torsentry/torsentry/internal/cli/runner"
	"github.com/torsentry/torsentry/internal/orchestrator"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan cycle and commit it as evidence",
	Long: `Verify the proxy, scan the network through it, fingerprint the traffic,
classify threats, and append the result to the evidence ledger. Fails
without touching the ledger when no proxy is reachable.`,
	RunE: runners.Defaults().Wrap(runScan),
}

func init() {
	scanCmd.Flags().Bool("json", false, "Print the snapshot as JSON")
	rootCmd.AddCommand(scanCmd)
}

func runScan(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	asJSON := flags.Bool("json")
	if err := flags.Err(); err != nil {
		return err
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}

	snap, err := a.Orchestrator.RunCycle(cmd.Context())
	if err != nil {
		return err
	}

	p := out(cmd)
	if asJSON {
		return p.JSON(snap)
	}
	printSnapshot(p, snap)
	return nil
}

func printSnapshot(p printer, snap *orchestrator.Snapshot) {
	p.Header("Scan Cycle")
	p.Info("Proxy:        %s (port %d, verified: %s)", snap.Proxy.State, snap.Proxy.Port, yesNo(snap.Proxy.Verified))
	if snap.Warning != "" {
		p.Warning("%s", snap.Warning)
	}
	p.Info("Data source:  %s", snap.ScanData.DataSource)
	p.Info("Network:      %d relays, %d exits, ~%d Gbps",
		snap.ScanData.Relays, snap.ScanData.ExitNodes, snap.ScanData.BandwidthGbps)
	p.Info("Duration:     %d ms", snap.DurationMs)

	fp := snap.Fingerprints
	p.Divider()
	p.Info("Jitter:       anomaly=%s score=%.2f", yesNo(fp.Jitter.Anomaly), fp.Jitter.Score)
	p.Info("Bursts:       %d (tor pattern: %s, confidence %d%%)", fp.Burst.BurstCount, yesNo(fp.Burst.IsTorPattern), fp.Burst.Confidence)
	p.Info("Entropy:      mean %.3f over %d samples", fp.Entropy.MeanEntropy, fp.Entropy.Samples)
	p.Info("Silence gaps: %s (%d%%)", fp.SilenceGaps.Classification, fp.SilenceGaps.Confidence)

	p.Divider()
	if len(snap.Threats) == 0 {
		p.Info("Threats:      none above the activation floor")
	} else {
		p.Info("Threats:      %d", len(snap.Threats))
		for _, t := range snap.Threats {
			p.Info("  [%-8s] %-40s %d%%", t.Severity, t.Name, t.Confidence)
		}
	}

	p.Divider()
	p.Info("Evidence:     block %d %s", snap.Evidence.Index, shortHash(snap.Evidence.Hash))
	if snap.Verification.Valid {
		p.Success("Chain verified (%d blocks)", snap.Verification.BlockCount)
	} else {
		p.Warning("Chain verification failed: %s", snap.Verification.Reason)
	}
}
