package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/torsentry/torsentry/internal/cli/runner"
	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/ledger"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Inspect and extend the evidence ledger",
}

var evidenceReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Verify the chain and show the most recent blocks",
	RunE:  runners.Ledger().Wrap(runEvidenceReport),
}

var evidenceVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify every block hash, link, and signature",
	Long: `Recompute every block hash, check every link and signature, and exit
non-zero at the first failure. Needs only the public key.`,
	RunE: runners.Ledger().Wrap(runEvidenceVerify),
}

var evidenceAppendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append an operator note to the ledger",
	Example: `  torsentry evidence append --type relay_observation --data '{"fingerprint":"ABCD"}'`,
	RunE: runners.Config().Use(runner.RequireLedgerFile()).Wrap(runEvidenceAppend),
}

var evidenceQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List blocks by payload type or time range",
	Example: `  torsentry evidence query --type network_scan
  torsentry evidence query --since 24h`,
	RunE: runners.Ledger().Wrap(runEvidenceQuery),
}

func init() {
	evidenceReportCmd.Flags().Bool("json", false, "Print the report as JSON")

	f := evidenceAppendCmd.Flags()
	f.String("type", "", "Label for the note")
	f.String("data", "", "JSON body of the note")
	_ = evidenceAppendCmd.MarkFlagRequired("type")

	q := evidenceQueryCmd.Flags()
	q.String("type", "", "Payload type (network_scan, manual, genesis)")
	q.Duration("since", 0, "Only blocks newer than this")
	q.Bool("json", false, "Print blocks as JSON")

	evidenceCmd.AddCommand(evidenceReportCmd, evidenceVerifyCmd, evidenceAppendCmd, evidenceQueryCmd)
	rootCmd.AddCommand(evidenceCmd)
}

func runEvidenceReport(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	asJSON := flags.Bool("json")
	if err := flags.Err(); err != nil {
		return err
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}
	report := a.Ledger.Report()

	p := out(cmd)
	if asJSON {
		return p.JSON(report)
	}

	p.Header("Evidence Report")
	p.Info("Ledger:       %s", a.Config.LedgerPath())
	p.Info("Blocks:       %d", report.ChainLength)
	p.Info("Integrity:    %s", report.IntegrityStatus)
	p.Info("Court ready:  %s", yesNo(report.CourtReady))
	if report.KeyID != "" {
		p.Info("Key ID:       %s (%d signed blocks)", report.KeyID, report.Verification.SignedBlocks)
	}
	p.Info("Last update:  %s", report.LastUpdate.Format(time.RFC3339))
	p.Divider()
	for _, b := range report.RecentEvidence {
		printBlock(p, b)
	}
	return nil
}

func runEvidenceVerify(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}

	v := a.Ledger.Verify()
	p := out(cmd)
	if !v.Valid {
		at := "unknown"
		if v.BlockIndex != nil {
			at = fmt.Sprint(*v.BlockIndex)
		}
		p.Warning("Chain invalid at block %s: %s", at, v.Reason)
		return fmt.Errorf("%w: block %s: %s", apperrors.ErrCorruptLedger, at, v.Reason)
	}
	p.Success("Chain intact: %d blocks, %d signed", v.BlockCount, v.SignedBlocks)
	return nil
}

func runEvidenceAppend(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	label := flags.String("type")
	data := flags.String("data")
	if err := flags.Err(); err != nil {
		return err
	}

	var raw json.RawMessage
	if data != "" {
		if !json.Valid([]byte(data)) {
			return fmt.Errorf("--data must be valid JSON")
		}
		raw = json.RawMessage(data)
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}

	block, err := a.Ledger.Append(cmd.Context(), ledger.ManualPayload{Label: label, Data: raw})
	if err != nil {
		return err
	}
	out(cmd).Success("Appended block %d %s", block.Index, shortHash(block.Hash))
	return nil
}

func runEvidenceQuery(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	kind := flags.String("type")
	since := flags.Duration("since")
	asJSON := flags.Bool("json")
	if err := flags.Err(); err != nil {
		return err
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}

	var blocks []ledger.Block
	switch {
	case kind != "":
		blocks = a.Ledger.ByType(kind)
	case since > 0:
		now := time.Now().UTC()
		blocks = a.Ledger.ByTimeRange(now.Add(-since), now)
	default:
		blocks = a.Ledger.Blocks()
	}

	p := out(cmd)
	if asJSON {
		if blocks == nil {
			blocks = []ledger.Block{}
		}
		return p.JSON(blocks)
	}
	p.Info("%d block(s)", len(blocks))
	for _, b := range blocks {
		printBlock(p, b)
	}
	return nil
}

func printBlock(p printer, b ledger.Block) {
	signed := ""
	if b.Signature != "" {
		signed = " signed"
	}
	p.Info("#%-5d %s  %-12s %s%s", b.Index, b.Timestamp.Format(time.RFC3339), b.Data.Type, shortHash(b.Hash), signed)
}
