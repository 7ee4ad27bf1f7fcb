package cli

import (
	"github.com/spf13/cobra"

	"github.com/torsentry/torsentry/internal/cli/runner"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Inspect the local Tor proxy",
}

var proxyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Discover and verify the proxy",
	Long: `Probe the candidate SOCKS ports in order and verify the first one that
answers with a second, independent request. Exits non-zero when no proxy is
reachable; a reachable but unverified proxy only warns.`,
	RunE: runners.Defaults().Wrap(runProxyCheck),
}

func init() {
	proxyCheckCmd.Flags().Bool("json", false, "Print the result as JSON")
	proxyCmd.AddCommand(proxyCheckCmd)
	rootCmd.AddCommand(proxyCmd)
}

func runProxyCheck(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	asJSON := flags.Bool("json")
	if err := flags.Err(); err != nil {
		return err
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}

	res := a.Connector.Verify(cmd.Context())
	p := out(cmd)
	if asJSON {
		if err := p.JSON(res); err != nil {
			return err
		}
	} else {
		switch {
		case !res.Connected:
			p.Warning("No proxy reachable: %s", res.Reason)
		case !res.Verified:
			p.Warning("Proxy at %s answered but could not be verified: %s", res.Address, res.Warning)
		default:
			p.Success("Proxy verified at %s", res.Address)
		}
	}

	if !res.Connected {
		return res.Err()
	}
	return nil
}
