package cli

import (
	"github.com/spf13/cobra"

	"github.com/torsentry/torsentry/internal/cli/runner"
	"github.com/torsentry/torsentry/internal/traffic"
)

var trafficCmd = &cobra.Command{
	Use:   "traffic",
	Short: "Monitored requests through the proxy",
}

var trafficFetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch a URL through the verified proxy and record it",
	Args:  cobra.ExactArgs(1),
	RunE:  runners.Defaults().Wrap(runTrafficFetch),
}

func init() {
	f := trafficFetchCmd.Flags()
	f.String("method", "GET", "HTTP method (GET or HEAD)")
	f.Bool("body", false, "Print the response body")
	trafficCmd.AddCommand(trafficFetchCmd)
	rootCmd.AddCommand(trafficCmd)
}

func runTrafficFetch(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	method := flags.String("method")
	showBody := flags.Bool("body")
	if err := flags.Err(); err != nil {
		return err
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}

	res := a.Connector.Verify(cmd.Context())
	if !res.Connected {
		return res.Err()
	}

	sample, body, err := a.Monitor.Record(cmd.Context(), args[0], traffic.WithMethod(method))
	if err != nil {
		return err
	}

	p := out(cmd)
	p.Success("%s %s -> %d", sample.Method, sample.URL, sample.StatusCode)
	p.Info("Size:     %d bytes", sample.DataSize)
	p.Info("Duration: %d ms", sample.DurationMs)
	if !res.Verified {
		p.Warning("Proxy unverified: %s", res.Warning)
	}
	if showBody {
		p.Divider()
		_, err = cmd.OutOrStdout().Write(body)
		return err
	}
	return nil
}
