package cli

import (
	"github.com/spf13/cobra"

	"github.com/torsentry/torsentry/internal/api"
	"github.com/torsentry/torsentry/internal/cli/runner"
	"github.com/torsentry/torsentry/internal/grpc"
	"github.com/torsentry/torsentry/internal/logging"
	"github.com/torsentry/torsentry/internal/scheduler"
	"github.com/torsentry/torsentry/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server with scheduled scan cycles",
	Long: `Start the HTTP API, the websocket live feed, the Connect-RPC services,
and the Prometheus endpoint. Scan cycles run on the configured schedule
until the server is stopped.`,
	Example: `  # Start on the configured address (default :8090)
  torsentry serve

  # Custom address, scan every ten minutes
  torsentry serve --addr :9000 --schedule "every 10m"

  # API only, cycles on demand via /api/scan
  torsentry serve --no-schedule`,
	RunE: runners.Defaults().Wrap(runServe),
}

func init() {
	f := serveCmd.Flags()
	f.StringP("addr", "a", "", "Listen address (default: config or TORSENTRY_ADDR)")
	f.String("schedule", "", "Override the scan schedule for this session")
	f.Bool("no-schedule", false, "Do not run scheduled cycles")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	addr := flags.String("addr")
	scheduleOverride := flags.String("schedule")
	noSchedule := flags.Bool("no-schedule")
	if err := flags.Err(); err != nil {
		return err
	}

	c := ctx.Config
	if flags.Changed("schedule") {
		c.Scan.Schedule = scheduleOverride
	}
	if addr == "" {
		addr = c.ResolveListenAddr()
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}

	rpc := grpc.NewServer(a)

	var sched *scheduler.Scheduler
	if !noSchedule {
		sched, err = a.NewScheduler(scheduler.LoggingCallbacks(logging.Named("scheduler")))
		if err != nil {
			return err
		}
		rpc.SetScheduler(sched)
	}

	srv := api.NewServer(a, addr, &api.ServerOptions{Scheduler: sched, RPC: rpc})
	printServerInfo(a.Config.Scan.Schedule, addr, sched != nil, a.Config.ResolveAPIKey() != "")

	srv.StartLive()
	if sched != nil {
		sched.Start()
	}

	gs := server.NewGracefulServer(srv, &server.GracefulServerOptions{
		BeforeStop: func() {
			if sched != nil {
				sched.Stop()
			}
		},
	})
	logging.Info("Press Ctrl+C to stop")
	return gs.ListenAndServe(cmd.Context())
}

func printServerInfo(schedule, addr string, scheduled, keyed bool) {
	logging.Info("torsentry server starting",
		logging.String("addr", addr),
		logging.Bool("scheduled", scheduled),
		logging.String("schedule", schedule),
		logging.Bool("api_key", keyed))

	logging.Info("Endpoints available:")
	logging.Info("  GET  /health                - Health check")
	logging.Info("  GET  /api/status            - System status")
	logging.Info("  GET  /api/scan              - Run a scan cycle")
	logging.Info("  POST /api/browse            - Monitored fetch through the proxy")
	logging.Info("  GET  /api/evidence          - Evidence report")
	logging.Info("  GET  /api/evidence/verify   - Verify the evidence chain")
	logging.Info("  GET  /api/live              - Live feed (websocket)")
	logging.Info("  GET  /metrics               - Prometheus metrics")
}
