// Package grpc provides Connect-RPC handlers for torsentry. The services
// carry google.protobuf.Struct messages, so the Connect, gRPC, and gRPC-Web
// protocols all work without generated stubs.
package grpc

import (
	"net/http"

	"connectrpc.com/connect"

	"github.com/torsentry/torsentry/internal/app"
	"github.com/torsentry/torsentry/internal/scheduler"
)

// Procedure paths
const (
	HealthCheckProcedure = "/torsentry.v1.HealthService/Check"

	RunCycleProcedure       = "/torsentry.v1.MonitorService/RunCycle"
	VerifyProxyProcedure    = "/torsentry.v1.MonitorService/VerifyProxy"
	TrafficStatsProcedure   = "/torsentry.v1.MonitorService/TrafficStats"
	ThreatsProcedure        = "/torsentry.v1.MonitorService/Threats"
	LiveFeedProcedure       = "/torsentry.v1.MonitorService/LiveFeed"
	EvidenceReportProcedure = "/torsentry.v1.EvidenceService/Report"
	VerifyEvidenceProcedure = "/torsentry.v1.EvidenceService/Verify"
	AppendEvidenceProcedure = "/torsentry.v1.EvidenceService/Append"
	QueryEvidenceProcedure  = "/torsentry.v1.EvidenceService/Query"
	ScheduleStatusProcedure = "/torsentry.v1.ScheduleService/Status"
)

// Server wraps all Connect-RPC handlers
type Server struct {
	app       *app.App
	scheduler *scheduler.Scheduler
}

// NewServer creates a Connect-RPC server over the wired application
func NewServer(a *app.App) *Server {
	return &Server{app: a}
}

// SetScheduler sets the cycle scheduler reported by ScheduleService
func (s *Server) SetScheduler(sched *scheduler.Scheduler) {
	s.scheduler = sched
}

// RegisterHandlers mounts every procedure at its canonical path.
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	authConfig := &AuthConfig{APIKey: s.app.Config.ResolveAPIKey()}

	opts := connect.WithInterceptors(
		newLoggingInterceptor(),
		newAuthInterceptor(authConfig),
	)

	health := newHealthServer(s)
	mux.Handle(HealthCheckProcedure, connect.NewUnaryHandler(HealthCheckProcedure, health.Check, opts))

	monitor := newMonitorServer(s)
	mux.Handle(RunCycleProcedure, connect.NewUnaryHandler(RunCycleProcedure, monitor.RunCycle, opts))
	mux.Handle(VerifyProxyProcedure, connect.NewUnaryHandler(VerifyProxyProcedure, monitor.VerifyProxy, opts))
	mux.Handle(TrafficStatsProcedure, connect.NewUnaryHandler(TrafficStatsProcedure, monitor.TrafficStats, opts))
	mux.Handle(ThreatsProcedure, connect.NewUnaryHandler(ThreatsProcedure, monitor.Threats, opts))
	mux.Handle(LiveFeedProcedure, connect.NewUnaryHandler(LiveFeedProcedure, monitor.LiveFeed, opts))

	evidence := newEvidenceServer(s)
	mux.Handle(EvidenceReportProcedure, connect.NewUnaryHandler(EvidenceReportProcedure, evidence.Report, opts))
	mux.Handle(VerifyEvidenceProcedure, connect.NewUnaryHandler(VerifyEvidenceProcedure, evidence.Verify, opts))
	mux.Handle(AppendEvidenceProcedure, connect.NewUnaryHandler(AppendEvidenceProcedure, evidence.Append, opts))
	mux.Handle(QueryEvidenceProcedure, connect.NewUnaryHandler(QueryEvidenceProcedure, evidence.Query, opts))

	schedule := newScheduleServer(s)
	mux.Handle(ScheduleStatusProcedure, connect.NewUnaryHandler(ScheduleStatusProcedure, schedule.Status, opts))
}
