package grpc

import (
	"context"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// monitorServer implements the MonitorService
type monitorServer struct {
	server *Server
}

func newMonitorServer(s *Server) *monitorServer {
	return &monitorServer{server: s}
}

// RunCycle runs one scan cycle and returns its snapshot.
func (m *monitorServer) RunCycle(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	snap, err := m.server.app.Orchestrator.RunCycle(ctx)
	if err != nil {
		return nil, toConnectError("run cycle", err)
	}
	return respond("run cycle", snap)
}

// VerifyProxy discovers and verifies the proxy.
func (m *monitorServer) VerifyProxy(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	res := m.server.app.Connector.Verify(ctx)
	if !res.Connected {
		return nil, toConnectError("verify proxy", res.Err())
	}
	return respond("verify proxy", res)
}

func (m *monitorServer) TrafficStats(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	mon := m.server.app.Monitor
	return respond("traffic stats", map[string]interface{}{
		"stats":    mon.Stats(),
		"patterns": mon.Patterns(),
	})
}

func (m *monitorServer) Threats(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	threats := m.server.app.Threats
	return respond("threats", map[string]interface{}{
		"summary": threats.Summary(),
		"active":  threats.Active(),
	})
}

// LiveFeed returns one live snapshot. It never appends evidence.
func (m *monitorServer) LiveFeed(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return respond("live feed", m.server.app.Orchestrator.LiveFeed())
}
