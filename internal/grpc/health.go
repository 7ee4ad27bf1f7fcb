package grpc

import (
	"context"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// healthServer implements the HealthService
type healthServer struct {
	server *Server
}

func newHealthServer(s *Server) *healthServer {
	return &healthServer{server: s}
}

// Check reports liveness and the last known proxy state without probing.
func (h *healthServer) Check(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return respond("health check", map[string]interface{}{
		"status":     "ok",
		"proxyState": h.server.app.Connector.Last().State.String(),
	})
}
