package grpc

import (
	"context"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// scheduleServer implements the ScheduleService
type scheduleServer struct {
	server *Server
}

func newScheduleServer(s *Server) *scheduleServer {
	return &scheduleServer{server: s}
}

func (s *scheduleServer) Status(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	sched := s.server.scheduler
	if sched == nil {
		return respond("schedule status", map[string]interface{}{
			"enabled":  false,
			"schedule": s.server.app.Config.Scan.Schedule,
		})
	}
	return respond("schedule status", map[string]interface{}{
		"enabled": true,
		"status":  sched.Status(),
	})
}
