package grpc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/torsentry/torsentry/internal/ledger"
)

// evidenceServer implements the EvidenceService
type evidenceServer struct {
	server *Server
}

func newEvidenceServer(s *Server) *evidenceServer {
	return &evidenceServer{server: s}
}

type appendRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type queryRequest struct {
	Type  string `json:"type"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (e *evidenceServer) Report(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return respond("evidence report", e.server.app.Ledger.Report())
}

func (e *evidenceServer) Verify(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return respond("verify evidence", e.server.app.Ledger.Verify())
}

// Append records operator evidence as a manual payload.
func (e *evidenceServer) Append(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var body appendRequest
	if err := fromStruct(req.Msg, &body); err != nil {
		return nil, invalidArgument("malformed request: %v", err)
	}
	body.Type = strings.TrimSpace(body.Type)
	if body.Type == "" {
		return nil, invalidArgument("type is required")
	}
	if len(body.Type) > 128 {
		return nil, invalidArgument("type must be at most 128 characters")
	}

	block, err := e.server.app.Ledger.Append(ctx, ledger.ManualPayload{Label: body.Type, Data: body.Data})
	if err != nil {
		return nil, toConnectError("append evidence", err)
	}
	return respond("append evidence", block)
}

// Query filters blocks by payload type, or by an RFC3339 time range when no
// type is given.
func (e *evidenceServer) Query(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var q queryRequest
	if err := fromStruct(req.Msg, &q); err != nil {
		return nil, invalidArgument("malformed request: %v", err)
	}

	var blocks []ledger.Block
	if q.Type != "" {
		blocks = e.server.app.Ledger.ByType(q.Type)
	} else {
		start, end := time.Time{}, time.Now().UTC()
		var err error
		if q.Start != "" {
			if start, err = time.Parse(time.RFC3339, q.Start); err != nil {
				return nil, invalidArgument("start must be RFC3339")
			}
		}
		if q.End != "" {
			if end, err = time.Parse(time.RFC3339, q.End); err != nil {
				return nil, invalidArgument("end must be RFC3339")
			}
		}
		if end.Before(start) {
			return nil, invalidArgument("end must not be before start")
		}
		blocks = e.server.app.Ledger.ByTimeRange(start, end)
	}

	if blocks == nil {
		blocks = []ledger.Block{}
	}
	return respond("query evidence", map[string]interface{}{
		"count":  len(blocks),
		"blocks": blocks,
	})
}
