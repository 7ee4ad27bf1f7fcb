package grpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/logging"
	"github.com/torsentry/torsentry/internal/proxy"
)

// toStruct converts a JSON-tagged Go value into a protobuf Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert %T: %w", v, err)
	}
	return out, nil
}

// fromStruct decodes a protobuf Struct into a JSON-tagged Go value.
func fromStruct(s *structpb.Struct, v interface{}) error {
	if s == nil {
		return nil
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// respond wraps v as a Struct response.
func respond(op string, v interface{}) (*connect.Response[structpb.Struct], error) {
	msg, err := toStruct(v)
	if err != nil {
		return nil, toConnectError(op, err)
	}
	return connect.NewResponse(msg), nil
}

// toConnectError maps operation errors to Connect codes. Messages are
// sanitized; unexpected errors are logged and replaced with a generic one.
func toConnectError(op string, err error) error {
	var ce *proxy.ConnectivityError
	switch {
	case errors.As(err, &ce):
		return connect.NewError(connect.CodeUnavailable, errors.New(apperrors.SanitizeString(ce.Reason)))
	case errors.Is(err, apperrors.ErrInvalidURL),
		errors.Is(err, apperrors.ErrUnknownPayload),
		errors.Is(err, apperrors.ErrInvalidConfig):
		return connect.NewError(connect.CodeInvalidArgument, apperrors.NewSafeError(err))
	case errors.Is(err, apperrors.ErrCycleCanceled):
		return connect.NewError(connect.CodeUnavailable, apperrors.NewSafeError(err))
	}

	logging.Error(op+" failed", logging.Err(err))
	return connect.NewError(connect.CodeInternal, errors.New(apperrors.GenericError(op)))
}

func invalidArgument(format string, args ...interface{}) error {
	return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf(format, args...))
}
