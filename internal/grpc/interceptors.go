package grpc

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/torsentry/torsentry/internal/logging"
)

// loggingInterceptor logs RPC calls
type loggingInterceptor struct {
	log *zap.Logger
}

func newLoggingInterceptor() connect.Interceptor {
	return &loggingInterceptor{log: logging.Named("rpc")}
}

func (i *loggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("procedure", req.Spec().Procedure),
			zap.Duration("took", time.Since(start)),
		}
		if err != nil {
			i.log.Debug("rpc failed", append(fields, zap.String("code", connect.CodeOf(err).String()), zap.Error(err))...)
		} else {
			i.log.Debug("rpc", fields...)
		}
		return resp, err
	}
}

func (i *loggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // No streaming RPCs in our API
}

func (i *loggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next // No streaming RPCs in our API
}
