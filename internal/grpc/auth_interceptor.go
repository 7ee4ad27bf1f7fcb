package grpc

import (
	"context"

	"connectrpc.com/connect"

	"github.com/torsentry/torsentry/internal/middleware"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// APIKey is the required API key. Empty leaves the service open.
	APIKey string
}

// authInterceptor validates API key authentication
type authInterceptor struct {
	config *AuthConfig
}

func newAuthInterceptor(config *AuthConfig) connect.Interceptor {
	return &authInterceptor{config: config}
}

// healthCheckProcedures are exempt from authentication
var healthCheckProcedures = map[string]bool{
	HealthCheckProcedure: true,
}

func (i *authInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if healthCheckProcedures[req.Spec().Procedure] {
			return next(ctx, req)
		}
		if !middleware.ValidAPIKey(i.config.APIKey, middleware.APIKeyFromHeader(req.Header())) {
			return nil, connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, req)
	}
}

func (i *authInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // No streaming RPCs in our API
}

func (i *authInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if !middleware.ValidAPIKey(i.config.APIKey, middleware.APIKeyFromHeader(conn.RequestHeader())) {
			return connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, conn)
	}
}
