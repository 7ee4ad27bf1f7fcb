// Package server runs a long-lived service until a signal or context
// cancellation, then shuts it down in order.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/torsentry/torsentry/internal/logging"
)

// ShutdownTimeout is the default timeout for graceful shutdown
const ShutdownTimeout = 5 * time.Second

// Service is anything with a blocking start and a graceful stop, such as
// *http.Server or the API server.
type Service interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// GracefulServer wraps a Service with graceful shutdown capabilities
type GracefulServer struct {
	service      Service
	beforeStop   func()
	shutdownHook func()
	timeout      time.Duration
	signals      []os.Signal
}

// GracefulServerOptions configures a GracefulServer
type GracefulServerOptions struct {
	// BeforeStop is called before initiating shutdown (e.g., stop scheduler)
	BeforeStop func()
	// ShutdownHook is called after server shutdown completes
	ShutdownHook func()
	// Timeout bounds Shutdown; zero means ShutdownTimeout
	Timeout time.Duration
}

// NewGracefulServer creates a server wrapper with graceful shutdown
func NewGracefulServer(service Service, opts *GracefulServerOptions) *GracefulServer {
	gs := &GracefulServer{
		service: service,
		timeout: ShutdownTimeout,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	if opts != nil {
		gs.beforeStop = opts.BeforeStop
		gs.shutdownHook = opts.ShutdownHook
		if opts.Timeout > 0 {
			gs.timeout = opts.Timeout
		}
	}
	return gs
}

// ListenAndServe starts the service and blocks until it fails, ctx is
// canceled, or SIGINT/SIGTERM arrives. The last two trigger Shutdown.
func (gs *GracefulServer) ListenAndServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, gs.signals...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := gs.service.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logging.Error("Server error", logging.Err(err))
		if gs.beforeStop != nil {
			gs.beforeStop()
		}
		return err
	case <-ctx.Done():
		return gs.Shutdown()
	}
}

// Shutdown runs BeforeStop, shuts the service down, then runs the hook
func (gs *GracefulServer) Shutdown() error {
	logging.Info("Shutting down...")

	if gs.beforeStop != nil {
		gs.beforeStop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	if err := gs.service.Shutdown(ctx); err != nil {
		return err
	}

	if gs.shutdownHook != nil {
		gs.shutdownHook()
	}

	logging.Info("Server stopped")
	return nil
}

// RunWithGracefulShutdown serves an http.Server until a shutdown signal.
// beforeStop is called before shutdown begins (can be nil).
func RunWithGracefulShutdown(ctx context.Context, srv *http.Server, beforeStop func()) error {
	gs := NewGracefulServer(httpService{srv}, &GracefulServerOptions{
		BeforeStop: beforeStop,
	})
	return gs.ListenAndServe(ctx)
}

type httpService struct{ *http.Server }

func (h httpService) Start() error { return h.ListenAndServe() }
