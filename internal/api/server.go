// Package api provides the HTTP surface for torsentry: JSON endpoints over
// the analysis pipeline, a websocket live feed, and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/torsentry/torsentry/internal/app"
	"github.com/torsentry/torsentry/internal/logging"
	"github.com/torsentry/torsentry/internal/middleware"
	"github.com/torsentry/torsentry/internal/scheduler"
)

// HandlerRegistrar mounts additional handlers, such as the RPC service.
type HandlerRegistrar interface {
	RegisterHandlers(mux *http.ServeMux)
}

// ServerOptions contains optional components
type ServerOptions struct {
	// Scheduler is reported by /api/schedule when set
	Scheduler *scheduler.Scheduler
	// RPC handlers are mounted on the same mux when set
	RPC HandlerRegistrar
	// LiveInterval overrides the configured live feed cadence
	LiveInterval time.Duration
}

// Server is the HTTP API server
type Server struct {
	httpServer *http.Server
	app        *app.App
	scheduler  *scheduler.Scheduler
	live       *liveHub
	limiter    *middleware.RateLimiter
	addr       string
	log        *zap.Logger
}

// NewServer creates a new API server. Call StartLive to begin the live
// broadcast and Shutdown to stop everything.
func NewServer(a *app.App, addr string, opts *ServerOptions) *Server {
	if opts == nil {
		opts = &ServerOptions{}
	}
	interval := opts.LiveInterval
	if interval <= 0 {
		interval = a.Config.LiveInterval()
	}

	s := &Server{
		app:       a,
		scheduler: opts.Scheduler,
		addr:      addr,
		log:       logging.Named("api"),
	}
	s.live = newLiveHub(a.Orchestrator, interval, s.log)

	limits := middleware.RateLimitFromConfig(a.Config.API)
	limits.Exempt = []string{"/health", "/metrics", "/api/live"}
	s.limiter = middleware.NewRateLimiter(limits)

	apiMux := http.NewServeMux()
	s.registerRoutes(apiMux)

	// RPC handlers authenticate in their own interceptor.
	root := http.NewServeMux()
	root.Handle("/", middleware.RequireAPIKey(a.Config.ResolveAPIKey())(apiMux))
	if opts.RPC != nil {
		opts.RPC.RegisterHandlers(root)
	}

	var handler http.Handler = root
	handler = s.limiter.Middleware(handler)
	handler = withCORS(handler)
	handler = withLogging(s.log, handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Cycles wait on the proxy; the write timeout covers a full cycle.
		WriteTimeout: 2*a.Config.RequestTimeout() + 30*time.Second,
	}
	return s
}

// StartLive starts the websocket broadcast loop.
func (s *Server) StartLive() {
	s.live.start()
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting torsentry API server", zap.String("addr", s.addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the live feed and the rate limiter, then shuts down the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.live.stop()
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// Close is Shutdown without waiting for in-flight requests.
func (s *Server) Close() error {
	s.live.stop()
	s.limiter.Stop()
	return s.httpServer.Close()
}

// HTTPServer returns the underlying server
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Addr returns the server's listen address
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
