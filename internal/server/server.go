package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tollgate/tollgate/internal/config"
	"github.com/tollgate/tollgate/internal/core/pipeline"
	"github.com/tollgate/tollgate/internal/observability"
	"github.com/tollgate/tollgate/internal/server/handlers"
	servermw "github.com/tollgate/tollgate/internal/server/middleware"
)

// Options configures the HTTP server.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// TrustProxyHeaders rewrites the client address from proxy headers.
	TrustProxyHeaders bool

	// TLS serves HTTPS when both files are set.
	TLS config.TLSConfig

	// Health is served under /-/health when set.
	Health *handlers.HealthManager
	// Metrics exposes /-/metrics.
	Metrics bool
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	opts   Options
	files  pipeline.Handler
}

// New creates a new HTTP server instance dispatching file requests to files.
func New(opts Options, files pipeline.Handler) *Server {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 120 * time.Second
	}

	r := chi.NewRouter()

	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}

	// Our custom middleware in correct order (RequestID → Metrics → Recovery)
	r.Use(servermw.RequestID)      // 1. Request ID (early for correlation)
	r.Use(servermw.RequestMetrics) // 2. Metrics (measure everything)
	r.Use(servermw.Recovery)       // 3. Panic recovery

	// Every path under /* matches a route, so an unmatched method lands here.
	r.MethodNotAllowed(files.HandleUnsupported)
	r.NotFound(notFound)

	s := &Server{
		router: r,
		opts:   opts,
		files:  files,
	}

	// Register routes
	s.registerRoutes()

	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, fmt.Sprint(s.opts.Port))
}

func (s *Server) httpServer() *http.Server {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}
	return s.server
}

// Start starts the HTTP server. net/http serves each connection on its own
// goroutine.
func (s *Server) Start() error {
	srv := s.httpServer()
	tls := s.opts.TLS.Enabled()

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.opts.Host),
			zap.Int("port", s.opts.Port),
			zap.String("addr", srv.Addr),
			zap.Bool("tls", tls))
	}

	if tls {
		return srv.ListenAndServeTLS(s.opts.TLS.CertFile, s.opts.TLS.KeyFile)
	}
	return srv.ListenAndServe()
}

// Serve accepts connections on an existing listener, without TLS.
func (s *Server) Serve(l net.Listener) error {
	return s.httpServer().Serve(l)
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.opts.Port
}
