// Package controlapi exposes the mesh's plain HTTP control surface:
// publishing a message onto the communicator gossip topic and reading
// a snapshot of the registry. Unlike the daemon control plane this is
// modeled on, it binds an unauthenticated TCP port under the trusted
// network assumption the node operates within — there is no socket,
// no cookie, and no bearer token here.
package controlapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cortexmesh/cortex-id/internal/meshmetrics"
	"github.com/cortexmesh/cortex-id/internal/noderuntime"
	"github.com/cortexmesh/cortex-id/internal/registry"
)

const maxRequestBodySize = 1 << 20

// Injector is the subset of *noderuntime.Runtime the Control API needs.
// Declaring it as an interface keeps this package testable without a
// live swarm.
type Injector interface {
	Inject(ctx context.Context, payload []byte) error
}

var _ Injector = (*noderuntime.Runtime)(nil)

// Server is the mesh's Control API: a plain HTTP server with no
// authentication, bound to 0.0.0.0:<port>.
type Server struct {
	addr       string
	runtime    Injector
	registry   *registry.Registry
	metrics    *meshmetrics.Metrics
	log        *slog.Logger
	httpServer *http.Server
}

// NewServer constructs a Server listening on addr (host:port). A nil
// logger falls back to slog.Default().
func NewServer(addr string, runtime Injector, reg *registry.Registry, metrics *meshmetrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		runtime:  runtime,
		registry: reg,
		metrics:  metrics,
		log:      logger,
	}
}

// Start binds the listener and begins serving in a background
// goroutine. It returns once the socket is bound, or an error if it
// could not be.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control api: listen on %s: %w", s.addr, err)
	}

	s.httpServer = &http.Server{
		Handler:      WithRequestID(InstrumentHandler(mux, s.metrics)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("control api server error", "error", err)
		}
	}()

	s.log.Info("control api listening", "addr", s.addr)
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
