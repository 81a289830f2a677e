// Package noderuntime drives the single-threaded event loop that
// multiplexes the mesh swarm, a periodic command scheduler, and
// Control API injection requests over one shared registry.
package noderuntime

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cortexmesh/cortex-id/internal/identity"
	"github.com/cortexmesh/cortex-id/internal/meshmetrics"
	"github.com/cortexmesh/cortex-id/internal/meshnet"
	"github.com/cortexmesh/cortex-id/internal/registry"
)

// announceRateLimit and announceRateBurst cap outbound AnnounceNode
// gossip publishes. This is defensive only: under the documented
// schedules (45s bootstrap, 35s effective light cycle) the limiter
// never throttles a correctly behaving node; it exists so a
// misconfigured scheduler or a future tighter cadence can't spam the
// gossip topic faster than the mesh was designed for.
const (
	announceRateLimit = rate.Limit(1.0 / 10)
	announceRateBurst = 1
)

// Role distinguishes the two node lifecycles that share the same
// event loop and swarm behaviour.
type Role int

const (
	RoleBootstrap Role = iota
	RoleLight
)

func (r Role) String() string {
	if r == RoleBootstrap {
		return "bootstrap"
	}
	return "light"
}

// Config configures a Runtime.
type Config struct {
	Role          Role
	Identity      *identity.Identity
	Behaviour     *meshnet.Behaviour
	Registry      *registry.Registry
	TTL           time.Duration
	BootstrapPeer string // CORTEX_BOOTSTRAP_PEER, light role only
	Version       string // gossiped in AnnounceMsg.Version; defaults to "dev"
	Metrics       *meshmetrics.Metrics
	Logger        *slog.Logger
}

// Runtime is the node-runtime subsystem: the swarm event loop, the
// periodic scheduler for its role, and the registry updater. The
// swarm (via Behaviour) is single-writer, exclusively owned by Run's
// goroutine; every other component reaches it only through the
// command queue or the injection channel.
type Runtime struct {
	role      Role
	id        *identity.Identity
	behaviour *meshnet.Behaviour
	registry  *registry.Registry
	ttl       time.Duration
	bootstrap string
	version   string
	metrics   *meshmetrics.Metrics
	log       *slog.Logger

	cmdCh    chan Command
	injectCh chan injectRequest

	announceLimiter *rate.Limiter

	state atomic.Int32

	listening chan struct{} // closed once, on first listener address
}

type injectRequest struct {
	payload []byte
	result  chan error
}

// New constructs a Runtime. It does not start anything; call Run.
func New(cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Runtime{
		role:            cfg.Role,
		id:              cfg.Identity,
		behaviour:       cfg.Behaviour,
		registry:        cfg.Registry,
		ttl:             cfg.TTL,
		bootstrap:       cfg.BootstrapPeer,
		version:         version,
		metrics:         cfg.Metrics,
		log:             logger,
		cmdCh:           make(chan Command, commandQueueCapacity),
		injectCh:        make(chan injectRequest, 1),
		announceLimiter: rate.NewLimiter(announceRateLimit, announceRateBurst),
		listening:       make(chan struct{}),
	}
}

// Inject hands payload (an encoded CommunicatorMessage) to the runtime
// for publication on the communicator topic. It blocks until the
// runtime's loop has processed the request — the Control API performs
// no buffering beyond this single call.
func (r *Runtime) Inject(ctx context.Context, payload []byte) error {
	req := injectRequest{payload: payload, result: make(chan error, 1)}
	select {
	case r.injectCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the event loop until ctx is cancelled or the swarm ends
// the event stream. It starts the swarm behaviour and the role's
// periodic schedulers; each scheduler waits on the start-up barrier
// (first listener address, observed by the event loop) before it
// enqueues any command.
//
// The schedulers, the TTL purge loop, and the event loop itself run
// as sibling goroutines under one errgroup.Group: if the event loop
// hits the one fatal condition (errSwarmEnded), the group's derived
// context cancels and the schedulers unwind promptly instead of
// ticking against a dead swarm until the process exits.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.behaviour.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	switch r.role {
	case RoleBootstrap:
		if err := r.behaviour.StartProviding(ctx); err != nil {
			r.log.Warn("dht start-providing failed, continuing in degraded mode", "error", err)
			if r.metrics != nil {
				r.metrics.DHTProvidersTotal.WithLabelValues("start-providing", "error").Inc()
			}
		} else if r.metrics != nil {
			r.metrics.DHTProvidersTotal.WithLabelValues("start-providing", "ok").Inc()
		}
		g.Go(func() error { r.runBootstrapSchedule(gctx); return nil })
	case RoleLight:
		r.dialConfiguredBootstrap(ctx)
		g.Go(func() error { r.runLightSchedule(gctx); return nil })
	}

	if r.ttl > 0 {
		g.Go(func() error { r.runPurgeLoop(gctx); return nil })
	}

	defer r.advance(StateShutdown)

	g.Go(func() error {
		events := r.behaviour.Events()
		for {
			select {
			case <-gctx.Done():
				r.log.Info("node runtime shutting down")
				return nil

			case ev, ok := <-events:
				if !ok {
					// Terminal stream end from the swarm is fatal.
					return errSwarmEnded
				}
				r.handleEvent(gctx, ev)

			case cmd := <-r.cmdCh:
				r.handleCommand(gctx, cmd)

			case req := <-r.injectCh:
				err := r.publishCommunicator(gctx, req.payload)
				req.result <- err
			}
		}
	})

	return g.Wait()
}

// waitForListening blocks until the first new-listener-address event
// has been observed, or ctx is done. Both roles call this before their
// periodic commands start having any effect.
func (r *Runtime) waitForListening(ctx context.Context) error {
	select {
	case <-r.listening:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
