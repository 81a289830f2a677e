// Command cortex-id runs one mesh node: it loads or generates the
// node's identity, joins the gossip/mDNS/DHT swarm, runs the node
// runtime's event loop for the selected role, and serves the Control
// API until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/cortexmesh/cortex-id/internal/controlapi"
	"github.com/cortexmesh/cortex-id/internal/cortexlog"
	"github.com/cortexmesh/cortex-id/internal/identity"
	"github.com/cortexmesh/cortex-id/internal/meshmetrics"
	"github.com/cortexmesh/cortex-id/internal/meshnet"
	"github.com/cortexmesh/cortex-id/internal/noderuntime"
	"github.com/cortexmesh/cortex-id/internal/registry"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0" -o cortex-id ./cmd/cortex-id
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		mode          = flag.String("mode", "light", "node role: bootstrap or light")
		bootstrapPeer = flag.String("bootstrap-peer", "", "multiaddr of a bootstrap peer (light role only; overrides CORTEX_BOOTSTRAP_PEER)")
		port          = flag.Int("port", 7700, "Control API listen port")
		ttl           = flag.Duration("ttl", 2*time.Minute, "registry entry TTL before it is purged as stale")
		logLevel      = flag.String("log-level", "info", "log level: debug, info, warn, error")
		metricsOn     = flag.Bool("metrics", true, "expose GET /metrics on the control API")
	)
	flag.Parse()

	level := parseLevel(*logLevel)
	logger := cortexlog.Init(level)

	role, roleName := parseRole(*mode)
	if roleName != *mode {
		logger.Warn("unknown --mode, falling back to light", "requested", *mode)
	}

	nodeName := os.Getenv("NODE_NAME")
	logger = cortexlog.With(nodeName, role.String())
	logger.Info("cortex-id starting", "version", version, "go", runtime.Version())

	id, err := identity.LoadOrGenerate(identity.Dir())
	if err != nil {
		logger.Error("identity load/generate failed", "error", err)
		return 1
	}
	if err := identity.SaveInfo(identity.Dir(), id); err != nil {
		logger.Warn("writing identity.json failed, continuing", "error", err)
	}
	logger.Info("identity loaded", "node_id", id.NodeID)

	priv, err := crypto.UnmarshalEd25519PrivateKey(id.PrivateKey)
	if err != nil {
		logger.Error("deriving libp2p private key failed", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dhtMode := dht.ModeClient
	floodPublish := false
	if role == noderuntime.RoleBootstrap {
		dhtMode = dht.ModeServer
		floodPublish = true
	}

	behaviour, err := meshnet.NewBehaviour(ctx, meshnet.Config{
		PrivateKey:   priv,
		DHTMode:      dhtMode,
		FloodPublish: floodPublish,
	})
	if err != nil {
		logger.Error("constructing mesh behaviour failed", "error", err)
		return 1
	}
	defer behaviour.Close()

	reg := registry.New()
	metrics := meshmetrics.New(version, runtime.Version())

	bootstrapAddr := *bootstrapPeer
	if bootstrapAddr == "" {
		bootstrapAddr = os.Getenv("CORTEX_BOOTSTRAP_PEER")
	}

	rt := noderuntime.New(noderuntime.Config{
		Role:          role,
		Identity:      id,
		Behaviour:     behaviour,
		Registry:      reg,
		TTL:           *ttl,
		BootstrapPeer: bootstrapAddr,
		Version:       version,
		Metrics:       metrics,
		Logger:        logger,
	})

	apiMetrics := metrics
	if !*metricsOn {
		apiMetrics = nil
	}
	api := controlapi.NewServer(fmt.Sprintf("0.0.0.0:%d", *port), rt, reg, apiMetrics, logger)
	if err := api.Start(); err != nil {
		logger.Error("control api failed to start", "error", err)
		return 1
	}

	runErr := rt.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control api shutdown error", "error", err)
	}

	if runErr != nil {
		logger.Error("node runtime ended", "error", runErr)
		return 1
	}
	logger.Info("cortex-id stopped cleanly")
	return 0
}

// parseRole maps a --mode string to a Role, returning the effective
// mode name so the caller can warn on an unrecognised value. Unknown
// strings fall back to light, per spec.
func parseRole(mode string) (noderuntime.Role, string) {
	switch mode {
	case "bootstrap":
		return noderuntime.RoleBootstrap, "bootstrap"
	case "light":
		return noderuntime.RoleLight, "light"
	default:
		return noderuntime.RoleLight, "light"
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
