package noderuntime

import (
	"context"
	"time"
)

// purgeInterval is how often the runtime sweeps the registry for
// entries whose age has crossed the configured TTL. It runs
// independently of the role's announce/get-providers schedule — TTL
// expiry is a registry-local concern, not a swarm command.
const purgeInterval = 1 * time.Second

// runPurgeLoop periodically removes registry entries older than r.ttl.
// PurgeStale is itself infallible and lock-scoped to a single method
// call, so this is safe to run from its own goroutine alongside the
// swarm event loop and the role's scheduler.
func (r *Runtime) runPurgeLoop(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := r.registry.PurgeStale(r.ttl, time.Now())
			if removed == 0 {
				continue
			}
			r.log.Debug("purged stale registry entries", "count", removed)
			if r.metrics != nil {
				r.metrics.RegistryPurgedTotal.Add(float64(removed))
				r.metrics.RegistrySize.Set(float64(r.registry.Len()))
			}
		}
	}
}
