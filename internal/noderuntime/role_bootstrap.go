package noderuntime

import (
	"context"
	"time"
)

const (
	bootstrapGetProvidersInterval = 30 * time.Second
	bootstrapAnnounceInterval     = 45 * time.Second
	bootstrapSnapshotInterval     = 60 * time.Second
)

// runBootstrapSchedule implements the bootstrap role's periodic
// commands: GetProviders every 30s, AnnounceNode every 45s, and a
// registry snapshot printed every 60s. It waits for the start-up
// barrier before creating its tickers, so no command is enqueued until
// the swarm is listening.
func (r *Runtime) runBootstrapSchedule(ctx context.Context) {
	if err := r.waitForListening(ctx); err != nil {
		return
	}

	getProviders := time.NewTicker(bootstrapGetProvidersInterval)
	defer getProviders.Stop()
	announce := time.NewTicker(bootstrapAnnounceInterval)
	defer announce.Stop()
	snapshot := time.NewTicker(bootstrapSnapshotInterval)
	defer snapshot.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-getProviders.C:
			if !r.enqueue(Command{Kind: CmdGetProviders}) {
				r.log.Warn("command queue full, skipping scheduled get-providers tick")
			}
		case <-announce.C:
			if !r.enqueue(Command{Kind: CmdAnnounceNode}) {
				r.log.Warn("command queue full, skipping scheduled announce tick")
			}
		case <-snapshot.C:
			r.printSnapshot()
		}
	}
}

func (r *Runtime) printSnapshot() {
	data, err := r.registry.SnapshotJSON(time.Now())
	if err != nil {
		r.log.Warn("rendering registry snapshot failed", "error", err)
		return
	}
	r.log.Info("registry snapshot", "snapshot", string(data))
}
