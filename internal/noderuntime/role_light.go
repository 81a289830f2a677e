package noderuntime

import (
	"context"
	"time"
)

const (
	lightInitialDelay    = 2 * time.Second
	lightInterTickDelay  = 5 * time.Second
	lightCycleDelay      = 30 * time.Second
)

// runLightSchedule implements the light role's periodic commands: a
// 2-second initial delay, then a loop of GetProviders, a 5-second
// delay, AnnounceNode, and a 30-second delay before repeating — an
// effective 35-second cycle, preserved exactly as the system this was
// modeled on runs it.
func (r *Runtime) runLightSchedule(ctx context.Context) {
	if !sleepCtx(ctx, lightInitialDelay) {
		return
	}
	if err := r.waitForListening(ctx); err != nil {
		return
	}

	for {
		if !r.enqueue(Command{Kind: CmdGetProviders}) {
			r.log.Warn("command queue full, skipping scheduled get-providers tick")
		}
		if !sleepCtx(ctx, lightInterTickDelay) {
			return
		}

		if !r.enqueue(Command{Kind: CmdAnnounceNode}) {
			r.log.Warn("command queue full, skipping scheduled announce tick")
		}
		if !sleepCtx(ctx, lightCycleDelay) {
			return
		}
	}
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes
// first. Returns false if ctx ended the wait.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
