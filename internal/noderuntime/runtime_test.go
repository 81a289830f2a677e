package noderuntime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/time/rate"

	"github.com/cortexmesh/cortex-id/internal/registry"
)

func newTestRuntime() *Runtime {
	return &Runtime{
		log:       slog.Default(),
		registry:  registry.New(),
		version:   "test",
		cmdCh:     make(chan Command, commandQueueCapacity),
		injectCh:  make(chan injectRequest, 1),
		listening: make(chan struct{}),
	}
}

func TestEnqueueBackpressure(t *testing.T) {
	r := newTestRuntime()

	for i := 0; i < commandQueueCapacity; i++ {
		if !r.enqueue(Command{Kind: CmdGetProviders}) {
			t.Fatalf("enqueue %d: expected success while queue has room", i)
		}
	}

	if r.enqueue(Command{Kind: CmdAnnounceNode}) {
		t.Fatal("enqueue on a full queue should report failure, not block")
	}

	<-r.cmdCh // drain one slot
	if !r.enqueue(Command{Kind: CmdAnnounceNode}) {
		t.Fatal("enqueue should succeed again once a slot is drained")
	}
}

func TestStateAdvanceForwardOnly(t *testing.T) {
	r := newTestRuntime()
	r.advance(StateRunning)
	r.advance(StateListening) // backward move, must be ignored

	if got := r.State(); got != StateRunning {
		t.Fatalf("State() = %v, want %v (backward advance must be a no-op)", got, StateRunning)
	}
}

func TestStateAdvanceShutdownFromAnyState(t *testing.T) {
	r := newTestRuntime()
	r.advance(StateJoined)
	r.advance(StateShutdown)

	if got := r.State(); got != StateShutdown {
		t.Fatalf("State() = %v, want %v", got, StateShutdown)
	}
}

func TestInjectReturnsOnContextCancellation(t *testing.T) {
	r := newTestRuntime()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// injectCh has no reader, so Inject must return via ctx.Done()
	// instead of blocking forever.
	done := make(chan error, 1)
	go func() { done <- r.Inject(ctx, []byte("payload")) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("Inject did not return after context cancellation")
	}
}

func TestLightScheduleGoroutineExitsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newTestRuntime()
	close(r.listening) // start-up barrier already satisfied

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.runLightSchedule(ctx)
		close(done)
	}()

	// Let the schedule enqueue its first GetProviders command, then
	// cancel before the 5-second inter-tick delay elapses.
	<-r.cmdCh
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runLightSchedule did not exit after context cancellation")
	}
}

func TestBootstrapScheduleGoroutineExitsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newTestRuntime()
	close(r.listening)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.runBootstrapSchedule(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runBootstrapSchedule did not exit after context cancellation")
	}
}

func TestPurgeLoopRemovesStaleEntries(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newTestRuntime()
	r.ttl = 10 * time.Millisecond
	r.registry.UpdateFromAnnounce(registry.AnnounceMsg{NodeID: "stale-peer", Version: "v1"}, time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.runPurgeLoop(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for r.registry.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.registry.Len() != 0 {
		t.Fatalf("registry still has %d entries after purge loop ran", r.registry.Len())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runPurgeLoop did not exit after context cancellation")
	}
}

func TestAnnounceNodeRateLimited(t *testing.T) {
	r := newTestRuntime()
	r.announceLimiter = rate.NewLimiter(rate.Limit(1.0/10), 1)

	// Draining the single burst token directly mirrors what the first
	// announceNode call would consume; a second call within the same
	// window must be skipped rather than publishing twice.
	if !r.announceLimiter.Allow() {
		t.Fatal("expected the first Allow() to succeed with a fresh limiter")
	}
	if r.announceLimiter.Allow() {
		t.Fatal("expected the immediately-following Allow() to be rate-limited")
	}

	// With the token gone, announceNode must return before building or
	// publishing anything (this runtime has no identity or behaviour),
	// so the state never reaches Running.
	r.announceNode(context.Background())
	if got := r.State(); got == StateRunning {
		t.Fatalf("State() = %v after a rate-limited announceNode, want it not to reach %v", got, StateRunning)
	}
}
