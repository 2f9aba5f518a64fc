package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
	"github.com/couchcryptid/storm-timeline-sync/internal/events"
	"github.com/couchcryptid/storm-timeline-sync/internal/observability"
	"github.com/couchcryptid/storm-timeline-sync/internal/overlay"
)

// --- mocks ---

type fixedPosition struct {
	mu sync.Mutex
	ts string
}

func (p *fixedPosition) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ts, p.ts != ""
}

func (p *fixedPosition) set(ts string) {
	p.mu.Lock()
	p.ts = ts
	p.mu.Unlock()
}

type staticLayers struct{}

func (staticLayers) ActiveLayers() map[string]domain.LayerState {
	return map[string]domain.LayerState{"Radar": {Visible: true, Opacity: 1}}
}

func (staticLayers) Timestamps() map[string][]string {
	return map[string][]string{"Radar": {"20240101-100000"}}
}

type syncCall struct {
	ctx context.Context
	req overlay.SyncRequest
}

type recordingSyncer struct {
	calls chan syncCall
	block bool
}

func (s *recordingSyncer) Sync(ctx context.Context, req overlay.SyncRequest) (overlay.SyncResult, error) {
	s.calls <- syncCall{ctx: ctx, req: req}
	if s.block {
		<-ctx.Done()
		return overlay.SyncResult{Stale: true}, nil
	}
	return overlay.SyncResult{}, nil
}

func startLoop(t *testing.T, syncer Syncer, pos Position) (*events.Bus, *clockwork.FakeClock, *observability.Metrics, context.CancelFunc) {
	t.Helper()
	bus := events.NewBus()
	clock := clockwork.NewFakeClock()
	metrics := observability.NewMetricsForTesting()
	loop := NewLoop(bus, pos, staticLayers{}, syncer, clock, 200*time.Millisecond, observability.DiscardLogger(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	return bus, clock, metrics, cancel
}

func receive(t *testing.T, ch <-chan syncCall) syncCall {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sync")
		return syncCall{}
	}
}

// --- tests ---

func TestLoop_InitialSync(t *testing.T) {
	syncer := &recordingSyncer{calls: make(chan syncCall, 4)}
	pos := &fixedPosition{ts: "20240101-100000"}
	_, clock, metrics, _ := startLoop(t, syncer, pos)

	clock.Advance(200 * time.Millisecond)
	call := receive(t, syncer.calls)

	assert.Equal(t, "20240101-100000", call.req.Target)
	assert.Contains(t, call.req.Layers, "Radar")
	assert.Equal(t, []string{"20240101-100000"}, call.req.Timestamps["Radar"])
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SyncInvocations), 0)
}

func TestLoop_BurstCollapsesToOneSync(t *testing.T) {
	syncer := &recordingSyncer{calls: make(chan syncCall, 4)}
	pos := &fixedPosition{ts: "20240101-100000"}
	bus, clock, metrics, _ := startLoop(t, syncer, pos)

	clock.Advance(200 * time.Millisecond)
	receive(t, syncer.calls)

	bus.Publish(events.Event{Kind: events.PositionChanged})
	bus.Publish(events.Event{Kind: events.PositionChanged})
	pos.set("20240101-110000")
	bus.Publish(events.Event{Kind: events.LayersChanged})
	// Ignored kinds neither arm nor extend the window.
	bus.Publish(events.Event{Kind: events.PlaybackChanged})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.DebouncedTriggers) == 2
	}, time.Second, 5*time.Millisecond)

	clock.Advance(199 * time.Millisecond)
	select {
	case <-syncer.calls:
		t.Fatal("sync ran before the window elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Millisecond)
	call := receive(t, syncer.calls)
	assert.Equal(t, "20240101-110000", call.req.Target, "fire reads state at fire time")

	select {
	case <-syncer.calls:
		t.Fatal("burst produced more than one sync")
	case <-time.After(20 * time.Millisecond):
	}
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.SyncInvocations), 0)
}

func TestLoop_NewSyncCancelsPrevious(t *testing.T) {
	syncer := &recordingSyncer{calls: make(chan syncCall, 4), block: true}
	pos := &fixedPosition{ts: "20240101-100000"}
	bus, clock, _, _ := startLoop(t, syncer, pos)

	clock.Advance(200 * time.Millisecond)
	first := receive(t, syncer.calls)
	require.NoError(t, first.ctx.Err())

	bus.Publish(events.Event{Kind: events.PositionChanged})
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(200 * time.Millisecond)
	second := receive(t, syncer.calls)

	require.Eventually(t, func() bool { return first.ctx.Err() != nil }, time.Second, 5*time.Millisecond)
	assert.NoError(t, second.ctx.Err())
}

func TestLoop_NoFramesSyncsWithEmptyTarget(t *testing.T) {
	syncer := &recordingSyncer{calls: make(chan syncCall, 4)}
	_, clock, _, _ := startLoop(t, syncer, &fixedPosition{})

	clock.Advance(200 * time.Millisecond)
	call := receive(t, syncer.calls)
	assert.Empty(t, call.req.Target)
}

func TestLoop_RequestsAreNumberedInFireOrder(t *testing.T) {
	syncer := &recordingSyncer{calls: make(chan syncCall, 4)}
	bus, clock, _, _ := startLoop(t, syncer, &fixedPosition{ts: "20240101-100000"})

	clock.Advance(200 * time.Millisecond)
	first := receive(t, syncer.calls)

	bus.Publish(events.Event{Kind: events.LayersChanged})
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(200 * time.Millisecond)
	second := receive(t, syncer.calls)

	assert.Equal(t, uint64(1), first.req.Seq)
	assert.Equal(t, uint64(2), second.req.Seq)
}
