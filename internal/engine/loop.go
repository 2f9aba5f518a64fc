// Package engine runs the background loops that keep the map in step with
// the timeline: the debounced overlay sync loop and the auto-refresh poller.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
	"github.com/couchcryptid/storm-timeline-sync/internal/events"
	"github.com/couchcryptid/storm-timeline-sync/internal/observability"
	"github.com/couchcryptid/storm-timeline-sync/internal/overlay"
)

// DefaultDebounce is how long state must stay quiet before a sync runs.
const DefaultDebounce = 200 * time.Millisecond

// Syncer applies a desired overlay state.
type Syncer interface {
	Sync(ctx context.Context, req overlay.SyncRequest) (overlay.SyncResult, error)
}

// Position reports the timestamp under the timeline cursor.
type Position interface {
	Current() (string, bool)
}

// LayerSource supplies the visible layers and their known timestamps.
type LayerSource interface {
	ActiveLayers() map[string]domain.LayerState
	Timestamps() map[string][]string
}

// Loop turns bursts of state changes into a single overlay sync.
type Loop struct {
	bus      *events.Bus
	position Position
	layers   LayerSource
	syncer   Syncer
	clock    clockwork.Clock
	debounce time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics

	wg         sync.WaitGroup
	seq        uint64
	cancelPrev context.CancelFunc
}

// NewLoop creates a sync loop. A nil clock uses the domain default.
func NewLoop(bus *events.Bus, position Position, layers LayerSource, syncer Syncer, clock clockwork.Clock, debounce time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Loop {
	if clock == nil {
		clock = domain.Clock()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Loop{
		bus:      bus,
		position: position,
		layers:   layers,
		syncer:   syncer,
		clock:    clock,
		debounce: debounce,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run listens for position, layer and timestamp changes until ctx is
// cancelled. A sync is also scheduled on start so the map reflects whatever
// state existed before the loop subscribed.
func (l *Loop) Run(ctx context.Context) error {
	ch, unsubscribe := l.bus.Subscribe(32)
	defer unsubscribe()
	defer l.wait()

	timer := l.clock.NewTimer(l.debounce)
	defer timer.Stop()
	pending := true

	l.logger.Info("sync loop started", "debounce", l.debounce)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("sync loop stopping", "reason", ctx.Err())
			return nil

		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if !triggersSync(e.Kind) {
				continue
			}
			if pending {
				l.metrics.DebouncedTriggers.Inc()
			}
			timer.Reset(l.debounce)
			pending = true

		case <-timer.Chan():
			pending = false
			l.fire(ctx)
		}
	}
}

func triggersSync(k events.Kind) bool {
	switch k {
	case events.PositionChanged, events.LayersChanged, events.TimestampsChanged:
		return true
	default:
		return false
	}
}

// fire reads the current state and starts a sync, cancelling the previous
// one. Requests are numbered here, in fire order, so the manager rejects an
// older request that reaches it after a newer one.
func (l *Loop) fire(ctx context.Context) {
	target, _ := l.position.Current()
	l.seq++
	req := overlay.SyncRequest{
		Seq:        l.seq,
		Target:     target,
		Layers:     l.layers.ActiveLayers(),
		Timestamps: l.layers.Timestamps(),
	}

	if l.cancelPrev != nil {
		l.cancelPrev()
	}
	syncCtx, cancel := context.WithCancel(ctx)
	l.cancelPrev = cancel
	l.metrics.SyncInvocations.Inc()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()

		res, err := l.syncer.Sync(syncCtx, req)
		switch {
		case errors.Is(err, overlay.ErrClosed):
			l.logger.Debug("sync skipped, overlays closed")
		case err != nil:
			l.logger.Error("sync failed", "target", target, "error", err)
		case res.Stale:
			l.logger.Debug("sync superseded", "generation", res.Generation, "target", target)
		default:
			l.logger.Debug("sync applied",
				"generation", res.Generation,
				"target", target,
				"installed", res.Installed,
				"released", res.Released,
				"unmatched", res.Unmatched,
				"failed", len(res.Failed),
			)
		}
	}()
}

func (l *Loop) wait() {
	if l.cancelPrev != nil {
		l.cancelPrev()
	}
	l.wg.Wait()
}
