package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-timeline-sync/internal/adapter/canvas"
	"github.com/couchcryptid/storm-timeline-sync/internal/adapter/feedapi"
	httpadapter "github.com/couchcryptid/storm-timeline-sync/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/storm-timeline-sync/internal/adapter/kafka"
	"github.com/couchcryptid/storm-timeline-sync/internal/adapter/nws"
	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
	"github.com/couchcryptid/storm-timeline-sync/internal/engine"
	"github.com/couchcryptid/storm-timeline-sync/internal/events"
	"github.com/couchcryptid/storm-timeline-sync/internal/observability"
	"github.com/couchcryptid/storm-timeline-sync/internal/overlay"
	"github.com/couchcryptid/storm-timeline-sync/internal/session"
	"github.com/couchcryptid/storm-timeline-sync/internal/timeline"
	"github.com/couchcryptid/storm-timeline-sync/internal/zone"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	metrics := observability.NewMetrics()
	bus := events.NewBus()
	defer bus.Close()

	feed := feedapi.NewClient(cfg.FeedBaseURL, cfg.FeedTimeout, logger)
	sess := session.New(feed, bus, session.Defaults{Visible: cfg.DefaultLayers, Opacity: cfg.DefaultOpacity}, logger)
	logger = sess.Logger()

	controller := timeline.NewController(bus, nil, cfg.PlaybackInterval, logger, metrics)

	surface := canvas.New()
	manager, err := overlay.NewManager(feed, surface, logger, metrics,
		overlay.WithTolerances(domain.NewToleranceTable(cfg.ToleranceOverrides)),
		overlay.WithSnapshotCacheSize(cfg.SnapshotCacheSize),
	)
	if err != nil {
		return err
	}
	defer manager.Close()

	zones := zone.NewResolver(nws.NewClient(cfg.NWSBaseURL, cfg.NWSUserAgent, cfg.FeedTimeout, logger), logger, metrics)

	var notifier engine.Notifier
	if cfg.KafkaEnabled {
		n := kafkaadapter.NewNotifier(cfg, logger)
		defer func() {
			if err := n.Close(); err != nil {
				logger.Error("kafka notifier close error", "error", err)
			}
		}()
		notifier = n
		logger.Info("feed update notifications enabled", "topic", cfg.KafkaUpdateTopic)
	}

	loop := engine.NewLoop(bus, controller, sess, manager, nil, cfg.SyncDebounce, logger, metrics)
	poller := engine.NewPoller(sess, controller, bus, notifier, nil, engine.PollerConfig{
		Interval:      cfg.PollInterval,
		FlashDuration: cfg.FlashDuration,
	}, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, sess, &httpadapter.API{
		Timeline: controller,
		Layers:   sess,
		Overlays: manager,
		Images:   surface,
		Zones:    zones,
		Updates:  poller,
		Logger:   logger,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	// Start HTTP server.
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error { return loop.Run(gctx) })

	// Load feed state, then start playback and polling. A failed prime leaves
	// the service unready; the poller retries on its first tick.
	g.Go(func() error {
		if err := sess.Prime(gctx); err != nil {
			logger.Error("initial feed load failed", "error", err)
		} else {
			controller.SetFrames(sess.Primary())
			controller.JumpToLatest()
		}
		pg, pctx := errgroup.WithContext(gctx)
		pg.Go(func() error { return controller.Run(pctx) })
		pg.Go(func() error { return poller.Run(pctx) })
		return pg.Wait()
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
