package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
	"github.com/couchcryptid/storm-timeline-sync/internal/events"
	"github.com/couchcryptid/storm-timeline-sync/internal/observability"
	"github.com/couchcryptid/storm-timeline-sync/internal/session"
	"github.com/couchcryptid/storm-timeline-sync/internal/timeline"
)

// Poller defaults.
const (
	DefaultPollInterval  = 30 * time.Second
	DefaultFlashDuration = time.Second
)

const pollConcurrency = 4

// Notifier publishes detected feed updates to downstream consumers.
type Notifier interface {
	NotifyUpdate(ctx context.Context, u domain.FeedUpdate) error
}

// PollerConfig holds the poller's timing. Zero values take the defaults.
type PollerConfig struct {
	Interval      time.Duration
	FlashDuration time.Duration
}

// Poller periodically re-reads every watched feed and, when any has new
// data, stores the new lists and moves the timeline to the latest frame.
type Poller struct {
	session    *session.Session
	controller *timeline.Controller
	bus        *events.Bus
	notifier   Notifier
	clock      clockwork.Clock
	cfg        PollerConfig
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu         sync.Mutex
	flashUntil time.Time
	lastUpdate *domain.FeedUpdate
	watched    map[string]bool // products polled last cycle; nil before the first
}

// NewPoller creates a poller. notifier may be nil.
func NewPoller(s *session.Session, c *timeline.Controller, bus *events.Bus, notifier Notifier, clock clockwork.Clock, cfg PollerConfig, logger *slog.Logger, metrics *observability.Metrics) *Poller {
	if clock == nil {
		clock = domain.Clock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.FlashDuration <= 0 {
		cfg.FlashDuration = DefaultFlashDuration
	}
	return &Poller{
		session:    s,
		controller: c,
		bus:        bus,
		notifier:   notifier,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run polls on every interval tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			p.Check(ctx)
		}
	}
}

type feedResult struct {
	feed     string
	list     []string
	ok       bool
	baseline bool
}

// Check runs one poll cycle and reports whether any feed had new data.
// A failing feed is logged and skipped; the others are still checked.
//
// Newly discovered products are loaded in the same cycle. A product whose
// list was never loaded, or that was not watched last cycle, only records a
// baseline: its list is stored but does not count as new data, so showing a
// layer never moves the timeline.
func (p *Poller) Check(ctx context.Context) bool {
	feed := p.session.Feed()

	var discovered []string
	if products, err := feed.ListAvailableProducts(ctx); err != nil {
		p.logger.Warn("product discovery failed", "error", err)
	} else {
		discovered = p.session.DiscoverProducts(products)
	}

	active := p.session.ActiveProducts()
	prevWatched := p.swapWatched(active)

	baseline := make(map[string]bool, len(discovered))
	for _, name := range discovered {
		baseline[name] = true
	}
	for _, name := range active {
		if !prevWatched[name] || !p.session.HasProductTimestamps(name) {
			baseline[name] = true
		}
	}

	watched := []string{domain.PrimaryFeed}
	seen := map[string]bool{domain.PrimaryFeed: true}
	for _, name := range append(active, discovered...) {
		if !seen[name] {
			seen[name] = true
			watched = append(watched, name)
		}
	}
	results := make([]feedResult, len(watched))

	var g errgroup.Group
	g.SetLimit(pollConcurrency)
	for i, name := range watched {
		g.Go(func() error {
			var (
				list []string
				err  error
			)
			if name == domain.PrimaryFeed {
				list, err = feed.ListPrimaryTimestamps(ctx)
			} else {
				list, err = feed.ListProductTimestamps(ctx, name)
			}
			if err != nil {
				p.metrics.FeedPolls.WithLabelValues(name, "error").Inc()
				p.logger.Warn("feed poll failed", "feed", name, "error", err)
				return nil
			}
			results[i] = feedResult{feed: name, list: domain.SortTimestamps(list), ok: true, baseline: baseline[name]}
			return nil
		})
	}
	_ = g.Wait()

	var changed []feedResult
	for _, r := range results {
		if !r.ok {
			continue
		}
		if r.baseline {
			p.metrics.FeedPolls.WithLabelValues(r.feed, "baseline").Inc()
			if !p.session.HasProductTimestamps(r.feed) || domain.Changed(p.session.ProductTimestamps(r.feed), r.list) {
				p.session.SetProductTimestamps(r.feed, r.list)
			}
			continue
		}
		var prev []string
		if r.feed == domain.PrimaryFeed {
			prev = p.session.Primary()
		} else {
			prev = p.session.ProductTimestamps(r.feed)
		}
		if domain.Changed(prev, r.list) {
			p.metrics.FeedPolls.WithLabelValues(r.feed, "updated").Inc()
			changed = append(changed, r)
		} else {
			p.metrics.FeedPolls.WithLabelValues(r.feed, "unchanged").Inc()
		}
	}
	if len(changed) == 0 {
		return false
	}

	p.apply(ctx, changed)
	return true
}

// swapWatched records the products polled this cycle and returns the previous
// set. Before the first cycle every active product counts as watched, since
// Prime loaded them all.
func (p *Poller) swapWatched(active []string) map[string]bool {
	next := make(map[string]bool, len(active))
	for _, name := range active {
		next[name] = true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.watched
	if prev == nil {
		prev = next
	}
	p.watched = next
	return prev
}

func (p *Poller) apply(ctx context.Context, changed []feedResult) {
	u := domain.FeedUpdate{
		ID:         uuid.NewString(),
		SessionID:  p.session.ID(),
		DetectedAt: p.clock.Now().UTC(),
		Latest:     make(map[string]string, len(changed)),
	}
	for _, r := range changed {
		if r.feed == domain.PrimaryFeed {
			p.session.SetPrimary(r.list)
		} else {
			p.session.SetProductTimestamps(r.feed, r.list)
		}
		u.Feeds = append(u.Feeds, r.feed)
		if latest, ok := domain.Latest(r.list); ok {
			u.Latest[r.feed] = latest
		}
	}

	p.controller.SetFrames(p.session.Primary())
	p.controller.JumpToLatest()
	u.Position = p.controller.Snapshot().Position

	p.mu.Lock()
	p.flashUntil = p.clock.Now().Add(p.cfg.FlashDuration)
	p.lastUpdate = &u
	p.mu.Unlock()

	p.metrics.UpdatesDetected.Inc()
	p.logger.Info("new feed data detected", "feeds", u.Feeds, "position", u.Position)
	if p.bus != nil {
		p.bus.Publish(events.Event{Kind: events.FeedUpdated})
	}

	if p.notifier != nil {
		if err := p.notifier.NotifyUpdate(ctx, u); err != nil {
			p.logger.Error("publish feed update failed", "update_id", u.ID, "error", err)
		}
	}
}

// Flashing reports whether the update indicator should currently show.
func (p *Poller) Flashing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock.Now().Before(p.flashUntil)
}

// LastUpdate returns the most recent detected update, if any.
func (p *Poller) LastUpdate() (domain.FeedUpdate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastUpdate == nil {
		return domain.FeedUpdate{}, false
	}
	return *p.lastUpdate, true
}
