// Package overlay owns the map overlays, one per visible product, and keeps
// them matched to the timeline position.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
	"github.com/couchcryptid/storm-timeline-sync/internal/observability"
)

// ErrClosed is returned by Sync after Close.
var ErrClosed = errors.New("overlay manager closed")

// Release reasons, used as metric labels.
const (
	reasonHidden   = "hidden"
	reasonReplaced = "replaced"
	reasonTeardown = "teardown"
)

// ImageFetcher loads one product snapshot.
type ImageFetcher interface {
	FetchOverlayImage(ctx context.Context, product, timestamp string) ([]byte, error)
}

// SyncRequest describes the desired map state: the timeline position, the
// visible layers, and each product's known timestamps. Seq, when non-zero,
// orders requests by when they were built; a request older than one already
// seen is rejected as stale regardless of arrival order.
type SyncRequest struct {
	Seq        uint64
	Target     string
	Layers     map[string]domain.LayerState
	Timestamps map[string][]string
}

// SyncResult summarizes what one Sync changed.
type SyncResult struct {
	Generation uint64
	Installed  []string
	Released   []string
	Unmatched  []string
	Failed     map[string]error
	Stale      bool
}

// Info describes a live overlay.
type Info struct {
	Product   string  `json:"product"`
	Timestamp string  `json:"timestamp"`
	Opacity   float64 `json:"opacity"`
	Handle    Handle  `json:"handle"`
}

// resource is the single live overlay for a product.
type resource struct {
	product   string
	timestamp string
	opacity   float64
	handle    Handle
	released  bool
}

// Manager holds at most one overlay per product. Sync may be called
// repeatedly and concurrently; only the most recent call's fetches apply.
type Manager struct {
	fetcher  ImageFetcher
	renderer Renderer
	logger   *slog.Logger
	metrics  *observability.Metrics

	tolerances       domain.ToleranceTable
	cacheSize        int
	fetchConcurrency int
	snapshots        *lru.Cache[string, []byte]

	mu         sync.Mutex
	live       map[string]*resource
	generation uint64
	seq        uint64
	closed     bool
}

// NewManager creates a Manager drawing onto renderer.
func NewManager(fetcher ImageFetcher, renderer Renderer, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) (*Manager, error) {
	m := &Manager{
		fetcher:          fetcher,
		renderer:         renderer,
		logger:           logger,
		metrics:          metrics,
		cacheSize:        defaultSnapshotCacheSize,
		fetchConcurrency: defaultFetchConcurrency,
		live:             make(map[string]*resource),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.cacheSize > 0 {
		cache, err := lru.New[string, []byte](m.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create snapshot cache: %w", err)
		}
		m.snapshots = cache
	}
	return m, nil
}

type fetchPlan struct {
	product   string
	timestamp string
	opacity   float64
}

type fetched struct {
	fetchPlan
	image []byte
	err   error
}

// Sync brings the live overlays in line with req. Overlays of products no
// longer visible are released first. Each visible product is matched to its
// closest timestamp; an unmatched product keeps whatever it shows. Changed
// matches are fetched and swapped in only after the fetch succeeds, and only
// if no newer Sync has started meanwhile.
func (m *Manager) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	start := time.Now()
	defer func() { m.metrics.SyncDuration.Observe(time.Since(start).Seconds()) }()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return SyncResult{}, ErrClosed
	}
	if req.Seq != 0 {
		if req.Seq < m.seq {
			m.mu.Unlock()
			m.metrics.StaleSyncResults.Inc()
			m.logger.Debug("rejecting out-of-order sync", "seq", req.Seq, "latest", m.seq)
			return SyncResult{Stale: true}, nil
		}
		m.seq = req.Seq
	}
	m.generation++
	gen := m.generation
	res := SyncResult{Generation: gen, Failed: make(map[string]error)}

	for _, product := range m.sortedLive() {
		if _, ok := req.Layers[product]; ok {
			continue
		}
		m.releaseLocked(m.live[product], reasonHidden)
		delete(m.live, product)
		res.Released = append(res.Released, product)
	}

	plans := m.planLocked(req, &res)
	m.metrics.LiveOverlays.Set(float64(len(m.live)))
	m.mu.Unlock()

	if len(plans) == 0 {
		return res, nil
	}

	results := m.fetchAll(ctx, plans)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.closed {
		m.metrics.StaleSyncResults.Inc()
		m.logger.Debug("discarding superseded sync results", "generation", gen, "current", m.generation)
		res.Stale = true
		return res, nil
	}

	for _, r := range results {
		if r.err != nil {
			m.logger.Warn("overlay fetch failed, keeping previous overlay",
				"product", r.product,
				"timestamp", r.timestamp,
				"error", r.err,
			)
			res.Failed[r.product] = r.err
			continue
		}
		if err := m.installLocked(r); err != nil {
			m.logger.Warn("overlay attach failed", "product", r.product, "timestamp", r.timestamp, "error", err)
			res.Failed[r.product] = err
			continue
		}
		res.Installed = append(res.Installed, r.product)
	}
	m.metrics.LiveOverlays.Set(float64(len(m.live)))

	return res, nil
}

// planLocked decides which visible products need a new snapshot, applying
// opacity-only changes in place.
func (m *Manager) planLocked(req SyncRequest, res *SyncResult) []fetchPlan {
	products := make([]string, 0, len(req.Layers))
	for p := range req.Layers {
		products = append(products, p)
	}
	sort.Strings(products)

	var plans []fetchPlan
	for _, product := range products {
		opacity := domain.ClampOpacity(req.Layers[product].Opacity)
		held := m.live[product]

		match, ok := domain.Closest(req.Target, req.Timestamps[product], m.tolerances.For(product))
		if !ok {
			res.Unmatched = append(res.Unmatched, product)
			m.setOpacityLocked(held, opacity)
			continue
		}

		if held != nil && held.timestamp == match {
			m.setOpacityLocked(held, opacity)
			continue
		}
		plans = append(plans, fetchPlan{product: product, timestamp: match, opacity: opacity})
	}
	return plans
}

func (m *Manager) setOpacityLocked(r *resource, opacity float64) {
	if r == nil || r.opacity == opacity {
		return
	}
	if err := m.renderer.SetOpacity(r.handle, opacity); err != nil {
		m.logger.Warn("overlay opacity update failed", "product", r.product, "error", err)
		return
	}
	r.opacity = opacity
}

// fetchAll loads every planned snapshot. A failure affects only its product.
func (m *Manager) fetchAll(ctx context.Context, plans []fetchPlan) []fetched {
	out := make([]fetched, len(plans))

	var g errgroup.Group
	g.SetLimit(m.fetchConcurrency)
	for i, p := range plans {
		g.Go(func() error {
			img, err := m.load(ctx, p.product, p.timestamp)
			out[i] = fetched{fetchPlan: p, image: img, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// load returns a snapshot from the cache or the upstream feed.
func (m *Manager) load(ctx context.Context, product, timestamp string) ([]byte, error) {
	key := product + "|" + timestamp
	if m.snapshots != nil {
		if img, ok := m.snapshots.Get(key); ok {
			m.metrics.OverlayFetches.WithLabelValues(product, "cached").Inc()
			return img, nil
		}
	}

	img, err := m.fetcher.FetchOverlayImage(ctx, product, timestamp)
	if err != nil {
		m.metrics.OverlayFetches.WithLabelValues(product, "error").Inc()
		return nil, fmt.Errorf("fetch %s at %s: %w", product, timestamp, err)
	}
	m.metrics.OverlayFetches.WithLabelValues(product, "success").Inc()

	if m.snapshots != nil {
		m.snapshots.Add(key, img)
	}
	return img, nil
}

// installLocked attaches a fetched snapshot, swapping out any overlay the
// product already has.
func (m *Manager) installLocked(f fetched) error {
	held := m.live[f.product]
	if held == nil {
		h, err := m.renderer.Attach(f.product, f.image, f.opacity)
		if err != nil {
			return err
		}
		m.live[f.product] = &resource{product: f.product, timestamp: f.timestamp, opacity: f.opacity, handle: h}
		m.metrics.OverlaySwaps.WithLabelValues(f.product).Inc()
		return nil
	}

	h, err := m.renderer.Replace(held.handle, f.image, f.opacity)
	if err != nil {
		return err
	}
	// The renderer dropped the old handle as part of the swap.
	held.released = true
	m.metrics.OverlayReleases.WithLabelValues(f.product, reasonReplaced).Inc()

	m.live[f.product] = &resource{product: f.product, timestamp: f.timestamp, opacity: f.opacity, handle: h}
	m.metrics.OverlaySwaps.WithLabelValues(f.product).Inc()
	return nil
}

func (m *Manager) releaseLocked(r *resource, reason string) {
	if r == nil || r.released {
		return
	}
	r.released = true
	m.renderer.Detach(r.handle)
	m.metrics.OverlayReleases.WithLabelValues(r.product, reason).Inc()
}

func (m *Manager) sortedLive() []string {
	products := make([]string, 0, len(m.live))
	for p := range m.live {
		products = append(products, p)
	}
	sort.Strings(products)
	return products
}

// Overlays lists the live overlays ordered by product.
func (m *Manager) Overlays() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.live))
	for _, p := range m.sortedLive() {
		r := m.live[p]
		out = append(out, Info{Product: r.product, Timestamp: r.timestamp, Opacity: r.opacity, Handle: r.handle})
	}
	return out
}

// Close releases every overlay. Syncs still in flight are discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.generation++
	for _, p := range m.sortedLive() {
		m.releaseLocked(m.live[p], reasonTeardown)
		delete(m.live, p)
	}
	m.metrics.LiveOverlays.Set(0)
}
