// Package session holds the per-connection state shared by the engine: the
// known timestamps of every feed, the discovered products and their layer
// visibility, and the feed client used to refresh them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
	"github.com/couchcryptid/storm-timeline-sync/internal/events"
)

// ErrUnknownProduct is returned when a layer is changed before the product
// has been discovered.
var ErrUnknownProduct = errors.New("unknown product")

// DefaultOpacity is the opacity configured when DEFAULT_OPACITY is unset.
const DefaultOpacity = 0.75

// Defaults describes the layer state given to newly discovered products.
// Opacity is used as given, clamped to [0, 1]; zero is a valid setting.
type Defaults struct {
	Visible []string // products visible on discovery, matched case-sensitively
	Opacity float64
}

// Session owns the feed timestamp lists and layer states. All access goes
// through its methods; readers get copies.
type Session struct {
	id     string
	feed   domain.FeedClient
	bus    *events.Bus
	logger *slog.Logger

	defaultVisible map[string]bool
	defaultOpacity float64

	mu         sync.RWMutex
	primary    []string
	products   []string
	timestamps map[string][]string
	layers     map[string]domain.LayerState
	primed     bool
}

// New creates an empty session reading from feed.
func New(feed domain.FeedClient, bus *events.Bus, defaults Defaults, logger *slog.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		id:             id,
		feed:           feed,
		bus:            bus,
		logger:         logger.With("session_id", id),
		defaultVisible: make(map[string]bool, len(defaults.Visible)),
		defaultOpacity: domain.ClampOpacity(defaults.Opacity),
		timestamps:     make(map[string][]string),
		layers:         make(map[string]domain.LayerState),
	}
	for _, p := range defaults.Visible {
		s.defaultVisible[p] = true
	}
	return s
}

// ID identifies the session in logs and published updates.
func (s *Session) ID() string { return s.id }

// Feed returns the client the session reads from.
func (s *Session) Feed() domain.FeedClient { return s.feed }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Prime loads the primary timeline, the product list, and every product's
// timestamps. Only a primary feed failure is returned; product failures are
// logged and leave that product with no timestamps.
func (s *Session) Prime(ctx context.Context) error {
	var (
		primary  []string
		products []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ts, err := s.feed.ListPrimaryTimestamps(gctx)
		if err != nil {
			return fmt.Errorf("list primary timestamps: %w", err)
		}
		primary = ts
		return nil
	})
	g.Go(func() error {
		p, err := s.feed.ListAvailableProducts(gctx)
		if err != nil {
			s.logger.Warn("list products failed", "error", err)
			return nil
		}
		products = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.SetPrimary(primary)
	s.DiscoverProducts(products)

	lists := make([][]string, len(products))
	var pg errgroup.Group
	pg.SetLimit(4)
	for i, product := range products {
		pg.Go(func() error {
			ts, err := s.feed.ListProductTimestamps(ctx, product)
			if err != nil {
				s.logger.Warn("list product timestamps failed", "product", product, "error", err)
				return nil
			}
			lists[i] = ts
			return nil
		})
	}
	_ = pg.Wait()

	for i, product := range products {
		if lists[i] != nil {
			s.SetProductTimestamps(product, lists[i])
		}
	}

	s.logger.Info("session primed", "primary_frames", len(primary), "products", len(products))
	return nil
}

// CheckReadiness returns nil once the primary feed has been loaded, either by
// Prime or by a later poll.
func (s *Session) CheckReadiness(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.primed {
		return errors.New("session has not loaded primary feed timestamps yet")
	}
	return nil
}

// DiscoverProducts adds default layer state for products not seen before and
// returns the added names, sorted. Known products keep their state; none are
// ever removed.
func (s *Session) DiscoverProducts(products []string) []string {
	s.mu.Lock()
	var added []string
	for _, p := range products {
		if _, ok := s.layers[p]; ok {
			continue
		}
		s.layers[p] = domain.LayerState{Visible: s.defaultVisible[p], Opacity: s.defaultOpacity}
		s.products = append(s.products, p)
		added = append(added, p)
	}
	sort.Strings(s.products)
	s.mu.Unlock()

	if len(added) > 0 {
		sort.Strings(added)
		s.logger.Info("products discovered", "added", len(added))
		s.publish(events.LayersChanged)
	}
	return added
}

// SetVisible shows or hides a product's layer.
func (s *Session) SetVisible(product string, visible bool) error {
	return s.updateLayer(product, func(l *domain.LayerState) { l.Visible = visible })
}

// SetOpacity changes a product's layer opacity, clamped to [0, 1].
func (s *Session) SetOpacity(product string, opacity float64) error {
	return s.updateLayer(product, func(l *domain.LayerState) { l.Opacity = domain.ClampOpacity(opacity) })
}

func (s *Session) updateLayer(product string, fn func(*domain.LayerState)) error {
	s.mu.Lock()
	l, ok := s.layers[product]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProduct, product)
	}
	before := l
	fn(&l)
	s.layers[product] = l
	s.mu.Unlock()

	if l != before {
		s.publish(events.LayersChanged)
	}
	return nil
}

// Layer returns one product's layer state.
func (s *Session) Layer(product string) (domain.LayerState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[product]
	return l, ok
}

// Layers returns every product's layer state.
func (s *Session) Layers() map[string]domain.LayerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.LayerState, len(s.layers))
	for p, l := range s.layers {
		out[p] = l
	}
	return out
}

// ActiveLayers returns the visible layers only.
func (s *Session) ActiveLayers() map[string]domain.LayerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.LayerState)
	for p, l := range s.layers {
		if l.Visible {
			out[p] = l
		}
	}
	return out
}

// ActiveProducts returns the visible product names, sorted.
func (s *Session) ActiveProducts() []string {
	active := s.ActiveLayers()
	out := make([]string, 0, len(active))
	for p := range active {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Products returns the discovered product names, sorted.
func (s *Session) Products() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.products...)
}

// Primary returns the sorted primary feed timestamps.
func (s *Session) Primary() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.primary...)
}

// SetPrimary stores the primary feed timestamps.
func (s *Session) SetPrimary(ts []string) {
	sorted := domain.SortTimestamps(ts)
	s.mu.Lock()
	s.primary = sorted
	s.primed = true
	s.mu.Unlock()
	s.publish(events.TimestampsChanged)
}

// ProductTimestamps returns one product's sorted timestamps.
func (s *Session) ProductTimestamps(product string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.timestamps[product]...)
}

// HasProductTimestamps reports whether a list has ever been stored for
// product. An empty stored list still counts.
func (s *Session) HasProductTimestamps(product string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.timestamps[product]
	return ok
}

// SetProductTimestamps stores a product's timestamps.
func (s *Session) SetProductTimestamps(product string, ts []string) {
	sorted := domain.SortTimestamps(ts)
	s.mu.Lock()
	s.timestamps[product] = sorted
	s.mu.Unlock()
	s.publish(events.TimestampsChanged)
}

// Timestamps returns every product's timestamps.
func (s *Session) Timestamps() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.timestamps))
	for p, ts := range s.timestamps {
		out[p] = append([]string(nil), ts...)
	}
	return out
}

func (s *Session) publish(k events.Kind) {
	if s.bus != nil {
		s.bus.Publish(events.Event{Kind: k})
	}
}
