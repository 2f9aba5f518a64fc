// Package zone resolves alert zone geocodes to geometry, sharing in-flight
// upstream requests and remembering zones that have no geometry.
package zone

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
	"github.com/couchcryptid/storm-timeline-sync/internal/observability"
)

// Resolver caches zone geometry for the lifetime of a session. Entries never
// change once written, and known-absent codes are never fetched again.
type Resolver struct {
	fetcher domain.ZoneFetcher
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	entries map[string]*domain.ZoneGeometry
	missing map[string]struct{}

	// inflight holds the pending-request table keyed by normalized code.
	inflight singleflight.Group
}

// NewResolver wraps fetcher with a positive and negative cache.
func NewResolver(fetcher domain.ZoneFetcher, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]*domain.ZoneGeometry),
		missing: make(map[string]struct{}),
	}
}

// Resolve returns the geometry for code, or false when the zone is unknown,
// unmapped, or its fetch failed. Concurrent calls for the same code share one
// upstream request. A caller whose ctx ends stops waiting, but the shared
// fetch runs to completion for the others.
func (r *Resolver) Resolve(ctx context.Context, code string) (*domain.ZoneGeometry, bool) {
	norm, err := domain.NormalizeZoneCode(code)
	if err != nil {
		r.logger.Debug("zone code not mappable", "code", code, "error", err)
		r.metrics.ZoneLookups.WithLabelValues("unmapped").Inc()
		return nil, false
	}

	if entry, known := r.lookup(norm); known {
		if entry == nil {
			r.metrics.ZoneLookups.WithLabelValues("negative").Inc()
			return nil, false
		}
		r.metrics.ZoneLookups.WithLabelValues("hit").Inc()
		return entry, true
	}

	ch := r.inflight.DoChan(norm, func() (any, error) {
		// A flight for this code may have completed between lookup and DoChan.
		if entry, known := r.lookup(norm); known {
			return entry, nil
		}
		return r.fetch(context.WithoutCancel(ctx), norm), nil
	})

	select {
	case <-ctx.Done():
		return nil, false
	case res := <-ch:
		if res.Shared {
			r.metrics.ZoneLookups.WithLabelValues("shared").Inc()
		}
		entry, _ := res.Val.(*domain.ZoneGeometry)
		return entry, entry != nil
	}
}

// Len reports how many codes are cached, present and absent.
func (r *Resolver) Len() (present, absent int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), len(r.missing)
}

// lookup reports the cached entry for a normalized code. known is false when
// the code has never been resolved; a known code with a nil entry is absent.
func (r *Resolver) lookup(norm string) (entry *domain.ZoneGeometry, known bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[norm]; ok {
		return e, true
	}
	if _, ok := r.missing[norm]; ok {
		return nil, true
	}
	return nil, false
}

// fetch performs the upstream request and records the outcome before the
// pending entry is released. Transient failures are remembered as absence.
func (r *Resolver) fetch(ctx context.Context, norm string) *domain.ZoneGeometry {
	start := time.Now()
	geom, err := r.fetcher.FetchZoneGeometry(ctx, norm)
	r.metrics.ZoneDuration.Observe(time.Since(start).Seconds())

	if err != nil || geom == nil {
		switch {
		case err == nil, errors.Is(err, domain.ErrNotFound):
			r.metrics.ZoneLookups.WithLabelValues("not_found").Inc()
		default:
			r.logger.Warn("zone geometry fetch failed", "code", norm, "error", err)
			r.metrics.ZoneLookups.WithLabelValues("error").Inc()
		}
		r.mu.Lock()
		r.missing[norm] = struct{}{}
		r.mu.Unlock()
		return nil
	}

	centroid, _ := planar.CentroidArea(geom)
	entry := &domain.ZoneGeometry{Code: norm, Centroid: centroid, Geometry: geom}

	r.mu.Lock()
	r.entries[norm] = entry
	r.mu.Unlock()

	r.metrics.ZoneLookups.WithLabelValues("fetched").Inc()
	return entry
}
