package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the sync engine.
type Metrics struct {
	// Overlay lifecycle metrics.
	OverlayFetches    *prometheus.CounterVec // labels: product, outcome={success,error,cached}
	OverlaySwaps      *prometheus.CounterVec // labels: product
	OverlayReleases   *prometheus.CounterVec // labels: product, reason={hidden,replaced,teardown}
	StaleSyncResults  prometheus.Counter
	LiveOverlays      prometheus.Gauge
	SyncDuration      prometheus.Histogram
	SyncInvocations   prometheus.Counter
	DebouncedTriggers prometheus.Counter

	// Zone geometry metrics.
	ZoneLookups  *prometheus.CounterVec // labels: result={hit,negative,shared,fetched,not_found,unmapped}
	ZoneDuration prometheus.Histogram

	// Feed polling metrics.
	FeedPolls        *prometheus.CounterVec // labels: feed, outcome={unchanged,updated,baseline,error}
	UpdatesDetected  prometheus.Counter
	TimelinePosition prometheus.Gauge
	TimelineFrames   prometheus.Gauge
	PlaybackActive   prometheus.Gauge
}

// NewMetrics creates and registers all engine metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.OverlayFetches,
		m.OverlaySwaps,
		m.OverlayReleases,
		m.StaleSyncResults,
		m.LiveOverlays,
		m.SyncDuration,
		m.SyncInvocations,
		m.DebouncedTriggers,
		m.ZoneLookups,
		m.ZoneDuration,
		m.FeedPolls,
		m.UpdatesDetected,
		m.TimelinePosition,
		m.TimelineFrames,
		m.PlaybackActive,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		OverlayFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_sync",
			Name:      "overlay_fetches_total",
			Help:      "Overlay snapshot fetches by product and outcome.",
		}, []string{"product", "outcome"}),
		OverlaySwaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_sync",
			Name:      "overlay_swaps_total",
			Help:      "Overlays installed on the map, by product.",
		}, []string{"product"}),
		OverlayReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_sync",
			Name:      "overlay_releases_total",
			Help:      "Overlay resources released, by product and reason.",
		}, []string{"product", "reason"}),
		StaleSyncResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_sync",
			Name:      "stale_sync_results_total",
			Help:      "Fetched snapshots discarded because a newer sync superseded them.",
		}),
		LiveOverlays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_sync",
			Name:      "live_overlays",
			Help:      "Overlay resources currently attached to the map.",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storm_sync",
			Name:      "sync_duration_seconds",
			Help:      "Duration of one overlay sync pass.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		SyncInvocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_sync",
			Name:      "sync_invocations_total",
			Help:      "Settled sync passes started by the synchronization loop.",
		}),
		DebouncedTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_sync",
			Name:      "debounced_triggers_total",
			Help:      "State change events coalesced by the debounce window.",
		}),
		ZoneLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_sync",
			Name:      "zone_lookups_total",
			Help:      "Zone geometry lookups by result.",
		}, []string{"result"}),
		ZoneDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storm_sync",
			Name:      "zone_fetch_duration_seconds",
			Help:      "Zone geometry upstream request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		FeedPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_sync",
			Name:      "feed_polls_total",
			Help:      "Feed timestamp polls by feed and outcome.",
		}, []string{"feed", "outcome"}),
		UpdatesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_sync",
			Name:      "updates_detected_total",
			Help:      "Poll cycles that found new upstream data.",
		}),
		TimelinePosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_sync",
			Name:      "timeline_position",
			Help:      "Current index into the primary feed's frame list.",
		}),
		TimelineFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_sync",
			Name:      "timeline_frames",
			Help:      "Number of frames in the primary feed.",
		}),
		PlaybackActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_sync",
			Name:      "playback_active",
			Help:      "1 while autoplay is advancing the timeline, 0 otherwise.",
		}),
	}
}
