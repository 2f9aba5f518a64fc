package domain

import (
	"context"
	"strings"
	"time"
)

// Tolerances for feeds that publish less often than radar.
const (
	METARTolerance = 90 * time.Minute
	AlertTolerance = 120 * time.Minute
)

// LayerState is the user-controlled visibility of one product.
type LayerState struct {
	Visible bool    `json:"visible"`
	Opacity float64 `json:"opacity"`
}

// ClampOpacity bounds an opacity to [0, 1].
func ClampOpacity(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// FeedClient reads timestamp lists and overlay snapshots from the upstream
// feed service. Every call is a side-effect-free read.
type FeedClient interface {
	ListPrimaryTimestamps(ctx context.Context) ([]string, error)
	ListProductTimestamps(ctx context.Context, product string) ([]string, error)
	FetchOverlayImage(ctx context.Context, product, timestamp string) ([]byte, error)
	ListAvailableProducts(ctx context.Context) ([]string, error)
}

// ToleranceTable maps products to their closest-match window.
type ToleranceTable struct {
	overrides map[string]time.Duration
}

// NewToleranceTable builds a table; override keys are matched case-insensitively.
func NewToleranceTable(overrides map[string]time.Duration) ToleranceTable {
	t := ToleranceTable{overrides: make(map[string]time.Duration, len(overrides))}
	for k, v := range overrides {
		t.overrides[strings.ToLower(k)] = v
	}
	return t
}

// For returns the tolerance for product: an explicit override first, then
// the slower METAR and alert cadences, then DefaultTolerance.
func (t ToleranceTable) For(product string) time.Duration {
	key := strings.ToLower(product)
	if d, ok := t.overrides[key]; ok {
		return d
	}
	return ToleranceFor(product)
}

// ToleranceFor returns the built-in tolerance for product.
func ToleranceFor(product string) time.Duration {
	key := strings.ToLower(product)
	switch {
	case strings.Contains(key, "metar"):
		return METARTolerance
	case strings.Contains(key, "alert"), strings.Contains(key, "warning"):
		return AlertTolerance
	default:
		return DefaultTolerance
	}
}
