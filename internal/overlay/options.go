package overlay

import (
	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
)

// defaultSnapshotCacheSize bounds the number of fetched frames kept for
// scrubbing back over.
const defaultSnapshotCacheSize = 256

// defaultFetchConcurrency caps parallel snapshot fetches within one sync.
const defaultFetchConcurrency = 4

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithTolerances sets the per-product closest-match windows.
func WithTolerances(t domain.ToleranceTable) Option {
	return func(m *Manager) {
		m.tolerances = t
	}
}

// WithSnapshotCacheSize sets how many fetched frames are retained.
// A size <= 0 disables the snapshot cache.
func WithSnapshotCacheSize(n int) Option {
	return func(m *Manager) {
		m.cacheSize = n
	}
}

// WithFetchConcurrency caps parallel fetches within one sync.
func WithFetchConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.fetchConcurrency = n
		}
	}
}
