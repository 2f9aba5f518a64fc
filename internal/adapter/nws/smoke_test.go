//go:build nws

package nws

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
	"github.com/couchcryptid/storm-timeline-sync/internal/observability"
	"github.com/couchcryptid/storm-timeline-sync/internal/zone"
)

// These tests hit the real NWS API. Set NWS_USER_AGENT to a contact string.
// Run with: go test -tags=nws ./internal/adapter/nws/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	ua := os.Getenv("NWS_USER_AGENT")
	if ua == "" {
		ua = "storm-timeline-sync-smoke"
	}
	return NewClient(DefaultBaseURL, ua, 10*time.Second, observability.DiscardLogger())
}

func TestSmoke_CountyZone(t *testing.T) {
	g, err := smokeClient(t).FetchZoneGeometry(context.Background(), "TXC453")
	require.NoError(t, err)
	require.NotNil(t, g)

	// Travis County, TX.
	c, _ := planar.CentroidArea(g)
	assert.InDelta(t, 30.3, c.Lat(), 0.3)
	assert.InDelta(t, -97.8, c.Lon(), 0.3)
}

func TestSmoke_UnknownZone(t *testing.T) {
	_, err := smokeClient(t).FetchZoneGeometry(context.Background(), "TXC999")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSmoke_ResolverFromSAMECode(t *testing.T) {
	r := zone.NewResolver(smokeClient(t), observability.DiscardLogger(), observability.NewMetricsForTesting())

	// SAME 048453 is Travis County, TX.
	z1, ok := r.Resolve(context.Background(), "048453")
	require.True(t, ok)
	assert.Equal(t, "TXC453", z1.Code)

	// Second call is served from the cache.
	z2, ok := r.Resolve(context.Background(), "TXC453")
	require.True(t, ok)
	assert.Same(t, z1, z2)
}
