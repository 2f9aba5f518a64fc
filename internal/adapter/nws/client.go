// Package nws fetches alert zone shapes from the National Weather Service API.
package nws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
)

// DefaultBaseURL is the public NWS API root.
const DefaultBaseURL = "https://api.weather.gov"

// Client implements domain.ZoneFetcher.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates an NWS zone client. The API rejects requests without a
// User-Agent, so userAgent should identify the deployment.
func NewClient(baseURL, userAgent string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		logger:     logger,
	}
}

// zoneTypes returns the zone collections to try for a UGC code, in order.
// County codes (SSCnnn) live under county; zone codes (SSZnnn) are usually
// forecast zones and otherwise fire weather zones.
func zoneTypes(code string) []string {
	if len(code) == 6 && code[2] == 'C' {
		return []string{"county"}
	}
	return []string{"forecast", "fire"}
}

// FetchZoneGeometry returns the zone's geometry, nil if the zone has no
// shape, or domain.ErrNotFound if no collection knows the code.
func (c *Client) FetchZoneGeometry(ctx context.Context, code string) (orb.Geometry, error) {
	for _, kind := range zoneTypes(code) {
		g, err := c.fetch(ctx, kind, code)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		return g, err
	}
	return nil, fmt.Errorf("zone %s: %w", code, domain.ErrNotFound)
}

func (c *Client) fetch(ctx context.Context, kind, code string) (orb.Geometry, error) {
	u := fmt.Sprintf("%s/zones/%s/%s", c.baseURL, kind, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zone request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("NWS API error: status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	f, err := geojson.UnmarshalFeature(body)
	if err != nil {
		return nil, fmt.Errorf("decode zone feature: %w", err)
	}

	c.logger.Debug("zone fetched", "code", code, "type", kind, "has_geometry", f.Geometry != nil)
	return f.Geometry, nil
}
