// Package feedapi reads timestamp lists and overlay snapshots from the
// upstream weather feed service over REST.
package feedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
)

// maxImageBytes bounds a single snapshot download.
const maxImageBytes = 32 << 20

// Client implements domain.FeedClient.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a feed client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// ListPrimaryTimestamps returns the primary storm feed's timestamps.
func (c *Client) ListPrimaryTimestamps(ctx context.Context) ([]string, error) {
	return c.getList(ctx, c.baseURL+"/timestamps", "timestamps")
}

// ListProductTimestamps returns one product's timestamps.
func (c *Client) ListProductTimestamps(ctx context.Context, product string) ([]string, error) {
	u := fmt.Sprintf("%s/products/%s/timestamps", c.baseURL, url.PathEscape(product))
	return c.getList(ctx, u, "timestamps")
}

// ListAvailableProducts returns the product names the feed serves.
func (c *Client) ListAvailableProducts(ctx context.Context) ([]string, error) {
	return c.getList(ctx, c.baseURL+"/products", "products")
}

// FetchOverlayImage downloads one product snapshot.
func (c *Client) FetchOverlayImage(ctx context.Context, product, timestamp string) ([]byte, error) {
	u := fmt.Sprintf("%s/products/%s/%s", c.baseURL, url.PathEscape(product), url.PathEscape(timestamp))

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	img, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s/%s: %w", product, timestamp, err)
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("snapshot %s/%s: empty body", product, timestamp)
	}
	return img, nil
}

func (c *Client) get(ctx context.Context, fullURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", fullURL, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("feed API error: status %d: %s", resp.StatusCode, body)
	}
	return resp, nil
}

// getList decodes either a bare JSON string array or an object holding the
// array under key.
func (c *Client) getList(ctx context.Context, fullURL, key string) ([]string, error) {
	resp, err := c.get(ctx, fullURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	list, err := decodeList(body, key)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("feed list fetched", "url", fullURL, "count", len(list))
	return list, nil
}

func decodeList(body []byte, key string) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return list, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	raw, ok := wrapped[key]
	if !ok {
		return nil, fmt.Errorf("decode response: missing %q field", key)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode %q: %w", key, err)
	}
	return list, nil
}
