// Package canvas is an in-memory map surface. It implements
// overlay.Renderer and keeps the attached images so the HTTP adapter can
// serve whatever the map currently shows.
package canvas

import (
	"fmt"
	"sort"
	"sync"

	"github.com/couchcryptid/storm-timeline-sync/internal/overlay"
)

// Layer is one image drawn on the canvas.
type Layer struct {
	Product string
	Image   []byte
	Opacity float64
}

// Canvas holds the attached overlays keyed by handle.
type Canvas struct {
	mu     sync.RWMutex
	next   overlay.Handle
	layers map[overlay.Handle]Layer
}

// New creates an empty canvas.
func New() *Canvas {
	return &Canvas{layers: make(map[overlay.Handle]Layer)}
}

// Attach draws image for product and returns its new handle.
func (c *Canvas) Attach(product string, image []byte, opacity float64) (overlay.Handle, error) {
	if len(image) == 0 {
		return 0, fmt.Errorf("attach %s: empty image", product)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.layers[c.next] = Layer{Product: product, Image: image, Opacity: opacity}
	return c.next, nil
}

// Replace swaps the image under old for a new one in a single step, so the
// product is never shown twice or not at all. old is invalid afterwards.
func (c *Canvas) Replace(old overlay.Handle, image []byte, opacity float64) (overlay.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.layers[old]
	if !ok {
		return 0, fmt.Errorf("replace: unknown handle %d", old)
	}
	if len(image) == 0 {
		return 0, fmt.Errorf("replace %s: empty image", prev.Product)
	}
	delete(c.layers, old)
	c.next++
	c.layers[c.next] = Layer{Product: prev.Product, Image: image, Opacity: opacity}
	return c.next, nil
}

// SetOpacity changes a drawn overlay's opacity without redrawing it.
func (c *Canvas) SetOpacity(h overlay.Handle, opacity float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.layers[h]
	if !ok {
		return fmt.Errorf("set opacity: unknown handle %d", h)
	}
	l.Opacity = opacity
	c.layers[h] = l
	return nil
}

// Detach removes an overlay. Unknown handles are ignored.
func (c *Canvas) Detach(h overlay.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.layers, h)
}

// Layer returns the overlay currently drawn for product.
func (c *Canvas) Layer(product string) (Layer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, l := range c.layers {
		if l.Product == product {
			return l, true
		}
	}
	return Layer{}, false
}

// Products lists the products with an attached overlay.
func (c *Canvas) Products() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.layers))
	for _, l := range c.layers {
		out = append(out, l.Product)
	}
	sort.Strings(out)
	return out
}
