package overlay

// Handle identifies one overlay attached to the map.
type Handle uint64

// Renderer is the mapping surface overlays are drawn on. The Manager is the
// only caller, and every handle it gets back is detached exactly once.
type Renderer interface {
	// Attach draws image as product's overlay.
	Attach(product string, image []byte, opacity float64) (Handle, error)

	// Replace swaps old for a new overlay in one step, so the map never shows
	// both or neither. On error old stays attached.
	Replace(old Handle, image []byte, opacity float64) (Handle, error)

	// SetOpacity changes an attached overlay's opacity.
	SetOpacity(h Handle, opacity float64) error

	// Detach removes the overlay and frees its resources.
	Detach(h Handle)
}
