// Package timeline owns the shared timeline position and autoplay.
package timeline

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
	"github.com/couchcryptid/storm-timeline-sync/internal/events"
	"github.com/couchcryptid/storm-timeline-sync/internal/observability"
)

// DefaultPlaybackInterval is the autoplay step period.
const DefaultPlaybackInterval = time.Second

// State is a point-in-time view of the controller.
type State struct {
	Position  int                   `json:"position"`
	Frames    int                   `json:"frames"`
	Playing   bool                  `json:"playing"`
	Timestamp string                `json:"timestamp,omitempty"`
	Label     domain.TimestampLabel `json:"label"`
}

// Controller is the single source of truth for the timeline position, an
// index into the primary feed's sorted frames. The position stays within
// [0, len-1] whenever frames exist and is 0 otherwise.
type Controller struct {
	bus      *events.Bus
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	frames   []string
	position int
	playing  bool
}

// NewController creates a stopped controller with no frames.
func NewController(bus *events.Bus, clock clockwork.Clock, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Controller {
	if clock == nil {
		clock = domain.Clock()
	}
	if interval <= 0 {
		interval = DefaultPlaybackInterval
	}
	return &Controller{
		bus:      bus,
		clock:    clock,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// SetFrames replaces the primary frame list and clamps the position.
func (c *Controller) SetFrames(frames []string) {
	sorted := domain.SortTimestamps(frames)

	c.mu.Lock()
	changed := !slices.Equal(c.frames, sorted)
	c.frames = sorted
	moved := c.clampLocked()
	c.observeLocked()
	c.mu.Unlock()

	if changed {
		c.publish(events.TimestampsChanged)
	}
	if moved {
		c.publish(events.PositionChanged)
	}
}

// SetPosition moves to index i, clamped to the valid range.
func (c *Controller) SetPosition(i int) {
	c.mu.Lock()
	prev := c.position
	c.position = i
	c.clampLocked()
	moved := c.position != prev
	c.observeLocked()
	c.mu.Unlock()

	if moved {
		c.publish(events.PositionChanged)
	}
}

// Advance steps forward one frame. Playback stops once the last frame is
// reached. It reports whether the position moved.
func (c *Controller) Advance() bool {
	c.mu.Lock()
	n := len(c.frames)
	if n == 0 {
		c.mu.Unlock()
		return false
	}

	moved := false
	if c.position < n-1 {
		c.position++
		moved = true
	}
	stopped := false
	if c.position == n-1 && c.playing {
		c.playing = false
		stopped = true
	}
	c.observeLocked()
	c.mu.Unlock()

	if moved {
		c.publish(events.PositionChanged)
	}
	if stopped {
		c.logger.Debug("playback reached latest frame")
		c.publish(events.PlaybackChanged)
	}
	return moved
}

// JumpToLatest moves to the newest frame.
func (c *Controller) JumpToLatest() {
	c.mu.Lock()
	prev := c.position
	if n := len(c.frames); n > 0 {
		c.position = n - 1
	}
	moved := c.position != prev
	c.observeLocked()
	c.mu.Unlock()

	if moved {
		c.publish(events.PositionChanged)
	}
}

// Play starts autoplay. Starting from the last frame rewinds to the first.
func (c *Controller) Play() {
	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return
	}
	c.playing = true
	rewound := false
	if n := len(c.frames); n > 1 && c.position == n-1 {
		c.position = 0
		rewound = true
	}
	c.observeLocked()
	c.mu.Unlock()

	c.publish(events.PlaybackChanged)
	if rewound {
		c.publish(events.PositionChanged)
	}
}

// Pause stops autoplay.
func (c *Controller) Pause() {
	c.mu.Lock()
	was := c.playing
	c.playing = false
	c.observeLocked()
	c.mu.Unlock()

	if was {
		c.publish(events.PlaybackChanged)
	}
}

// Toggle flips autoplay and reports the new state.
func (c *Controller) Toggle() bool {
	if c.Playing() {
		c.Pause()
		return false
	}
	c.Play()
	return true
}

// Playing reports whether autoplay is active.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Current returns the timestamp at the current position.
func (c *Controller) Current() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return "", false
	}
	return c.frames[c.position], true
}

// Frames returns a copy of the primary frame list.
func (c *Controller) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{Position: c.position, Frames: len(c.frames), Playing: c.playing}
	if len(c.frames) > 0 {
		s.Timestamp = c.frames[c.position]
		s.Label = domain.Label(s.Timestamp)
	}
	return s
}

// Run drives autoplay until ctx is cancelled, advancing one frame per tick
// while playing. Manual SetPosition calls interleave freely; the next tick
// advances from wherever the position is.
func (c *Controller) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("playback loop started", "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("playback loop stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			if c.Playing() {
				c.Advance()
			}
		}
	}
}

func (c *Controller) clampLocked() bool {
	prev := c.position
	n := len(c.frames)
	switch {
	case n == 0, c.position < 0:
		c.position = 0
	case c.position > n-1:
		c.position = n - 1
	}
	return c.position != prev
}

func (c *Controller) observeLocked() {
	c.metrics.TimelinePosition.Set(float64(c.position))
	c.metrics.TimelineFrames.Set(float64(len(c.frames)))
	if c.playing {
		c.metrics.PlaybackActive.Set(1)
	} else {
		c.metrics.PlaybackActive.Set(0)
	}
}

func (c *Controller) publish(k events.Kind) {
	if c.bus != nil {
		c.bus.Publish(events.Event{Kind: k})
	}
}
