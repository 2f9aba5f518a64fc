// Package events carries state-change notifications from the session and
// timeline to the components that react to them.
package events

import "sync"

// Kind identifies which piece of state changed.
type Kind int

const (
	PositionChanged Kind = iota + 1
	PlaybackChanged
	LayersChanged
	TimestampsChanged
	FeedUpdated
)

func (k Kind) String() string {
	switch k {
	case PositionChanged:
		return "position"
	case PlaybackChanged:
		return "playback"
	case LayersChanged:
		return "layers"
	case TimestampsChanged:
		return "timestamps"
	case FeedUpdated:
		return "feed_updated"
	default:
		return "unknown"
	}
}

// Event is a state change notification. Subscribers re-read current state
// rather than trusting any payload, so events carry only their kind.
type Event struct {
	Kind Kind
}

// Bus fans events out to subscribers. Publishing never blocks: each
// subscriber has a small buffer and drops events it has no room for, which
// is safe because a pending event already tells it to re-read state.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func unregisters it
// and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber with buffer space.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close unregisters all subscribers and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
