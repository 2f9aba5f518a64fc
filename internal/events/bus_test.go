package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(4)
	defer cancelA()
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	b.Publish(Event{Kind: PositionChanged})

	assert.Equal(t, PositionChanged, (<-a).Kind)
	assert.Equal(t, PositionChanged, (<-c).Kind)
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	for i := 0; i < 100; i++ {
		b.Publish(Event{Kind: LayersChanged})
	}

	assert.Len(t, ch, 1)
}

func TestBus_CancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(Event{Kind: PositionChanged})
}

func TestBus_Close(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	b.Close()
	cancel()

	_, ok := <-ch
	require.False(t, ok)

	late, _ := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "position", PositionChanged.String())
	assert.Equal(t, "feed_updated", FeedUpdated.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
