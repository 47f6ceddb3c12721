package notify_test

import (
	"testing"

	"codeberg.org/mutker/pvdash/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	hub := notify.NewHub()
	a, cancelA := hub.Subscribe(4)
	defer cancelA()
	b, cancelB := hub.Subscribe(4)
	defer cancelB()

	hub.Publish(notify.Event{Key: "X", Kind: notify.KindGauge})

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, notify.KindGauge, (<-a).Kind)
	assert.Equal(t, "X", string((<-b).Key))
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	hub := notify.NewHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Publish(notify.Event{Key: "A"})
	hub.Publish(notify.Event{Key: "B"})

	assert.Equal(t, uint64(1), hub.Dropped())
	assert.Equal(t, "A", string((<-ch).Key))
}

func TestCancelUnsubscribesAndCloses(t *testing.T) {
	hub := notify.NewHub()
	ch, cancel := hub.Subscribe(1)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, hub.Subscribers())

	hub.Publish(notify.Event{Key: "A"})
	assert.Zero(t, hub.Dropped())
}
